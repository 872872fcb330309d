package artifacts

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestScreenshotPath_Fixed(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir(), NamingFixed)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	for kind, want := range map[Kind]string{KindInitial: "initial.png", KindFinal: "final.png", KindError: "error.png"} {
		if got := filepath.Base(s.ScreenshotPath(kind, time.Now())); got != want {
			t.Errorf("%s: got %s, want %s", kind, got, want)
		}
	}
}

func TestScreenshotPath_Timestamped(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir(), NamingTimestamped)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	at := time.Date(2024, 5, 1, 13, 4, 5, 123_000_000, time.UTC)
	tests := map[Kind]string{
		KindInitial: "screenshot-2024-05-01T13-04-05-123Z.png",
		KindFinal:   "final-2024-05-01T13-04-05-123Z.png",
		KindError:   "error-2024-05-01T13-04-05-123Z.png",
	}
	for kind, want := range tests {
		if got := filepath.Base(s.ScreenshotPath(kind, at)); got != want {
			t.Errorf("%s: got %s, want %s", kind, got, want)
		}
	}
}

func TestScreenshotPath_TimestampedSameSecondDiffers(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir(), NamingTimestamped)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	first := time.Date(2024, 5, 1, 13, 4, 5, 1_000_000, time.UTC)
	second := first.Add(998 * time.Millisecond)
	a, b := s.ScreenshotPath(KindFinal, first), s.ScreenshotPath(KindFinal, second)
	if a == b {
		t.Fatalf("screenshots taken in the same second share a name: %s", a)
	}
	if got := filepath.Base(b); got != "final-2024-05-01T13-04-05-999Z.png" {
		t.Errorf("got %s", got)
	}
	if stem := strings.TrimSuffix(filepath.Base(a), ".png"); strings.ContainsAny(stem, ":.") {
		t.Errorf("unsafe file name %s", a)
	}
}

func TestNewStore_CreatesDirectoryAndRejectsBadInput(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "nested", "screenshots")
	s, err := NewStore(dir, "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if s.naming != NamingFixed {
		t.Errorf("expected default naming fixed, got %s", s.naming)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}

	if _, err := NewStore("", NamingFixed); err == nil {
		t.Error("expected error for empty dir")
	}
	if _, err := NewStore(t.TempDir(), "random"); err == nil {
		t.Error("expected error for unknown naming")
	}
}

func TestSaveScreenshot_WritesBytes(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir(), NamingFixed)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	png := []byte{0x89, 'P', 'N', 'G'}
	path, err := s.SaveScreenshot(KindFinal, png)
	if err != nil {
		t.Fatalf("SaveScreenshot: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, png) {
		t.Errorf("content mismatch: %v", got)
	}
}

func TestSaveScreenshot_FailsWhenDirectoryIsAFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := NewStore(dir, NamingFixed)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	// a directory squatting on the target name makes the rename fail
	if err := os.Mkdir(filepath.Join(dir, "final.png"), 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := s.SaveScreenshot(KindFinal, []byte("x")); err == nil {
		t.Fatal("expected write error")
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestSaveJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out", "api_calls.json")
	if err := SaveJSON(path, []byte("[]\n")); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}
	got, _ := os.ReadFile(path)
	if strings.TrimSpace(string(got)) != "[]" {
		t.Errorf("unexpected content %q", got)
	}
	if err := SaveJSON("", nil); err == nil {
		t.Error("expected error for empty path")
	}
}
