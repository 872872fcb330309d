// Package artifacts writes a run's screenshots and event log to disk.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Naming selects how screenshot files are named.
type Naming string

const (
	// NamingFixed overwrites initial.png, final.png and error.png each run.
	NamingFixed Naming = "fixed"
	// NamingTimestamped keeps every run: screenshot-<ts>.png, final-<ts>.png, error-<ts>.png.
	NamingTimestamped Naming = "timestamped"
)

// Kind is the point in the session a screenshot was taken.
type Kind string

const (
	KindInitial Kind = "initial"
	KindFinal   Kind = "final"
	KindError   Kind = "error"
)

// fileStampLayout is ISO 8601 in UTC with milliseconds. fileStamp replaces
// ':' and '.' so the result is safe in file names on every platform.
const fileStampLayout = "2006-01-02T15:04:05.000Z"

var fileStampReplacer = strings.NewReplacer(":", "-", ".", "-")

func fileStamp(t time.Time) string {
	return fileStampReplacer.Replace(t.UTC().Format(fileStampLayout))
}

// Store writes screenshots into one directory.
type Store struct {
	dir    string
	naming Naming
	now    func() time.Time
}

// NewStore creates dir if needed.
func NewStore(dir string, naming Naming) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("screenshot directory is empty")
	}
	switch naming {
	case NamingFixed, NamingTimestamped:
	case "":
		naming = NamingFixed
	default:
		return nil, fmt.Errorf("unknown screenshot naming %q", naming)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create screenshot directory %s: %w", dir, err)
	}
	return &Store{dir: dir, naming: naming, now: time.Now}, nil
}

// ScreenshotPath returns where a screenshot of kind taken at t is written.
func (s *Store) ScreenshotPath(kind Kind, t time.Time) string {
	if s.naming == NamingFixed {
		return filepath.Join(s.dir, string(kind)+".png")
	}
	prefix := string(kind)
	if kind == KindInitial {
		prefix = "screenshot"
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s.png", prefix, fileStamp(t)))
}

// SaveScreenshot writes png and returns its path.
func (s *Store) SaveScreenshot(kind Kind, png []byte) (string, error) {
	path := s.ScreenshotPath(kind, s.now())
	if err := AtomicWriteFile(path, png, 0644); err != nil {
		return path, fmt.Errorf("write screenshot %s: %w", path, err)
	}
	return path, nil
}

// SaveJSON writes an already-encoded document to path.
func SaveJSON(path string, data []byte) error {
	if err := AtomicWriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
