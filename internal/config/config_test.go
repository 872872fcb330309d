package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raysh454/pagewatch/internal/artifacts"
)

func TestPresets(t *testing.T) {
	t.Parallel()
	f := Filtered()
	if f.TargetURL != ScheduleURL || f.MonitorDuration != 10*time.Second || !f.Headless || !f.Persist {
		t.Errorf("unexpected filtered preset: %+v", f)
	}
	if f.Naming != artifacts.NamingFixed || f.EventsFile == "" {
		t.Errorf("filtered preset should use fixed names and an events file: %+v", f)
	}
	if err := f.Validate(); err != nil {
		t.Errorf("filtered preset invalid: %v", err)
	}

	u := Unfiltered()
	if u.TargetURL != SolidWasteURL || u.MonitorDuration != 30*time.Second || u.Headless || u.Persist || !u.LogAllTraffic {
		t.Errorf("unexpected unfiltered preset: %+v", u)
	}
	if len(u.Filter) != 0 || !u.URLFilter()("https://anything.test/x.js") {
		t.Error("unfiltered preset must accept all traffic")
	}
	if err := u.Validate(); err != nil {
		t.Errorf("unfiltered preset invalid: %v", err)
	}

	// presets must not share the allow-list backing array
	f.Filter[0] = "changed"
	if Filtered().Filter[0] != "recollect.net" {
		t.Error("Filtered() returned shared filter slice")
	}
}

func TestForVariant(t *testing.T) {
	t.Parallel()
	for _, v := range []Variant{"", "filtered", "FILTERED"} {
		c, err := ForVariant(v)
		if err != nil || c.Variant != VariantFiltered {
			t.Errorf("ForVariant(%q) = %v, %v", v, c, err)
		}
	}
	if c, err := ForVariant("unfiltered"); err != nil || c.Variant != VariantUnfiltered {
		t.Errorf("ForVariant(unfiltered) = %v, %v", c, err)
	}
	if _, err := ForVariant("sideways"); err == nil {
		t.Error("expected error for unknown variant")
	}
}

func TestEffectiveOperationTimeout(t *testing.T) {
	t.Parallel()
	c := &Config{MonitorDuration: 30 * time.Second, NavigationTimeout: 60 * time.Second}
	if got := c.EffectiveOperationTimeout(); got != 90*time.Second {
		t.Errorf("expected floor of 90s, got %s", got)
	}
	c.OperationTimeout = 2 * time.Minute
	if got := c.EffectiveOperationTimeout(); got != 2*time.Minute {
		t.Errorf("expected explicit 2m, got %s", got)
	}
	c.OperationTimeout = time.Second
	if got := c.EffectiveOperationTimeout(); got != 90*time.Second {
		t.Errorf("expected too-small timeout raised to 90s, got %s", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"zero duration ok", func(c *Config) { c.MonitorDuration = 0 }, ""},
		{"empty url", func(c *Config) { c.TargetURL = "" }, "required"},
		{"relative url", func(c *Config) { c.TargetURL = "/solidwaste" }, "http or https"},
		{"ftp url", func(c *Config) { c.TargetURL = "ftp://example.test/" }, "http or https"},
		{"no host", func(c *Config) { c.TargetURL = "https:///path" }, "no host"},
		{"bad host", func(c *Config) { c.TargetURL = "https://bad_host.test/" }, "host"},
		{"negative duration", func(c *Config) { c.MonitorDuration = -time.Second }, "negative"},
		{"negative timeout", func(c *Config) { c.NavigationTimeout = -time.Second }, "negative"},
		{"no dir", func(c *Config) { c.ScreenshotDir = " " }, "screenshot directory"},
		{"bad naming", func(c *Config) { c.Naming = "daily" }, "naming"},
		{"persist without file", func(c *Config) { c.EventsFile = "" }, "events file"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Filtered()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadFile_OverlaysPreset(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "pagewatch.yaml")
	doc := `
target_url: https://example.test/page
monitor_duration: 2s
filter: [api]
naming: timestamped
log:
  level: debug
  writers: [json]
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c := Filtered()
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.TargetURL != "https://example.test/page" || c.MonitorDuration != 2*time.Second {
		t.Errorf("overlay not applied: %+v", c)
	}
	if len(c.Filter) != 1 || c.Filter[0] != "api" {
		t.Errorf("filter not replaced: %v", c.Filter)
	}
	if c.Naming != artifacts.NamingTimestamped || c.Log.Level != "debug" {
		t.Errorf("nested values not applied: %+v", c)
	}
	if !c.Persist || c.EventsFile != "./api_calls.json" || c.NavigationTimeout != 15*time.Second {
		t.Errorf("keys absent from the file must keep preset values: %+v", c)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := Filtered().LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	unknown := filepath.Join(dir, "unknown.yaml")
	_ = os.WriteFile(unknown, []byte("colour: blue\n"), 0644)
	if err := Filtered().LoadFile(unknown); err == nil {
		t.Error("expected error for unknown key")
	}

	empty := filepath.Join(dir, "empty.yaml")
	_ = os.WriteFile(empty, nil, 0644)
	if err := Filtered().LoadFile(empty); err != nil {
		t.Errorf("empty file should be a no-op, got %v", err)
	}
}
