// Package config holds the recorder's run configuration and its two presets.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/raysh454/pagewatch/internal/artifacts"
	"github.com/raysh454/pagewatch/internal/logging"
	"github.com/raysh454/pagewatch/internal/netlog"
	"golang.org/x/net/idna"
	"gopkg.in/yaml.v3"
)

// Variant names a preset.
type Variant string

const (
	// VariantFiltered records allow-listed traffic headlessly and writes it to JSON.
	VariantFiltered Variant = "filtered"
	// VariantUnfiltered shows the browser and logs all traffic without persisting it.
	VariantUnfiltered Variant = "unfiltered"
)

const (
	ScheduleURL   = "https://www.houstontx.gov/solidwaste/collection-schedule.html"
	SolidWasteURL = "https://www.houstontx.gov/solidwaste/"
)

// DefaultFilter is the allow-list used by the filtered variant.
var DefaultFilter = []string{"recollect.net", "collection_schedule", "trash_pickup"}

// Config is everything one session needs.
type Config struct {
	Variant Variant `yaml:"-"`

	TargetURL       string        `yaml:"target_url"`
	MonitorDuration time.Duration `yaml:"monitor_duration"`
	// Filter is a substring allow-list; empty records everything.
	Filter   []string `yaml:"filter"`
	Headless bool     `yaml:"headless"`
	// Persist writes recorded events to EventsFile at the end of the run.
	Persist bool `yaml:"persist"`
	// LogAllTraffic logs every request/response, recorded or not.
	LogAllTraffic bool `yaml:"log_all_traffic"`

	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	// OperationTimeout bounds screenshots and other page operations. Zero
	// means MonitorDuration + NavigationTimeout.
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	IdleAfter        time.Duration `yaml:"idle_after"`
	BodyTimeout      time.Duration `yaml:"body_timeout"`

	ScreenshotDir string           `yaml:"screenshot_dir"`
	Naming        artifacts.Naming `yaml:"naming"`
	EventsFile    string           `yaml:"events_file"`

	ChromePath string `yaml:"chrome_path"`
	// ServeAddr enables the live view when non-empty, e.g. "127.0.0.1:8080".
	ServeAddr string `yaml:"serve_addr"`

	Log logging.Config `yaml:"log"`
}

// Filtered returns the preset that watches the collection schedule page.
func Filtered() *Config {
	return &Config{
		Variant:           VariantFiltered,
		TargetURL:         ScheduleURL,
		MonitorDuration:   10 * time.Second,
		Filter:            append([]string(nil), DefaultFilter...),
		Headless:          true,
		Persist:           true,
		NavigationTimeout: 15 * time.Second,
		IdleAfter:         500 * time.Millisecond,
		BodyTimeout:       10 * time.Second,
		ScreenshotDir:     "./screenshots",
		Naming:            artifacts.NamingFixed,
		EventsFile:        "./api_calls.json",
		Log:               logging.DefaultConfig(),
	}
}

// Unfiltered returns the preset that opens a visible browser on the solid
// waste landing page and logs everything it sees.
func Unfiltered() *Config {
	return &Config{
		Variant:           VariantUnfiltered,
		TargetURL:         SolidWasteURL,
		MonitorDuration:   30 * time.Second,
		Headless:          false,
		LogAllTraffic:     true,
		NavigationTimeout: 60 * time.Second,
		IdleAfter:         500 * time.Millisecond,
		BodyTimeout:       10 * time.Second,
		ScreenshotDir:     "./screenshots",
		Naming:            artifacts.NamingTimestamped,
		Log:               logging.DefaultConfig(),
	}
}

// ForVariant returns the preset named v; empty means filtered.
func ForVariant(v Variant) (*Config, error) {
	switch Variant(strings.ToLower(string(v))) {
	case VariantFiltered, "":
		return Filtered(), nil
	case VariantUnfiltered:
		return Unfiltered(), nil
	default:
		return nil, fmt.Errorf("unknown variant %q (want %s or %s)", v, VariantFiltered, VariantUnfiltered)
	}
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// URLFilter builds the recorder filter from Filter.
func (c *Config) URLFilter() netlog.URLFilter {
	return netlog.Substrings(c.Filter...)
}

// EffectiveOperationTimeout never lets a page operation time out before the
// monitoring window and navigation could have finished.
func (c *Config) EffectiveOperationTimeout() time.Duration {
	floor := c.MonitorDuration + c.NavigationTimeout
	if c.OperationTimeout < floor {
		return floor
	}
	return c.OperationTimeout
}

// Validate reports the first problem that would make a run meaningless.
func (c *Config) Validate() error {
	if err := ValidateTargetURL(c.TargetURL); err != nil {
		return err
	}
	if c.MonitorDuration < 0 {
		return fmt.Errorf("monitor duration must not be negative, got %s", c.MonitorDuration)
	}
	if c.NavigationTimeout < 0 || c.OperationTimeout < 0 || c.IdleAfter < 0 || c.BodyTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if strings.TrimSpace(c.ScreenshotDir) == "" {
		return errors.New("screenshot directory is required")
	}
	switch c.Naming {
	case artifacts.NamingFixed, artifacts.NamingTimestamped, "":
	default:
		return fmt.Errorf("unknown screenshot naming %q", c.Naming)
	}
	if c.Persist && strings.TrimSpace(c.EventsFile) == "" {
		return errors.New("events file is required when persisting")
	}
	return nil
}

// ValidateTargetURL accepts absolute http(s) URLs with a host that converts
// to ASCII under IDNA lookup rules.
func ValidateTargetURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("target url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse target url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target url %q must be http or https", raw)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("target url %q has no host", raw)
	}
	if _, err := idna.Lookup.ToASCII(u.Hostname()); err != nil {
		return fmt.Errorf("target url host %q: %w", u.Hostname(), err)
	}
	return nil
}
