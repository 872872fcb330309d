package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/raysh454/pagewatch/internal/config"
)

// CLIArgs are the command-line arguments for a single run. Every flag is
// optional; unset flags leave the preset (or config file) value alone.
type CLIArgs struct {
	// Variant picks the preset: filtered (default) or unfiltered.
	Variant config.Variant

	// ConfigFile is an optional YAML overlay applied on top of the preset.
	ConfigFile string

	Target     string
	Duration   time.Duration
	Filter     []string
	Headless   *bool
	ServeAddr  string
	LogLevel   string
	ChromePath string

	// set records which flags were given explicitly.
	set map[string]bool
}

// ParseArgs parses a slice of args and returns CLIArgs. Use in tests by passing
// arbitrary slices. The function is deterministic and does not read os.Args.
func ParseArgs(args []string) (*CLIArgs, error) {
	fs := flag.NewFlagSet("pagewatch", flag.ContinueOnError)
	var (
		variant    = fs.String("variant", string(config.VariantFiltered), "Preset: filtered|unfiltered")
		cfgFile    = fs.String("config", "", "YAML file overlaid on the preset")
		target     = fs.String("target", "", "URL to open (default from preset)")
		duration   = fs.Duration("duration", 0, "Monitoring window after navigation, e.g. 10s")
		filter     = fs.String("filter", "", "Comma separated URL substrings to record")
		headless   = fs.Bool("headless", true, "Run the browser without a window")
		serveAddr  = fs.String("serve", "", "Serve a live view of the run on this address")
		logLevel   = fs.String("log-level", "", "debug|info|warn|error")
		chromePath = fs.String("chrome", "", "Path to the Chrome/Chromium executable")
	)

	// Ensure Parse doesn't write to stdout/stderr in tests
	fs.SetOutput(io.Discard)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["duration"] && *duration < 0 {
		return nil, fmt.Errorf("-duration must not be negative")
	}

	out := &CLIArgs{
		Variant:    config.Variant(strings.ToLower(strings.TrimSpace(*variant))),
		ConfigFile: *cfgFile,
		Target:     strings.TrimSpace(*target),
		Duration:   *duration,
		ServeAddr:  *serveAddr,
		LogLevel:   *logLevel,
		ChromePath: *chromePath,
		set:        set,
	}
	if set["filter"] {
		out.Filter = splitList(*filter)
	}
	if set["headless"] {
		h := *headless
		out.Headless = &h
	}
	return out, nil
}

// Apply copies every explicitly given flag onto cfg.
func (a *CLIArgs) Apply(cfg *config.Config) {
	if a.set["target"] {
		cfg.TargetURL = a.Target
	}
	if a.set["duration"] {
		cfg.MonitorDuration = a.Duration
	}
	if a.set["filter"] {
		cfg.Filter = a.Filter
	}
	if a.Headless != nil {
		cfg.Headless = *a.Headless
	}
	if a.set["serve"] {
		cfg.ServeAddr = a.ServeAddr
	}
	if a.set["log-level"] {
		cfg.Log.Level = a.LogLevel
	}
	if a.set["chrome"] {
		cfg.ChromePath = a.ChromePath
	}
}

// Build resolves the preset, overlays the config file and applies flags.
func (a *CLIArgs) Build() (*config.Config, error) {
	cfg, err := config.ForVariant(a.Variant)
	if err != nil {
		return nil, err
	}
	if a.ConfigFile != "" {
		if err := cfg.LoadFile(a.ConfigFile); err != nil {
			return nil, err
		}
	}
	a.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
