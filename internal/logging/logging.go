package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Writer names accepted in Config.Writers.
const (
	WriterConsole = "console"
	WriterJSON    = "json"
	WriterFile    = "file"
)

// Config controls where log lines go and how verbose they are.
type Config struct {
	Level   string     `yaml:"level"`
	Writers []string   `yaml:"writers"`
	File    FileConfig `yaml:"file"`
}

// FileConfig configures the rotating file writer.
type FileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// DefaultConfig logs human-readable lines to stdout at info level.
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Writers: []string{WriterConsole},
		File: FileConfig{
			Path:       "pagewatch.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// ZeroLogger implements Logger on top of zerolog.
type ZeroLogger struct {
	zl     zerolog.Logger
	closer io.Closer
}

// New builds a ZeroLogger from cfg. component is attached to every line.
// Call Close when done so a file writer is flushed.
func New(cfg Config, component string) (*ZeroLogger, error) {
	level := zerolog.InfoLevel
	if strings.TrimSpace(cfg.Level) != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		level = l
	}

	writers := cfg.Writers
	if len(writers) == 0 {
		writers = []string{WriterConsole}
	}

	var (
		outs   []io.Writer
		closer io.Closer
	)
	for _, w := range writers {
		switch strings.ToLower(strings.TrimSpace(w)) {
		case WriterConsole:
			outs = append(outs, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		case WriterJSON:
			outs = append(outs, os.Stdout)
		case WriterFile:
			if cfg.File.Path == "" {
				return nil, fmt.Errorf("file log writer requires a path")
			}
			lj := &lumberjack.Logger{
				Filename:   cfg.File.Path,
				MaxSize:    cfg.File.MaxSizeMB,
				MaxBackups: cfg.File.MaxBackups,
				MaxAge:     cfg.File.MaxAgeDays,
				Compress:   cfg.File.Compress,
			}
			outs = append(outs, lj)
			closer = lj
		default:
			return nil, fmt.Errorf("unknown log writer %q", w)
		}
	}

	var out io.Writer = outs[0]
	if len(outs) > 1 {
		out = zerolog.MultiLevelWriter(outs...)
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if component != "" {
		zl = zl.With().Str("component", component).Logger()
	}
	return &ZeroLogger{zl: zl, closer: closer}, nil
}

// NewStdoutLogger returns a JSON-lines logger on stdout, mostly for tests and
// early startup before configuration is read.
func NewStdoutLogger(component string) *ZeroLogger {
	zl := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if component != "" {
		zl = zl.With().Str("component", component).Logger()
	}
	return &ZeroLogger{zl: zl}
}

// NewWriterLogger logs JSON lines to w at debug level.
func NewWriterLogger(w io.Writer) *ZeroLogger {
	return &ZeroLogger{zl: zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()}
}

func (z *ZeroLogger) log(ev *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		switch v := f.Value.(type) {
		case error:
			ev = ev.AnErr(f.Key, v)
		case fmt.Stringer:
			ev = ev.Stringer(f.Key, v)
		default:
			ev = ev.Interface(f.Key, v)
		}
	}
	ev.Msg(msg)
}

func (z *ZeroLogger) Debug(msg string, fields ...Field) {
	z.log(z.zl.Debug(), msg, fields)
}

func (z *ZeroLogger) Info(msg string, fields ...Field) {
	z.log(z.zl.Info(), msg, fields)
}

func (z *ZeroLogger) Warn(msg string, fields ...Field) {
	z.log(z.zl.Warn(), msg, fields)
}

func (z *ZeroLogger) Error(msg string, fields ...Field) {
	z.log(z.zl.Error(), msg, fields)
}

// With returns a child logger carrying fields on every line. The child shares
// the parent's writers; only the parent should be closed.
func (z *ZeroLogger) With(fields ...Field) Logger {
	ctx := z.zl.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &ZeroLogger{zl: ctx.Logger()}
}

// Close flushes and closes the file writer, if any.
func (z *ZeroLogger) Close() error {
	if z.closer == nil {
		return nil
	}
	return z.closer.Close()
}
