package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) slog() slog.Level {
	switch Level(strings.ToLower(string(l))) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig controls the structured application logger.
type SlogConfig struct {
	Level      Level  `mapstructure:"level"`
	Format     Format `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`       // ANSI level colors, text format only
	TimeStamps bool   `mapstructure:"time_stamps"` // include the time attribute
	Source     bool   `mapstructure:"source"`      // include file:line
}

// FileConfig describes an optional rotating log file. Path wins over Dir;
// with only Dir set the file is Dir/<name>.log.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string `mapstructure:"dir"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // megabytes before rotation (default 10)
	MaxBackups int    `mapstructure:"max_backups"`  // number of backups to keep (default 3)
	MaxAgeDays int    `mapstructure:"max_age_days"` // days to keep (default 7)
	Compress   bool   `mapstructure:"compress"`     // Gzip rotated files
}

// Config is the [log] section.
type Config struct {
	Slog SlogConfig `mapstructure:",squash"`
	File FileConfig `mapstructure:"file"`
}

func DefaultConfig() Config {
	return Config{Slog: SlogConfig{Level: LevelInfo, Format: FormatText, TimeStamps: true}}
}

// Writer returns a rotating file writer for name, or nil when no file is configured.
func (c FileConfig) Writer(name string) io.WriteCloser {
	path := c.Path
	if path == "" && c.Dir != "" {
		path = filepath.Join(c.Dir, fmt.Sprintf("%s.log", name))
	}
	if path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// NewSlogger builds a logger writing to stderr and, if configured, to the log file.
func (c Config) NewSlogger() *slog.Logger {
	l, _ := c.NewSloggerTo(os.Stderr, "clogs")
	return l
}

// NewSloggerTo builds a logger writing to w and the configured file. The
// returned closer releases the file; it is nil when no file is configured.
func (c Config) NewSloggerTo(w io.Writer, name string) (*slog.Logger, io.Closer) {
	var closer io.Closer
	if fw := c.File.Writer(name); fw != nil {
		closer = fw
		if w == nil {
			w = fw
		} else {
			w = io.MultiWriter(w, fw)
		}
	}
	if w == nil {
		w = io.Discard
	}
	return slog.New(c.Slog.handler(w)), closer
}

func (s SlogConfig) handler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: s.Level.slog(), AddSource: s.Source}
	if !s.TimeStamps {
		opts.ReplaceAttr = dropTime
	}
	switch {
	case s.Format == FormatJSON:
		return slog.NewJSONHandler(w, opts)
	case s.Color:
		return NewColorTextHandler(w, opts, s.TimeStamps)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
