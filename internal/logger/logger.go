package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings, shared by the realm log and per-process logs.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config controls realm's own log output.
type Config struct {
	Level      string `mapstructure:"level" yaml:"level,omitempty"`   // debug|info|warn|error
	Format     string `mapstructure:"format" yaml:"format,omitempty"` // text|json
	Color      bool   `mapstructure:"color" yaml:"color"`
	File       string `mapstructure:"file" yaml:"file,omitempty"` // also write to this rotated file
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days,omitempty"`
	Compress   bool   `mapstructure:"compress" yaml:"compress,omitempty"`
}

// New builds a slog.Logger writing to w (stderr when nil) and, if File is
// set, to a lumberjack-rotated file as well. The file never gets colors.
func New(cfg Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var h slog.Handler
	switch {
	case strings.EqualFold(cfg.Format, "json"):
		h = slog.NewJSONHandler(w, opts)
	case cfg.Color:
		h = NewColorTextHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	if cfg.File == "" {
		return slog.New(h)
	}

	file := &lj.Logger{
		Filename:   cfg.File,
		MaxSize:    valOr(cfg.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(cfg.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(cfg.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   cfg.Compress,
	}
	var fh slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		fh = slog.NewJSONHandler(file, opts)
	} else {
		fh = slog.NewTextHandler(file, opts)
	}
	return slog.New(fanout{h, fh})
}

// ParseLevel maps a level name to slog.Level; unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
