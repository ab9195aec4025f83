package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for the tool's own log file.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Output formats.
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatColor = "color"
)

// Config describes where xchainctl writes its own structured log.
// Node output is not handled here; nodes write their .out files directly.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text, json, color
	// File adds a rotating log file next to the console output.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ParseLevel maps a level name to slog.Level; empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// New builds the logger writing to console and, when configured, to a rotating file.
// The returned closer releases the file; it is never nil.
func New(cfg Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	if console != nil {
		switch strings.ToLower(cfg.Format) {
		case "", FormatText:
			handlers = append(handlers, slog.NewTextHandler(console, opts))
		case FormatJSON:
			handlers = append(handlers, slog.NewJSONHandler(console, opts))
		case FormatColor:
			handlers = append(handlers, NewColorTextHandler(console, opts, true))
		default:
			return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
		}
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		w := &lj.Logger{
			Filename:   cfg.File,
			MaxSize:    valOr(cfg.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(cfg.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(cfg.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   cfg.Compress,
		}
		closer = w
		// files always get JSON so they can be shipped
		handlers = append(handlers, slog.NewJSONHandler(w, opts))
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, opts)), closer, nil
	case 1:
		return slog.New(handlers[0]), closer, nil
	}
	return slog.New(multiHandler(handlers)), closer, nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// multiHandler fans records out to every handler that accepts the level.
type multiHandler []slog.Handler

func (m multiHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithGroup(name)
	}
	return out
}
