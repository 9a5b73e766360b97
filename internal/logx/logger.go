// Package logx builds the process logger: a log/slog text or JSON handler
// writing to stderr or to a size/day rotating file.
package logx

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/r9s-ai/openclash-overwrite/pkg/config"
)

// Options selects level, format and destination.
type Options struct {
	Level  string
	Format string
	// Path is a log file; Writer (or stderr) is used when empty.
	Path   string
	Rotate config.LogRotateConfig
	// Verbose forces debug level.
	Verbose bool
	Writer  io.Writer
}

// FromConfig maps the logging section of the tool config to Options.
func FromConfig(c config.LoggingConfig, verbose bool) Options {
	return Options{
		Level:   c.Level,
		Format:  c.Format,
		Path:    c.Path,
		Rotate:  c.Rotate,
		Verbose: verbose,
	}
}

// ParseLevel accepts debug, info, warn/warning and error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a logger. The returned closer releases the log file, if any.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}

	var (
		w      io.Writer = opts.Writer
		closer io.Closer = nopCloser{}
	)
	if w == nil {
		w = os.Stderr
	}
	if p := strings.TrimSpace(opts.Path); p != "" {
		if opts.Rotate.Enabled {
			rw, err := NewRotateWriter(RotateOptions{
				Path:       p,
				MaxSizeMB:  opts.Rotate.MaxSizeMB,
				MaxBackups: opts.Rotate.MaxBackups,
				MaxAgeDays: opts.Rotate.MaxAgeDays,
				Compress:   opts.Rotate.Compress,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("open log %s: %w", p, err)
			}
			w, closer = rw, rw
		} else {
			// #nosec G304 -- path comes from the tool config.
			f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
			if err != nil {
				return nil, nil, fmt.Errorf("open log %s: %w", p, err)
			}
			w, closer = f, f
		}
	}

	ho := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "json":
		h = slog.NewJSONHandler(w, ho)
	case "", "text":
		h = slog.NewTextHandler(w, ho)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	return slog.New(h), closer, nil
}
