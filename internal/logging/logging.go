// Package logging builds the slog logger used by both binaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Options describes logger construction parameters.
type Options struct {
	Level string
	// Format is "console" (default) or "json".
	Format string
	Output io.Writer
	// Color forces colored output on or off; nil detects a terminal.
	Color *bool
}

// New constructs a slog logger. Console output goes through tint and is
// colored only when writing to a terminal.
func New(opts Options) (*slog.Logger, error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := ParseLevel(opts.Level)

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console":
		color := isTerminal(out)
		if opts.Color != nil {
			color = *opts.Color
		}
		return slog.New(tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !color,
		})), nil
	case "json":
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
