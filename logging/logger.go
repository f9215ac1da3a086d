// Package logging builds the slog loggers used across accesswatch.
//
// Components accept a *slog.Logger through a SetLogger method. When none is
// given they fall back to Nop, so library code never writes to the process
// default logger unless the binary asked it to.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type Config struct {
	Level  slog.Level
	Format Format
	// Output defaults to os.Stdout.
	Output io.Writer
}

// New creates a logger from cfg.
func New(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	default:
		handler = slog.NewTextHandler(cfg.Output, opts)
	}
	return slog.New(handler)
}

// Init builds a logger from string settings and installs it as the slog
// default. level: "debug", "info", "warn", "error" (defaults to "info").
// format: "json" or "text" (defaults to "text").
func Init(level, format string) *slog.Logger {
	logger := New(Config{Level: ParseLevel(level), Format: Format(strings.ToLower(format))})
	slog.SetDefault(logger)
	return logger
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
