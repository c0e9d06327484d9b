// Package logging provides structured logging using slog.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Config holds logging configuration.
type Config struct {
	Format    string `yaml:"format"`     // "json" | "text"
	Level     string `yaml:"level"`      // "debug" | "info" | "warn" | "error"
	AddSource bool   `yaml:"add_source"` // annotate records with file:line
}

// Setup installs the global slog logger based on configuration.
func Setup(cfg Config) {
	slog.SetDefault(slog.New(NewHandler(cfg, os.Stdout)))
}

// NewHandler builds a handler for the configured format and level.
func NewHandler(cfg Config, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
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

// NewCycleID creates a short unique ID correlating all log lines emitted
// during one poll cycle.
func NewCycleID() string {
	return uuid.NewString()[:8]
}

// FileLogger returns a logger carrying per-file context fields.
func FileLogger(log *slog.Logger, bucket, key string) *slog.Logger {
	return log.With("bucket", bucket, "key", key)
}

// Component returns a logger with a component name.
func Component(name string) *slog.Logger {
	return slog.With("component", name)
}
