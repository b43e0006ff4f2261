// Package logging wraps log/slog with the service's defaults.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"automacro/internal/config"
)

// Logger is a slog.Logger whose level can be changed after construction.
// All methods are safe for concurrent use.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New builds a logger from the logging section. version is attached to every record.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	default:
		output = os.Stderr
	}
	return newLogger(output, cfg, version)
}

func newLogger(output io.Writer, cfg config.LoggingConfig, version string) *Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", config.AppName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler), level: level}
}

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

// SetLevel changes the level of this logger and every logger derived from it.
func (l *Logger) SetLevel(level string) {
	l.level.Set(parseLevel(level))
}

// With returns a child logger sharing the parent's level.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// Component is shorthand for With("component", name).
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is a text logger on stderr at info level, for use before config loads.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "text", Output: "stderr"}, "dev")
}

// Discard drops everything; tests use it.
func Discard() *Logger {
	return newLogger(io.Discard, config.LoggingConfig{Level: "error"}, "test")
}
