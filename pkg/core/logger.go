package core

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger provides structured logging capabilities
// This abstraction allows swapping logging implementations
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an informational message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, args ...any)

	// WithFields returns a new logger with structured fields
	// Fields are included in all subsequent log entries
	WithFields(fields map[string]any) Logger
}

// LoggerConfig configures logger behavior
type LoggerConfig struct {
	// JSONOutput enables JSON structured output
	JSONOutput bool
	// Level sets the minimum log level (DEBUG, INFO, WARN, ERROR)
	Level string
	// Output is where entries are written. Defaults to os.Stderr.
	Output io.Writer
}

// slogLogger implements Logger on top of log/slog
type slogLogger struct {
	logger *slog.Logger
}

// NewLogger creates a new logger with configuration
func NewLogger(config LoggerConfig) Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(config.Level)}

	var handler slog.Handler
	if config.JSONOutput {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return &slogLogger{logger: slog.New(handler)}
}

// NewDefaultLogger creates a text logger at INFO level on stderr
func NewDefaultLogger() Logger {
	return NewLogger(LoggerConfig{Level: "INFO"})
}

// NopLogger returns a Logger that discards all output
func NopLogger() Logger {
	return &slogLogger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel converts a level string to slog.Level, defaulting to INFO
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *slogLogger) Debug(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelDebug, msg, args...)
}

func (l *slogLogger) Info(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelInfo, msg, args...)
}

func (l *slogLogger) Warn(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelWarn, msg, args...)
}

func (l *slogLogger) Error(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelError, msg, args...)
}

func (l *slogLogger) WithFields(fields map[string]any) Logger {
	if len(fields) == 0 {
		return l
	}
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &slogLogger{logger: l.logger.With(args...)}
}

// Package-level logger instance used when a component is given no logger
var (
	defaultLoggerMu       sync.RWMutex
	defaultLoggerInstance Logger = NewDefaultLogger()
)

// DefaultLogger returns the package-level logger
func DefaultLogger() Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLoggerInstance
}

// SetDefaultLogger replaces the package-level logger. A nil logger is ignored.
func SetDefaultLogger(l Logger) {
	if l == nil {
		return
	}
	defaultLoggerMu.Lock()
	defaultLoggerInstance = l
	defaultLoggerMu.Unlock()
}
