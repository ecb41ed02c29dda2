// Package logging provides structured logging for edudoc using Go's slog
// package. Logs go to stderr so converted documents can be written to stdout.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/edudoc/core/errors"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

const (
	// RunIDKey is the context key for the ID of one CLI invocation or batch.
	RunIDKey ContextKey = "run_id"
)

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	output        io.Writer = os.Stderr
)

func init() {
	InitLogger(LevelInfo, FormatText)
}

// Level represents a log level.
type Level int

const (
	// LevelDebug is for debug messages.
	LevelDebug Level = iota
	// LevelInfo is for informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// ParseLevel maps a flag value to a Level. Unknown names give LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format represents a log output format.
type Format int

const (
	// FormatJSON outputs logs in JSON format.
	FormatJSON Format = iota
	// FormatText outputs logs in human-readable text format.
	FormatText
)

// ParseFormat maps a flag value to a Format; anything but "json" is text.
func ParseFormat(s string) Format {
	if strings.EqualFold(s, "json") {
		return FormatJSON
	}
	return FormatText
}

// SetOutput changes where subsequently initialised loggers write.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// InitLogger initializes the global logger with the specified level and format.
func InitLogger(level Level, format Format) {
	var slogLevel slog.Level
	switch level {
	case LevelDebug:
		slogLevel = slog.LevelDebug
	case LevelInfo:
		slogLevel = slog.LevelInfo
	case LevelWarn:
		slogLevel = slog.LevelWarn
	case LevelError:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	mu.Lock()
	defer mu.Unlock()
	var handler slog.Handler
	if format == FormatJSON {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// GetLogger returns the global logger instance.
func GetLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// NewRunID returns a fresh random run ID.
func NewRunID() string {
	return uuid.NewString()
}

// WithRunID adds a run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID retrieves the run ID from the context.
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

// LoggerFromContext returns a logger with context values attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	logger := GetLogger()
	if id := GetRunID(ctx); id != "" {
		logger = logger.With("run_id", id)
	}
	return logger
}

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) {
	GetLogger().Debug(msg, args...)
}

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) {
	GetLogger().Info(msg, args...)
}

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) {
	GetLogger().Warn(msg, args...)
}

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) {
	GetLogger().Error(msg, args...)
}

// DebugContext logs a debug message with context.
func DebugContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).Debug(msg, args...)
}

// InfoContext logs an info message with context.
func InfoContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).Info(msg, args...)
}

// WarnContext logs a warning message with context.
func WarnContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).Warn(msg, args...)
}

// ErrorContext logs an error message with context.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).Error(msg, args...)
}

// Conversion logs one finished conversion. Conversions with errors are
// logged at warn level.
func Conversion(ctx context.Context, name, from, to string, duration time.Duration, errs, warnings int, args ...any) {
	allArgs := []any{
		"name", name,
		"from", from,
		"to", to,
		"duration_ms", duration.Milliseconds(),
		"errors", errs,
		"warnings", warnings,
	}
	allArgs = append(allArgs, args...)
	logger := LoggerFromContext(ctx)
	if errs > 0 {
		logger.Warn("conversion", allArgs...)
		return
	}
	logger.Info("conversion", allArgs...)
}

// Fidelity logs a round trip outcome.
func Fidelity(ctx context.Context, format string, score float64, lossClass string, passed bool, args ...any) {
	allArgs := []any{
		"format", format,
		"score", score,
		"loss_class", lossClass,
		"passed", passed,
	}
	allArgs = append(allArgs, args...)
	LoggerFromContext(ctx).Info("fidelity", allArgs...)
}

// Issues logs each issue. Security findings go through SecurityEvent and
// warnings are logged at debug level.
func Issues(ctx context.Context, component string, issues errors.Issues) {
	logger := LoggerFromContext(ctx)
	for _, is := range issues {
		args := []any{"code", is.Code, "message", is.Message}
		if is.Line > 0 {
			args = append(args, "line", is.Line)
		}
		if is.Suggestion != "" {
			args = append(args, "block", is.Suggestion)
		}
		switch {
		case is.Category == errors.CategorySecurity:
			SecurityEvent(is.Code, component, args[2:]...)
		case is.IsError():
			logger.Info("issue", append([]any{"component", component}, args...)...)
		default:
			logger.Debug("issue", append([]any{"component", component}, args...)...)
		}
	}
}

// SecurityEvent logs security-related events.
func SecurityEvent(event, component string, args ...any) {
	allArgs := []any{
		"event", event,
		"component", component,
	}
	allArgs = append(allArgs, args...)
	GetLogger().Warn("security_event", allArgs...)
}
