package firefly

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
)

// Logger interface for logging.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// ContextLogger is a Logger that can be bound to a context, so handlers
// see the values it carries, such as the active trace span.
type ContextLogger interface {
	Logger
	WithContext(ctx context.Context) Logger
}

// LoggerWithContext binds logger to ctx when it supports it and returns it
// unchanged otherwise.
func LoggerWithContext(ctx context.Context, logger Logger) Logger {
	if contextLogger, ok := logger.(ContextLogger); ok && ctx != nil {
		return contextLogger.WithContext(ctx)
	}

	return loggerOrNop(logger)
}

// SlogLogger adapts a *slog.Logger to Logger.
type SlogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

// NewSlogLogger wraps logger. A nil logger uses slog.Default().
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}

	return &SlogLogger{logger: logger}
}

// WithContext returns a copy of the logger that passes ctx to the handler.
func (l *SlogLogger) WithContext(ctx context.Context) Logger {
	return &SlogLogger{logger: l.logger, ctx: ctx}
}

// Debug logs at debug level.
func (l *SlogLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(slog.LevelDebug, msg, fields)
}

// Info logs at info level.
func (l *SlogLogger) Info(msg string, fields map[string]interface{}) {
	l.log(slog.LevelInfo, msg, fields)
}

// Warn logs at warn level.
func (l *SlogLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(slog.LevelWarn, msg, fields)
}

// Error logs at error level.
func (l *SlogLogger) Error(msg string, fields map[string]interface{}) {
	l.log(slog.LevelError, msg, fields)
}

func (l *SlogLogger) log(level slog.Level, msg string, fields map[string]interface{}) {
	ctx := l.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	if !l.logger.Enabled(ctx, level) {
		return
	}

	l.logger.LogAttrs(ctx, level, msg, fieldAttrs(fields)...)
}

// fieldAttrs converts fields to attributes in key order, masking anything
// that looks like a credential.
func fieldAttrs(fields map[string]interface{}) []slog.Attr {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys))
	for _, key := range keys {
		if isSensitiveField(key) {
			attrs = append(attrs, slog.String(key, constants.MaskedSecret))

			continue
		}

		attrs = append(attrs, slog.Any(key, fields[key]))
	}

	return attrs
}

func isSensitiveField(key string) bool {
	lower := strings.ToLower(key)

	return strings.Contains(lower, "token") || strings.Contains(lower, "authorization") || strings.Contains(lower, "secret")
}

// noopLogger discards everything.
type noopLogger struct{}

func (noopLogger) Debug(string, map[string]interface{}) {}
func (noopLogger) Info(string, map[string]interface{})  {}
func (noopLogger) Warn(string, map[string]interface{})  {}
func (noopLogger) Error(string, map[string]interface{}) {}

// NopLogger returns a Logger that discards all output.
func NopLogger() Logger {
	return noopLogger{}
}

func loggerOrNop(logger Logger) Logger {
	if logger == nil {
		return noopLogger{}
	}

	return logger
}
