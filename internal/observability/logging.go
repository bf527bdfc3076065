// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// SetupLogging replaces GlobalLogger with a handler writing to w at the given level.
// Text output is used outside production.
func SetupLogging(w io.Writer, level, env string) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if env == "production" || env == "prod" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// ParseLevel maps a config string to a slog level, defaulting to info.
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

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// Context keys for logging
const (
	CorrelationID LogContextKey = "correlation_id"
)

// GenerateCorrelationID creates a new unique correlation ID.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

// StoreLogger provides structured logging for resource store actions.
type StoreLogger struct {
	store  string
	logger *Logger
}

// NewStoreLogger creates a new StoreLogger for the named store.
func NewStoreLogger(store string) *StoreLogger {
	return &StoreLogger{store: store}
}

func (l *StoreLogger) log() *Logger {
	if l.logger != nil {
		return l.logger
	}
	return GlobalLogger
}

func (l *StoreLogger) attrs(ctx context.Context, action string, fields map[string]any) []any {
	attrs := []any{
		slog.String("store", l.store),
		slog.String("action", action),
	}
	if id := ExtractCorrelationID(ctx); id != "" {
		attrs = append(attrs, slog.String("correlation_id", id))
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

// LogAction logs a completed store action.
func (l *StoreLogger) LogAction(ctx context.Context, action string, fields map[string]any) {
	l.log().DebugContext(ctx, "store action", l.attrs(ctx, action, fields)...)
}

// LogFailure logs a failed store action.
func (l *StoreLogger) LogFailure(ctx context.Context, action string, err error) {
	l.log().WarnContext(ctx, "store action failed",
		append(l.attrs(ctx, action, nil), slog.String("error", err.Error()))...)
}

// LogSpanFailure logs a failed store action together with the trace id of
// its span.
func (l *StoreLogger) LogSpanFailure(ctx context.Context, action string, span *Span, err error) {
	attrs := append(l.attrs(ctx, action, nil), slog.String("error", err.Error()))
	if id := span.TraceID(); id != "" {
		attrs = append(attrs, slog.String("trace_id", id))
	}
	l.log().WarnContext(ctx, "store action failed", attrs...)
}

// LogRollback logs an optimistic write being restored.
func (l *StoreLogger) LogRollback(ctx context.Context, action, entityID string, err error) {
	l.log().WarnContext(ctx, "optimistic update rolled back",
		append(l.attrs(ctx, action, map[string]any{"entity_id": entityID}), slog.String("error", err.Error()))...)
}

// LogDiscarded logs a response that arrived after a newer write.
func (l *StoreLogger) LogDiscarded(ctx context.Context, action, entityID string) {
	l.log().DebugContext(ctx, "stale response discarded",
		l.attrs(ctx, action, map[string]any{"entity_id": entityID})...)
}
