package cqlpool

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
)

type traceIDKey struct{}

var traceIDCounter atomic.Uint64

// Logger wraps slog.Logger with trace-id propagation, mirroring the shape
// of the ambient logger carried by the teacher repo.
type Logger struct {
	*slog.Logger
	traceEnabled bool
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg LoggingConfig) *Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return &Logger{Logger: slog.New(handler), traceEnabled: cfg.TraceEnabled}
}

// WithTraceID stamps a fresh trace id onto ctx.
func WithTraceID(ctx context.Context) context.Context {
	id := traceIDCounter.Add(1)
	return context.WithValue(ctx, traceIDKey{}, id)
}

// GetTraceID retrieves the trace id stamped on ctx, if any.
func GetTraceID(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(traceIDKey{}).(uint64)
	return id, ok
}

func (l *Logger) withTrace(ctx context.Context, args []any) []any {
	if l.traceEnabled {
		if id, ok := GetTraceID(ctx); ok {
			args = append([]any{"trace_id", id}, args...)
		}
	}
	return args
}

// InfoContext logs at info level, attaching the trace id when present.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.Logger.InfoContext(ctx, msg, l.withTrace(ctx, args)...)
}

// WarnContext logs at warn level, attaching the trace id when present.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.Logger.WarnContext(ctx, msg, l.withTrace(ctx, args)...)
}

// ErrorContext logs at error level, attaching the trace id when present.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.Logger.ErrorContext(ctx, msg, l.withTrace(ctx, args)...)
}

// DebugContext logs at debug level, attaching the trace id when present.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.Logger.DebugContext(ctx, msg, l.withTrace(ctx, args)...)
}

// WithHost returns a logger tagged with the given host address.
func (l *Logger) WithHost(addr string) *Logger {
	return &Logger{Logger: l.Logger.With("host", addr), traceEnabled: l.traceEnabled}
}

// WithPool returns a logger tagged with the owning pool's host address.
func (l *Logger) WithPool(addr string) *Logger {
	return &Logger{Logger: l.Logger.With("pool_host", addr), traceEnabled: l.traceEnabled}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
