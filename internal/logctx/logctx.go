package logctx

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	taskKeyKey contextKey = "task_key"
)

// WithLogger returns a new context with the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// WithTaskKey tags ctx with the key of the download it serves.
// Records logged through a TraceHandler with this context carry a task_key attribute.
func WithTaskKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, taskKeyKey, key)
}

// TaskKeyFromContext returns the task key stored by WithTaskKey, or "".
func TaskKeyFromContext(ctx context.Context) string {
	if k, ok := ctx.Value(taskKeyKey).(string); ok {
		return k
	}
	return ""
}
