package logger

import (
	"context"
	"log/slog"
)

type contextKey string

const RunIDKey contextKey = "run_id"

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey, id)
}

func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

// From returns the default logger annotated with the run id carried by ctx.
func From(ctx context.Context) *slog.Logger {
	if id := GetRunID(ctx); id != "" {
		return slog.Default().With("run_id", id)
	}
	return slog.Default()
}
