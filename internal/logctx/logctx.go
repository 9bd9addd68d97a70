package logctx

import (
	"context"
	"log/slog"
)

type contextKey struct{}

// WithLogger stores the logger in the context so request-scoped attributes
// travel with it.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// LoggerFromContext returns the context's logger, falling back to
// slog.Default when none was stored.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}
