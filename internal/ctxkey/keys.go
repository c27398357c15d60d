// Package ctxkey defines context keys shared by the inbound adapters.
// It has no internal dependencies so any package can import it.
package ctxkey

import (
	"context"
	"log/slog"
)

// LoggerKey is the context key for a request-scoped logger.
type LoggerKey struct{}

// WithLogger returns ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey{}, logger)
}

// Logger returns the request-scoped logger, or fallback when none is set.
func Logger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return fallback
}
