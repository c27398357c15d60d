package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/lSAAGl/aegis-mcp/internal/ctxkey"
)

type requestIDContextKey struct{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey{}

// RequestIDMiddleware takes X-Request-ID from the request or generates one,
// echoes it on the response, and stores a logger carrying it in the
// request context.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = ctxkey.WithLogger(ctx, logger.With("request_id", requestID))

			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext returns the request logger, or slog.Default outside a
// request.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	return ctxkey.Logger(ctx, slog.Default())
}
