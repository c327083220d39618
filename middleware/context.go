package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/sweater-ventures/optimist/config"
)

func log(ctx context.Context) *slog.Logger {
	log := ctx.Value(config.LoggerContextKey)
	if log == nil {
		return slog.Default()
	} else {
		return (log).(*slog.Logger)
	}
}

// ContextLoggerMiddleware adds a logger carrying the request id, and the
// caller's X-Correlation-ID as trace_id when one is sent, to the request
// context. The
// request id is echoed in the response.
func ContextLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				requestID = "unknown"
			} else {
				requestID = id.String()
			}
		}
		w.Header().Set("X-Request-ID", requestID)

		logger := log(r.Context()).With(slog.String("request_id", requestID))
		if correlationID := r.Header.Get("X-Correlation-ID"); correlationID != "" {
			logger = logger.With(slog.String("trace_id", correlationID))
		}

		r = r.WithContext(context.WithValue(r.Context(), config.LoggerContextKey, logger))
		next.ServeHTTP(w, r)
	})
}
