package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		capturingWriter := ExtendResponseWriter(w)

		next.ServeHTTP(capturingWriter, r)

		level := slog.LevelInfo
		if capturingWriter.StatusCode >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		latency := time.Duration(0)
		if !capturingWriter.WriteBegin.IsZero() {
			latency = capturingWriter.WriteBegin.Sub(start)
		}
		log(r.Context()).Log(r.Context(), level,
			fmt.Sprintf("Request %s %s %d %s", r.Method, r.RequestURI, capturingWriter.StatusCode, http.StatusText(capturingWriter.StatusCode)),
			slog.String("method", r.Method),
			slog.String("host", r.Host),
			slog.String("path", r.RequestURI),
			slog.Int("status", capturingWriter.StatusCode),
			slog.Int("bytes", capturingWriter.BytesWritten),
			slog.Duration("latency", latency),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// AllStandardMiddleware wraps a router with the request logger and the
// access log.
func AllStandardMiddleware(next http.Handler) http.Handler {
	return ContextLoggerMiddleware(LoggingMiddleware(next))
}
