package middleware

import (
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimit applies one token bucket shared by every caller of the wrapped route.
func RateLimit(rps float64, burst int, logger *zap.Logger) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				traceID := GetTraceID(r.Context())
				logger.Warn("Rate limit exceeded",
					zap.String("trace_id", traceID),
					zap.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "too many requests", traceID)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
