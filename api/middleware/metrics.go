package middleware

import (
	"net/http"
	"time"

	"recollector/metrics"
)

// Metrics records request counts and latency per route pattern. Middleware
// between it and the ServeMux must pass the request through unchanged, or the
// matched pattern is lost.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newStatusRecorder(w)

		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordAPIRequest(r.Method, path, rec.status, time.Since(start).Seconds())
	})
}
