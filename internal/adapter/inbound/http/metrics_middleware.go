package http

import (
	"net/http"
	"strconv"
	"time"
)

// unmatchedRoute labels requests no route pattern matched, so unknown
// paths cannot blow up label cardinality.
const unmatchedRoute = "unmatched"

// MetricsMiddleware records request count and duration. It must wrap the
// ServeMux directly: the mux stores the matched pattern on the request it
// is handed, which is what the route label reads.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			route := r.Pattern
			if route == "" {
				route = unmatchedRoute
			}
			metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(wrapped.status)).Inc()
		})
	}
}

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
