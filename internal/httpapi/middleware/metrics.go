package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/synnergy/hostnode/internal/metrics"
)

// statusRecorder captures the status code a handler writes, since
// http.ResponseWriter doesn't expose it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Metrics records request latency into metrics.HTTPRequestDuration, labeled
// by route and status, the same route-observing middleware shape as
// Logger.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		metrics.HTTPRequestDuration.WithLabelValues(r.URL.Path, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}
