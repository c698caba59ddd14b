package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// requestIDKey is the context key a handler can use to pull the per-request
// correlation id Logger assigns, so a single request's log lines (and any
// downstream error it surfaces) can be tied together without logging
// anything privacy-sensitive (spec §7: "never log plaintext prompts,
// embeddings, session keys, ...").
type requestIDKey struct{}

// RequestID extracts the correlation id Logger attached to r's context, or
// "" if none is present (e.g. in a unit test that calls a handler directly).
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Logger assigns each request a uuid correlation id, logs method/path/
// duration/status, and makes the id available to handlers via RequestID.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		logrus.WithFields(logrus.Fields{
			"request_id": reqID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   time.Since(start).String(),
		}).Info("http request")
	})
}
