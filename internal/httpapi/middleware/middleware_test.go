package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLogger_AssignsRequestIDAndPreservesStatus(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	Logger(inner).ServeHTTP(rec, req)

	if seen == "" {
		t.Fatal("expected a non-empty request id to reach the handler")
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rec.Code)
	}
}

func TestRequestID_EmptyWithoutLogger(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	if got := RequestID(req.Context()); got != "" {
		t.Fatalf("expected empty request id absent Logger, got %q", got)
	}
}

func TestMetrics_ObservesEveryRequest(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	// Metrics should not panic and should call through to inner.
	called := false
	wrapped := Metrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		inner.ServeHTTP(w, r)
	}))
	wrapped.ServeHTTP(rec, req)
	if !called {
		t.Fatal("expected inner handler to be invoked")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
