package vectorstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/synnergy/hostnode/internal/errs"
)

func testServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetHappyPath(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"hello":"world"}`))
	})
	c := New(DefaultConfig(srv.URL))
	body, err := c.Get(context.Background(), "home/u/db.json")
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"hello":"world"}` {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestGetNotFoundMapsToManifestNotFound(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	c := New(DefaultConfig(srv.URL))
	_, err := c.Get(context.Background(), "home/u/missing.json")
	if errs.KindOf(err) != errs.KindManifestNotFound {
		t.Fatalf("expected KindManifestNotFound, got %v", err)
	}
}

func TestGetServiceUnavailable(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := New(DefaultConfig(srv.URL))
	_, err := c.Get(context.Background(), "home/u/db.json")
	if errs.KindOf(err) != errs.KindManifestDownloadFailed {
		t.Fatalf("expected KindManifestDownloadFailed, got %v", err)
	}
}

func TestInvalidPathRejectedLocally(t *testing.T) {
	c := New(DefaultConfig("http://unused"))
	_, err := c.Get(context.Background(), "../etc/passwd")
	if errs.KindOf(err) != errs.KindInvalidPath {
		t.Fatalf("expected KindInvalidPath, got %v", err)
	}
}

func TestPutReturnsContentID(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 {
			t.Error("expected non-empty body")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("cid123"))
	})
	c := New(DefaultConfig(srv.URL))
	id, err := c.Put(context.Background(), "home/u/db.json", []byte("data"))
	if err != nil {
		t.Fatal(err)
	}
	if id != "cid123" {
		t.Fatalf("expected cid123, got %q", id)
	}
}

func TestHealthUnhealthy(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := New(DefaultConfig(srv.URL))
	if err := c.Health(context.Background()); err == nil {
		t.Fatal("expected unhealthy error")
	}
}
