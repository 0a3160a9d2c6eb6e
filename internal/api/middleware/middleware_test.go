package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kubently/kubently/internal/pkg/logger"
)

func TestRequestIDGenerated(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.FromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/clusters", nil))

	if seen == "" {
		t.Error("no request id in context")
	}
	if got := w.Header().Get(ResponseRequestIDHeader); got != seen {
		t.Errorf("response header %q, context %q; want them equal", got, seen)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/debug/clusters", nil)
	req.Header.Set(ResponseRequestIDHeader, "caller-supplied")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if seen != "caller-supplied" {
		t.Errorf("request id = %q, want the caller's", seen)
	}
}

func TestRateLimitOnlyGuardsDispatch(t *testing.T) {
	h := RateLimit(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Burst of one: the second dispatch from the same IP is rejected.
	req := httptest.NewRequest(http.MethodPost, "/debug/execute", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("first dispatch = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second dispatch = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 missing Retry-After")
	}

	// Other endpoints are never limited.
	other := httptest.NewRequest(http.MethodGet, "/debug/clusters", nil)
	other.RemoteAddr = "10.0.0.1:1234"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, other)
	if w.Code != http.StatusOK {
		t.Errorf("non-dispatch path = %d, want 200", w.Code)
	}

	// A different client has its own bucket.
	req2 := httptest.NewRequest(http.MethodPost, "/debug/execute", nil)
	req2.RemoteAddr = "10.0.0.2:1234"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req2)
	if w.Code != http.StatusOK {
		t.Errorf("fresh client = %d, want 200", w.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodPost, "/debug/execute", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d = %d, want 200 with limiting disabled", i, w.Code)
		}
	}
}
