package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSHeadersForAllowedOrigin(t *testing.T) {
	h := Middleware(Config{AllowedOrigins: []string{"https://app.example"}})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/threads", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow-origin %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestCORSDeniedOriginGetsNoHeaders(t *testing.T) {
	h := Middleware(Config{AllowedOrigins: []string{"https://app.example"}})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/threads", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
	// the request itself still passes; CORS is enforced by the browser
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestWildcardOrigin(t *testing.T) {
	h := Middleware(Config{AllowedOrigins: []string{"*"}})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anything.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://anything.example" {
		t.Fatalf("allow-origin %q", got)
	}
}

func TestPreflightShortCircuits(t *testing.T) {
	inner := 0
	h := Middleware(Config{AllowedOrigins: []string{"*"}})(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) { inner++ }))

	req := httptest.NewRequest(http.MethodOptions, "/v1/threads", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d, want 204", rec.Code)
	}
	if inner != 0 {
		t.Fatal("preflight must not reach the inner handler")
	}
}

func TestRateLimit(t *testing.T) {
	h := Middleware(Config{RPS: 1, Burst: 2})(okHandler())

	limited := 0
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/threads", nil)
		req.RemoteAddr = "203.0.113.9:55000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 8 {
		t.Fatalf("limited %d of 10, want 8 with burst 2", limited)
	}

	// a different client ip has its own budget
	req := httptest.NewRequest(http.MethodGet, "/v1/threads", nil)
	req.RemoteAddr = "198.51.100.7:55000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("fresh client got %d", rec.Code)
	}
}

func TestHealthBypassesLimiter(t *testing.T) {
	h := Middleware(Config{RPS: 1, Burst: 1})(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "203.0.113.9:55000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("health probe %d got %d", i, rec.Code)
		}
	}
}
