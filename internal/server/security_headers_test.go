package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeadersMiddlewareUsesDefaults(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	middleware := securityHeadersMiddleware(SecurityConfig{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	middleware.ServeHTTP(rec, req)

	res := rec.Result()
	assertDefaultSecurityHeaders(t, res)
}

func TestSecurityHeadersPolicyCanBeOverridden(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	cfg := SecurityConfig{ContentSecurityPolicy: "default-src 'self' https://cdn.example.com"}
	middleware := securityHeadersMiddleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	middleware.ServeHTTP(rec, req)

	res := rec.Result()
	assertHeaderEquals(t, res, "Content-Security-Policy", cfg.ContentSecurityPolicy)
	assertHeaderEquals(t, res, "X-Frame-Options", "DENY")
}

func TestServerAppliesSecurityHeadersToAllRoutes(t *testing.T) {
	handler := newTestHandler(t)

	srv, err := New(handler, Config{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	for _, tc := range []struct {
		name string
		path string
	}{
		{name: "health", path: "/healthz"},
		{name: "front page", path: "/"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)

			srv.httpServer.Handler.ServeHTTP(rec, req)

			assertDefaultSecurityHeaders(t, rec.Result())
		})
	}
}

func assertDefaultSecurityHeaders(t *testing.T, res *http.Response) {
	t.Helper()
	assertHeaderEquals(t, res, "X-Frame-Options", "DENY")
	assertHeaderEquals(t, res, "X-Content-Type-Options", "nosniff")
	assertHeaderEquals(t, res, "Referrer-Policy", "no-referrer")
	assertHeaderEquals(t, res, "Permissions-Policy", "camera=(), microphone=(), geolocation=()")
	assertHeaderEquals(t, res, "Content-Security-Policy", defaultContentSecurityPolicy)
}

func assertHeaderEquals(t *testing.T, res *http.Response, header, want string) {
	t.Helper()
	if got := res.Header.Get(header); got != want {
		t.Fatalf("unexpected %s header: got %q, want %q", header, got, want)
	}
}
