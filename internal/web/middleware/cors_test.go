package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsServe(t *testing.T, origin, method string) (*httptest.ResponseRecorder, *bool) {
	t.Helper()
	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(method, "/api/v1/photos", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	CORS()(next).ServeHTTP(rec, req)
	return rec, &reached
}

func TestCORSLocalhostAlwaysAllowed(t *testing.T) {
	rec, _ := corsServe(t, "http://localhost:3000", http.MethodGet)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("expected localhost origin to be mirrored, got %q", got)
	}
}

func TestCORSConfiguredOrigin(t *testing.T) {
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://photos.example.com, https://other.example.com")

	rec, _ := corsServe(t, "https://photos.example.com", http.MethodGet)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://photos.example.com" {
		t.Errorf("expected configured origin to be mirrored, got %q", got)
	}
}

func TestCORSUnknownOriginGetsNoAllowHeader(t *testing.T) {
	rec, _ := corsServe(t, "https://evil.example.com", http.MethodGet)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow-origin header, got %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("credentials must never be allowed")
	}
}

func TestCORSLocalhostLookalikeRejected(t *testing.T) {
	rec, _ := corsServe(t, "http://localhost.example.com", http.MethodGet)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected lookalike origin to be rejected, got %q", got)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	rec, reached := corsServe(t, "http://localhost:3000", http.MethodOptions)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for preflight, got %d", rec.Code)
	}
	if *reached {
		t.Error("preflight must not reach the next handler")
	}
}

func TestSecurityHeaders(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	SecurityHeaders()(next).ServeHTTP(rec, req)

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected nosniff header")
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Error("expected a content security policy")
	}
}
