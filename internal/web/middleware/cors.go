package middleware

import (
	"net/http"
	"os"
	"strings"
)

// allowedMethods covers every route the API exposes. There are no PUT or
// PATCH endpoints.
const allowedMethods = "GET, POST, DELETE, OPTIONS"

// allowedOrigins reads WEB_ALLOWED_ORIGINS (comma-separated) into a set.
func allowedOrigins() map[string]struct{} {
	origins := make(map[string]struct{})
	for o := range strings.SplitSeq(os.Getenv("WEB_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = struct{}{}
		}
	}
	return origins
}

// originAllowed reports whether a request origin should receive CORS
// headers. Localhost on any port is always allowed for development.
func originAllowed(origin string, allowed map[string]struct{}) bool {
	if origin == "" {
		return false
	}
	if rest, ok := strings.CutPrefix(origin, "http://localhost"); ok {
		return rest == "" || rest[0] == ':'
	}
	if rest, ok := strings.CutPrefix(origin, "https://localhost"); ok {
		return rest == "" || rest[0] == ':'
	}
	_, ok := allowed[origin]
	return ok
}

// CORS handles cross-origin requests against the JSON API. The service has
// no cookie sessions, so credentialed requests are never allowed.
func CORS() func(http.Handler) http.Handler {
	allowed := allowedOrigins()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); originAllowed(origin, allowed) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders hardens API responses. The service ships no HTML, so the
// policy denies everything except direct image loads.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Security-Policy", "default-src 'none'; img-src 'self'")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			next.ServeHTTP(w, r)
		})
	}
}
