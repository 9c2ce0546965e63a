package middleware

import (
	"net/http"
	"strings"
)

var (
	corsAllowedHeaders = []string{"Content-Type", "Accept", "X-Request-ID", "0x-api-key"}
	corsExposedHeaders = []string{
		"Retry-After",
		"X-RateLimit-Limit",
		"X-RateLimit-Remaining",
		"X-RateLimit-Reset",
		RequestIDHeader,
	}
)

// CORS opens the read-only API to browser callers on any origin. The allow headers go on every
// response. Preflight requests are answered here and never reach the limiter.
func CORS(next http.Handler) http.Handler {
	allowHeaders := strings.Join(corsAllowedHeaders, ", ")
	exposeHeaders := strings.Join(corsExposedHeaders, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Expose-Headers", exposeHeaders)

		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
