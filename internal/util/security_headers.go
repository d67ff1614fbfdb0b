package util

import (
	"net/http"
	"strings"
)

var apiSecurityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Permissions-Policy", "geolocation=(), camera=(), microphone=()"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"},
}

// WithSecurityHeaders adds API-safe security response headers.
// Responses to credentialed requests (carts, profiles) are marked no-store.
func WithSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range apiSecurityHeaders {
			w.Header().Set(h[0], h[1])
		}
		if r.Header.Get("Authorization") != "" {
			w.Header().Set("Cache-Control", "no-store")
		}
		// HSTS only over HTTPS, direct or forwarded.
		if r.TLS != nil || strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
