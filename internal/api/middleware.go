package api

import (
	"net/http"
	"strings"
)

// AuthMiddleware guards the admin surface with a Bearer token check against
// the configured admin token. The node-facing sync route is registered
// outside this middleware and carries its own per-cluster key instead.
func AuthMiddleware(adminToken string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing Authorization header")
			return
		}
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header must use the Bearer scheme")
			return
		}
		if token != adminToken {
			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "admin token rejected")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestBodyLimitMiddleware caps request body size so a misbehaving node or
// client cannot exhaust memory with one push. Oversized bodies surface as a
// MaxBytesError from the decoder and map to 413.
func RequestBodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	if maxBytes <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}
