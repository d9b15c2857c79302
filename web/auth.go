// ABOUTME: Bearer token authentication middleware for API routes.
// ABOUTME: Supports Authorization header and fluxchat_token cookie for browser sessions.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// AuthMiddleware returns an http.Handler middleware that validates bearer
// tokens on /api/* and /conversations/* routes. Health checks pass through
// unprotected. For browser sessions, the middleware also accepts a
// fluxchat_token cookie.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	expected := "Bearer " + token
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path

			if path == "/" || path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			needsAuth := strings.HasPrefix(path, "/api/") || path == "/api" ||
				strings.HasPrefix(path, "/conversations/") || path == "/conversations"
			if !needsAuth {
				next.ServeHTTP(w, r)
				return
			}

			// Check Authorization header (API clients)
			auth := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) == 1 {
				next.ServeHTTP(w, r)
				return
			}

			// Check cookie (browser sessions)
			if cookie, err := r.Cookie("fluxchat_token"); err == nil {
				if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(token)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
		})
	}
}
