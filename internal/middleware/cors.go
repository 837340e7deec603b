// Package middleware provides HTTP middleware for the mentor API.
package middleware

import "net/http"

// CORS returns middleware that handles CORS headers for the dashboard
// frontend. Credentials are only allowed for explicitly listed origins,
// never for wildcard matches.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			var matched string
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					matched = o
					break
				}
			}

			if matched != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				if matched != "*" {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
