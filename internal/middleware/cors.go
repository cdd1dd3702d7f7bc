// Package middleware provides HTTP middleware for the marketing hub API.
package middleware

import (
	"net/http"

	"github.com/ashureev/marketing-hub/internal/identity"
	"github.com/go-chi/cors"
)

// CORS returns middleware that handles CORS headers. Credentials are only
// allowed when every origin is explicit.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowCredentials := len(allowedOrigins) > 0
	for _, o := range allowedOrigins {
		if o == "*" {
			allowCredentials = false
			break
		}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Last-Event-ID", identity.SessionHeaderName},
		ExposedHeaders:   []string{"X-Cache"},
		AllowCredentials: allowCredentials,
		MaxAge:           300,
	})
}
