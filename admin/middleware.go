// Package admin exposes a small HTTP surface for introspecting in-flight
// tasks: which copy-partition, move-part, or create-replica work the
// executor currently holds, and what stage each has reached. It is gated
// by the same pre-shared-key middleware pattern the rest of this codebase
// uses for its admin endpoints.
package admin

import (
	"net/http"
	"strings"

	"github.com/pgshardman/shardlord/cfg"
)

// AuthMiddleware validates PSK authentication for admin endpoints.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.Config.Admin.Enabled || cfg.Config.Admin.Secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		secret := cfg.Config.Admin.Secret

		providedSecret := r.Header.Get("X-Shardlord-Secret")
		if providedSecret == "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeErrorResponse(w, http.StatusUnauthorized, "missing authentication header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeErrorResponse(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}
			providedSecret = parts[1]
		}

		if providedSecret != secret {
			writeErrorResponse(w, http.StatusUnauthorized, "invalid secret")
			return
		}

		next.ServeHTTP(w, r)
	})
}
