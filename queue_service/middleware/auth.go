package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminKeyHeader is the alternate header for the admin key, for clients
// that cannot set Authorization.
const AdminKeyHeader = "X-Admin-Key"

// AdminAuth gates the administrative surface behind the configured API
// key. Accepts "Authorization: Bearer <key>" or the X-Admin-Key header.
// STRICT: fails fast on missing or malformed credentials.
func AdminAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := bearerToken(r)
			if presented == "" {
				presented = r.Header.Get(AdminKeyHeader)
			}
			if presented == "" {
				http.Error(w, "Missing admin credentials", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the credential from "Authorization: Bearer <x>",
// empty when the header is absent or malformed.
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
