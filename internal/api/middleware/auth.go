package middleware

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// AdminAuth verifies the shared admin console key against a bcrypt hash.
// An empty configured hash disables auth (development).
type AdminAuth struct {
	keyHash string
}

// NewAdminAuth creates the admin auth middleware.
func NewAdminAuth(keyHash string) *AdminAuth {
	return &AdminAuth{keyHash: keyHash}
}

// Verify reports whether the supplied key matches the configured hash.
func (a *AdminAuth) Verify(key string) bool {
	if a.keyHash == "" {
		return true
	}
	if key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.keyHash), []byte(key)) == nil
}

// RequireAuth rejects requests without a valid X-Admin-Key header.
func (a *AdminAuth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Verify(r.Header.Get("X-Admin-Key")) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid admin key"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
