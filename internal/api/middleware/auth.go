package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ResponderAuth guards the handoff-queue surface (pending list/removal
// and respond) with a shared bearer token. The token is bcrypt-hashed
// once at startup so the plaintext never sits in the middleware.
type ResponderAuth struct {
	tokenHash []byte
}

// NewResponderAuth hashes the configured token. An empty token disables
// the guard (development default).
func NewResponderAuth(token string) (*ResponderAuth, error) {
	if token == "" {
		return &ResponderAuth{}, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &ResponderAuth{tokenHash: hash}, nil
}

// RequireToken verifies the Authorization header on guarded routes.
func (a *ResponderAuth) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.tokenHash) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			jsonError(w, http.StatusUnauthorized, "responder token required")
			return
		}

		if err := bcrypt.CompareHashAndPassword(a.tokenHash, []byte(token)); err != nil {
			jsonError(w, http.StatusForbidden, "invalid responder token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
