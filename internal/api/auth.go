package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

// TokenAuth guards mutating routes with a shared bearer token. An empty
// token disables the check, which is the local development default.
type TokenAuth struct {
	digest []byte
}

// NewTokenAuth creates a guard for token.
func NewTokenAuth(token string) *TokenAuth {
	if token == "" {
		return &TokenAuth{}
	}
	sum := sha256.Sum256([]byte(token))
	return &TokenAuth{digest: sum[:]}
}

// Enabled reports whether requests must carry the token.
func (a *TokenAuth) Enabled() bool { return a != nil && len(a.digest) > 0 }

// Valid checks a presented token in constant time.
func (a *TokenAuth) Valid(presented string) bool {
	if !a.Enabled() {
		return true
	}
	sum := sha256.Sum256([]byte(presented))
	return hmac.Equal(sum[:], a.digest)
}

// Middleware rejects requests without a valid "Authorization: Bearer" header.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !a.Valid(strings.TrimSpace(token)) {
			log.Printf("🔒 Unauthorized %s %s from %s", r.Method, r.URL.Path, GetClientIP(r))
			RecordConnectionRejected("auth")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="danmaku"`)
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "unauthorized",
				"message": "Admin token required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
