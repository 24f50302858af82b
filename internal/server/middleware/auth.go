package middleware

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Auth returns middleware that requires an API key on mutating requests.
// The key travels as a Bearer token in the Authorization header or in the
// X-API-Key header and is checked against a bcrypt hash. Reads (GET, HEAD,
// OPTIONS) pass through so dashboards can observe without a key. An empty
// hash disables authentication.
func Auth(apiKeyHash string) func(http.Handler) http.Handler {
	v := &keyVerifier{hash: []byte(apiKeyHash)}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKeyHash == "" || readOnly(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
				return
			}
			if !v.verify(token) {
				writeJSONError(w, http.StatusUnauthorized, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func readOnly(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// keyVerifier remembers the digest of the last accepted key so bcrypt runs
// once per key rather than once per request.
type keyVerifier struct {
	hash []byte

	mu       sync.Mutex
	accepted [sha256.Size]byte
	ok       bool
}

func (v *keyVerifier) verify(token string) bool {
	sum := sha256.Sum256([]byte(token))
	v.mu.Lock()
	if v.ok && v.accepted == sum {
		v.mu.Unlock()
		return true
	}
	v.mu.Unlock()

	if bcrypt.CompareHashAndPassword(v.hash, []byte(token)) != nil {
		return false
	}
	v.mu.Lock()
	v.accepted, v.ok = sum, true
	v.mu.Unlock()
	return true
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

// writeJSONError sends an error response with a JSON body.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
