package middleware

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// publicPaths are exempt from API key checks.
var publicPaths = map[string]bool{
	"/health": true,
}

// APIKeyAuth checks callers against a bcrypt hash of the service API key.
// Keys are read from "Authorization: Bearer", X-API-Key, or the token query
// parameter (browsers cannot set headers on WebSocket upgrades). Verified
// keys are remembered by digest so bcrypt runs once per distinct key.
type APIKeyAuth struct {
	hash     []byte
	mu       sync.RWMutex
	verified map[[sha256.Size]byte]bool
}

// NewAPIKeyAuth creates the middleware for a bcrypt hash. An empty hash
// disables authentication.
func NewAPIKeyAuth(hash string) *APIKeyAuth {
	return &APIKeyAuth{hash: []byte(hash), verified: make(map[[sha256.Size]byte]bool)}
}

// HashAPIKey returns the bcrypt hash to configure for key.
func HashAPIKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Handler returns the HTTP middleware.
func (a *APIKeyAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.hash) == 0 || publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		key := extractKey(r)
		if key == "" {
			writeAuthError(w, "authorization required")
			return
		}
		if !a.valid(key) {
			writeAuthError(w, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *APIKeyAuth) valid(key string) bool {
	digest := sha256.Sum256([]byte(key))

	a.mu.RLock()
	ok := a.verified[digest]
	a.mu.RUnlock()
	if ok {
		return true
	}

	if bcrypt.CompareHashAndPassword(a.hash, []byte(key)) != nil {
		return false
	}
	a.mu.Lock()
	a.verified[digest] = true
	a.mu.Unlock()
	return true
}

func extractKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	return r.URL.Query().Get("token")
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
