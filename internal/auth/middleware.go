package auth

import (
	"net/http"
	"strings"
)

// Middleware authenticates API callers and enforces the route policy.
// Exempt routes bypass it entirely; the meter ingest path carries its own
// HMAC check instead of a bearer token.
type Middleware struct {
	secret []byte
	policy Policy
}

// NewMiddleware constructs the auth middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{secret: secret, policy: policy}
}

// Wrap authenticates the request, attaches the caller identity to the
// context and rejects callers below the route's required role.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, ok := m.policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		id, err := ParseToken(bearerToken(r), m.secret)
		if err != nil {
			http.Error(w, "missing or invalid bearer token", http.StatusUnauthorized)
			return
		}
		if !RoleAtLeast(id.Role, required) {
			http.Error(w, "insufficient role", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
