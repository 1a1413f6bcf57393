package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/gantry/pkg/auth"
	"github.com/platinummonkey/gantry/pkg/contextkeys"
	"github.com/platinummonkey/gantry/pkg/httputil"
)

// AuthMiddleware validates bearer tokens and attaches the resulting
// identity to the request context
type AuthMiddleware struct {
	tokens *auth.Service
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens *auth.Service) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handler wraps an HTTP handler with authentication. Validation failures
// are uniform: the caller learns only that the token was rejected.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		raw, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		identity, err := m.tokens.Validate(r.Context(), raw)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid token")
			return
		}

		ctx := contextkeys.WithIdentity(r.Context(), identity)
		ctx = contextkeys.WithActor(ctx, identity.ActorRef())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity extracts the validated identity from the request, or nil when
// the request did not pass through the auth middleware
func GetIdentity(r *http.Request) *auth.Identity {
	identity, ok := r.Context().Value(contextkeys.IdentityKey).(*auth.Identity)
	if !ok {
		return nil
	}
	return identity
}

// RequireGlobalAdmin creates middleware that rejects non-global-admin callers
func RequireGlobalAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := GetIdentity(r)
		if identity == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if !identity.IsGlobalAdmin() {
			httputil.WriteForbidden(w, "global admin required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
