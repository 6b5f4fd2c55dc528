package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/oentex/oentex/internal/auth"
)

// AuthMiddleware attaches the session identity to requests
type AuthMiddleware struct {
	verifier *auth.Verifier
	state    auth.State
}

// NewAuthMiddleware creates new auth middleware. When the auth bootstrap
// ended degraded, tokens are ignored and every request is anonymous.
func NewAuthMiddleware(verifier *auth.Verifier, state auth.State) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, state: state}
}

func (m *AuthMiddleware) enabled() bool {
	return m.verifier.Enabled() && !m.state.Degraded
}

// Authenticate verifies the bearer token if one is sent. Requests without
// a token continue anonymously; an invalid token is rejected.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" || !m.enabled() {
			next.ServeHTTP(w, r)
			return
		}

		id, err := m.verifier.Verify(token)
		if err != nil {
			slog.Warn("rejected session token", "error", err, "remote_addr", r.RemoteAddr)
			respondAppError(w, err)
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects anonymous requests
func (m *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.IdentityFromContext(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}
		if !m.enabled() {
			respondError(w, http.StatusUnauthorized, "auth_unavailable", "sign-in is currently unavailable")
			return
		}
		respondError(w, http.StatusUnauthorized, "not_authenticated", "sign in to continue")
	})
}

// extractBearerToken reads the Authorization header; browsers opening the
// websocket pass the token as a query parameter instead
func extractBearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("access_token")
}
