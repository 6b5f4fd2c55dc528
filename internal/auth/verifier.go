package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oentex/oentex/internal/apperr"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrNoSecret     = errors.New("no signing secret configured")
)

// Identity is the signed-in user of a request
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// Claims are the session token claims. The subject is the user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 session tokens
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a verifier for tokens signed with secret
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Enabled reports whether a secret is configured
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Verify parses a token and returns the identity it carries. Failures are
// authentication errors; an expired token reads "session expired".
func (v *Verifier) Verify(token string) (*Identity, error) {
	const op = "verify session"
	if !v.Enabled() {
		return nil, apperr.Wrap(apperr.KindAuthentication, op, ErrNoSecret)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.Wrap(apperr.KindAuthentication, op, ErrMissingToken)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &apperr.Error{Kind: apperr.KindAuthentication, Op: op, Message: "session expired", Err: err}
		}
		return nil, &apperr.Error{Kind: apperr.KindAuthentication, Op: op, Message: "invalid session", Err: err}
	}

	if claims.Subject == "" {
		return nil, apperr.New(apperr.KindAuthentication, op, "session has no subject")
	}
	return &Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// Issue signs a session token for id valid for ttl
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", ErrNoSecret
	}
	now := v.now()
	claims := Claims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

type contextKey string

const identityContextKey contextKey = "identity"

// IdentityFromContext extracts the signed-in user, or nil
func IdentityFromContext(ctx context.Context) *Identity {
	id, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok {
		return nil
	}
	return id
}

// ContextWithIdentity adds the signed-in user to ctx
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// UserID returns the signed-in user id of ctx, or ""
func UserID(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id != nil {
		return id.UserID
	}
	return ""
}
