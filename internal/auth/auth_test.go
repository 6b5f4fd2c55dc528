package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oentex/oentex/internal/apperr"
)

func TestVerifierRoundTrip(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Issue(Identity{UserID: "u1", Email: "a@example.com"}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, &Identity{UserID: "u1", Email: "a@example.com"}, id)
}

func TestVerifierRejects(t *testing.T) {
	v := NewVerifier("secret")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return now }

	expired, err := v.Issue(Identity{UserID: "u1"}, time.Minute)
	require.NoError(t, err)
	v.now = func() time.Time { return now.Add(time.Hour) }

	_, err = v.Verify(expired)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))
	assert.Equal(t, "session expired", apperr.MessageOf(err))

	other, err := NewVerifier("other").Issue(Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(time.Hour).Unix()})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":        "",
		"garbage":      "not.a.token",
		"wrong secret": other,
		"alg none":     unsigned,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewVerifier("secret").Verify(token)
			assert.True(t, apperr.Is(err, apperr.KindAuthentication))
		})
	}

	_, err = NewVerifier("").Verify(expired)
	assert.True(t, errors.Is(err, ErrNoSecret))
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, IdentityFromContext(ctx))
	assert.Equal(t, "", UserID(ctx))

	ctx = ContextWithIdentity(ctx, &Identity{UserID: "u1"})
	assert.Equal(t, "u1", UserID(ctx))
}

func TestBootstrapSucceedsAfterRetry(t *testing.T) {
	var calls atomic.Int32
	probe := func(ctx context.Context) error {
		if calls.Add(1) < 2 {
			return errors.New("connection refused")
		}
		return nil
	}

	state := Bootstrap(context.Background(), probe, time.Second, 3)
	assert.Equal(t, State{Ready: true, Attempts: 2}, state)
}

func TestBootstrapForcesReadyAfterTimeouts(t *testing.T) {
	var calls atomic.Int32
	hang := func(ctx context.Context) error {
		calls.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}

	start := time.Now()
	state := Bootstrap(context.Background(), hang, 20*time.Millisecond, 3)

	assert.True(t, state.Ready)
	assert.True(t, state.Degraded)
	assert.Equal(t, 3, state.Attempts)
	assert.Equal(t, int32(3), calls.Load())
	assert.ErrorIs(t, state.Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestBootstrapWithoutProbe(t *testing.T) {
	assert.Equal(t, State{Ready: true}, Bootstrap(context.Background(), nil, 0, 0))
}

func TestHTTPProbe(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	assert.NoError(t, HTTPProbe(nil, healthy.URL)(context.Background()))
	assert.Error(t, HTTPProbe(nil, down.URL)(context.Background()))
}
