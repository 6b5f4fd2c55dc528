package functions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oentex/oentex/internal/apperr"
	"github.com/oentex/oentex/internal/models"
)

func newRegistry(store SubscriberStore) *Registry {
	return NewRegistry(NewNewsletterSubscribe(store), NewNewsletterStats(store))
}

func TestNewsletterSubscribe(t *testing.T) {
	store := NewMemorySubscriberStore()
	reg := newRegistry(store)
	ctx := context.Background()

	payload := json.RawMessage(`{"email":"Trader@Example.com","preferences":["Crypto"," crypto ","forex",""]}`)
	out, err := reg.Invoke(ctx, NewsletterSubscribeName, payload)
	require.NoError(t, err)
	assert.True(t, out.(*models.NewsletterResult).Success)

	sub, ok := store.Get("trader@example.com")
	require.True(t, ok)
	assert.Equal(t, "website", sub.Source)
	assert.Equal(t, []string{"crypto", "forex"}, sub.Preferences)

	out, err = reg.Invoke(ctx, NewsletterSubscribeName, json.RawMessage(`{"email":"trader@example.com","source":"footer"}`))
	require.NoError(t, err)
	dup := out.(*models.NewsletterResult)
	assert.False(t, dup.Success)
	assert.Contains(t, dup.Message, "already subscribed")

	stats, err := reg.Invoke(ctx, NewsletterStatsName, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.(*models.NewsletterStats).Subscribers)
}

func TestNewsletterSubscribeRejectsInvalidEmail(t *testing.T) {
	fn := NewNewsletterSubscribe(NewMemorySubscriberStore())

	for _, email := range []string{"", "   ", "not-an-email", "a@b", "Name <a@example.com>"} {
		t.Run(email, func(t *testing.T) {
			_, err := fn.Subscribe(context.Background(), models.NewsletterRequest{Email: email})
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
			assert.Contains(t, apperr.FieldsOf(err), "email")
		})
	}

	_, err := fn.Invoke(context.Background(), json.RawMessage(`[1,2]`))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

type downStore struct{ *MemorySubscriberStore }

func (downStore) Count(ctx context.Context) (int, error) { return 0, errors.New("connection refused") }
func (downStore) Ping(ctx context.Context) error { return errors.New("connection refused") }

func TestRegistry(t *testing.T) {
	reg := newRegistry(downStore{NewMemorySubscriberStore()})
	assert.Equal(t, []string{NewsletterStatsName, NewsletterSubscribeName}, reg.List())

	_, err := reg.Invoke(context.Background(), "nope", nil)
	assert.True(t, errors.Is(err, ErrUnknownFunction))
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = reg.Invoke(context.Background(), NewsletterStatsName, nil)
	assert.Error(t, err)

	health := reg.HealthCheckAll(context.Background())
	assert.Len(t, health, 2)
	assert.Error(t, health[NewsletterSubscribeName])
}
