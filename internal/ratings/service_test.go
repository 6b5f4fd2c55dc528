package ratings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oentex/oentex/internal/apperr"
	"github.com/oentex/oentex/internal/cache"
	"github.com/oentex/oentex/internal/models"
	"github.com/oentex/oentex/internal/storage"
)

func ptr[T any](v T) *T { return &v }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(userID string, msg Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) last() Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[len(n.sent)-1]
}

// spyRepo counts procedure calls and can be told to fail them
type spyRepo struct {
	*storage.MemoryRepository
	submits int
	failWith error
}

func (r *spyRepo) SubmitRatingTransaction(ctx context.Context, p storage.RatingParams) (*storage.RatingResult, error) {
	r.submits++
	if r.failWith != nil {
		return nil, r.failWith
	}
	return r.MemoryRepository.SubmitRatingTransaction(ctx, p)
}

type harness struct {
	repo     *spyRepo
	store    *cache.MemoryStore
	cache    *cache.Client
	notifier *recordingNotifier
	svc      *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := storage.NewMemoryRepository()
	mem.PutCompany(&models.CompanyRecord{
		ID: ptr("c1"), Name: ptr("Kraken"), Category: ptr("crypto_exchange"), Status: ptr("active"),
	})

	h := &harness{
		repo:     &spyRepo{MemoryRepository: mem},
		store:    cache.NewMemoryStore(),
		notifier: &recordingNotifier{},
	}
	h.cache = cache.NewClient(h.store, cache.WithRetryBackoff(time.Millisecond))
	h.svc = NewService(h.repo, h.cache, h.notifier, nil)
	return h
}

func TestRatingLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.SubmitRating(ctx, "u1", "c1", models.RatingInput{OverallRating: ptr(4)}, nil)
	require.NoError(t, err)
	assert.False(t, first.Updated)
	assert.Equal(t, "Rating submitted", h.notifier.last().Title)

	got, err := h.svc.GetUserRating(ctx, "u1", "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.RatingOverall, got.RatingType)
	assert.Equal(t, 4, *got.OverallRating)

	second, err := h.svc.SubmitRating(ctx, "u1", "c1", models.RatingInput{
		CategoryScores: models.CategoryScores{PlatformUsability: ptr(5), CustomerSupport: ptr(3)},
	}, got)
	require.NoError(t, err)
	assert.True(t, second.Updated)
	assert.Equal(t, "Rating updated", h.notifier.last().Title)

	// the user-rating cache entry was invalidated by the second submit
	got, err = h.svc.GetUserRating(ctx, "u1", "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.RatingCategories, got.RatingType)
	assert.Nil(t, got.OverallRating)
	assert.Equal(t, 4.0, models.CategoryAverage(got.CategoryScores.Values()...))

	summary, err := h.svc.GetCompanyRatings(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.RatingSummary{Average: 4.0, Count: 1}, summary.Summary)

	mine, err := h.svc.ListUserRatings(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Kraken", mine[0].Company.Name)
}

func TestGetUserRatingNone(t *testing.T) {
	h := newHarness(t)
	got, err := h.svc.GetUserRating(context.Background(), "u9", "c1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSubmitRatingRejectsInvalidInputBeforeAnyCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := cache.Fetch(ctx, h.cache, cache.Deals(), func(ctx context.Context) (string, error) { return "deals", nil })
	require.NoError(t, err)

	inputs := map[string]models.RatingInput{
		"empty":        {},
		"all zero":     {CategoryScores: models.CategoryScores{MobileApp: ptr(0)}},
		"out of range": {OverallRating: ptr(6)},
		"both kinds":   {OverallRating: ptr(4), CategoryScores: models.CategoryScores{MobileApp: ptr(2)}},
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.SubmitRating(ctx, "u1", "c1", in, nil)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
			assert.NotEmpty(t, apperr.FieldsOf(err))
		})
	}

	assert.Equal(t, 0, h.repo.submits)
	assert.Equal(t, 1, h.store.Len())
}

func TestSubmitRatingRequiresUser(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.SubmitRating(context.Background(), "", "c1", models.RatingInput{OverallRating: ptr(3)}, nil)
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))
	assert.True(t, errors.Is(err, ErrNotSignedIn))
	assert.Equal(t, 0, h.repo.submits)
}

func TestSubmitRatingFailureRestoresCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := cache.Fetch(ctx, h.cache, cache.Deals(), func(ctx context.Context) (string, error) { return "before", nil })
	require.NoError(t, err)
	before, err := h.store.Get(ctx, cache.Deals().String())
	require.NoError(t, err)

	h.repo.failWith = apperr.New(apperr.KindPermission, "rpc", "new row violates row-level security policy")
	_, err = h.svc.SubmitRating(ctx, "u1", "c1", models.RatingInput{OverallRating: ptr(2)}, nil)

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPermission))
	assert.Equal(t, 1, h.repo.submits, "mutations are not retried")

	after, err := h.store.Get(ctx, cache.Deals().String())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	n := h.notifier.last()
	assert.Equal(t, "error", n.Level)
	assert.Equal(t, "You are not allowed to rate this company.", n.Message)
}

func TestSubmitRatingSuccessInvalidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, key := range []cache.Key{cache.Deals(), cache.FeaturedDeals(), cache.CompanyRatings("c1"), cache.Categories()} {
		_, err := cache.Fetch(ctx, h.cache, key, func(ctx context.Context) (int, error) { return 1, nil })
		require.NoError(t, err)
	}

	events, stop := h.cache.Subscribe(1)
	defer stop()

	_, err := h.svc.SubmitRating(ctx, "u1", "c1", models.RatingInput{OverallRating: ptr(5)}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, h.store.Len(), "only categories survive")
	ev := <-events
	assert.Equal(t, cache.EventInvalidated, ev.Type)
	assert.Contains(t, ev.Keys, "deals|")
	assert.Contains(t, ev.Keys, "company-ratings/c1|")
	assert.Contains(t, ev.Keys, "featured-deals|")
}

func TestGetCompanyRatingsUnknownCompany(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.GetCompanyRatings(context.Background(), "nope")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.True(t, errors.Is(err, ErrCompanyNotFound))
}

func TestSummarize(t *testing.T) {
	ratings := []models.Rating{
		{OverallRating: ptr(5)},
		{CategoryScores: models.CategoryScores{PlatformUsability: ptr(4), MobileApp: ptr(3)}},
		{OverallRating: ptr(2)},
	}
	assert.Equal(t, models.RatingSummary{Average: 3.5, Count: 3}, Summarize(ratings))
	assert.Equal(t, models.RatingSummary{}, Summarize(nil))
}
