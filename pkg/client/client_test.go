package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oentex/oentex/internal/api"
	"github.com/oentex/oentex/internal/auth"
	"github.com/oentex/oentex/internal/cache"
	"github.com/oentex/oentex/internal/categories"
	"github.com/oentex/oentex/internal/config"
	"github.com/oentex/oentex/internal/deals"
	"github.com/oentex/oentex/internal/functions"
	"github.com/oentex/oentex/internal/models"
	"github.com/oentex/oentex/internal/ratings"
	"github.com/oentex/oentex/internal/storage"
)

const seed = `
companies:
  - id: c1
    name: Kraken
    category: crypto_exchange
    overall_rating: 4.5
    status: active
deals:
  - id: d1
    company_id: c1
    title: Zero fee trading
    is_active: true
    click_count: 2
    created_at: 2026-01-01T00:00:00Z
`

func newServer(t *testing.T) (*httptest.Server, *auth.Verifier) {
	t.Helper()
	repo := storage.NewMemoryRepository()
	require.NoError(t, repo.LoadSeed([]byte(seed)))

	qc := cache.NewClient(cache.NewMemoryStore(), cache.WithRetryBackoff(time.Millisecond))
	dealSvc := deals.NewService(repo, qc, deals.DefaultConfig)
	subscribers := functions.NewMemorySubscriberStore()
	verifier := auth.NewVerifier("client-secret")

	s := api.NewServer(config.ServerConfig{}, api.Dependencies{
		Repo:       repo,
		Deals:      dealSvc,
		Ratings:    ratings.NewService(repo, qc, nil, nil),
		Categories: categories.NewService(repo, qc, nil, dealSvc, nil),
		Functions:  functions.NewRegistry(functions.NewNewsletterSubscribe(subscribers), functions.NewNewsletterStats(subscribers)),
		Verifier:   verifier,
		AuthState:  auth.State{Ready: true},
	})

	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv, verifier
}

func TestClientDeals(t *testing.T) {
	srv, _ := newServer(t)
	c := NewClient(srv.URL+"/", WithTimeout(5*time.Second))
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	all, err := c.ListDeals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, all.TotalCount)

	page, err := c.DealsPage(ctx, PageOptions{Page: 1, Limit: 5, Search: "ZERO"})
	require.NoError(t, err)
	require.Len(t, page.Deals, 1)
	assert.Equal(t, "d1", page.Deals[0].ID)

	require.NoError(t, c.TrackClick(ctx, "d1"))

	cats, err := c.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryAll, cats[0].Value)

	stats, err := c.CategoryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["crypto_exchange"])
}

func TestClientRatings(t *testing.T) {
	srv, verifier := newServer(t)
	ctx := context.Background()

	anon := NewClient(srv.URL)
	_, err := anon.MyRatings(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	token, err := verifier.Issue(auth.Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	c := NewClient(srv.URL, WithToken(token), WithHTTPClient(srv.Client()))

	session, err := c.Session(ctx)
	require.NoError(t, err)
	assert.True(t, session.Authenticated)
	assert.Equal(t, "u1", session.UserID)

	five := 5
	res, err := c.SubmitRating(ctx, "c1", models.RatingInput{OverallRating: &five})
	require.NoError(t, err)
	assert.False(t, res.Updated)

	mine, err := c.MyRating(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, mine.Rating)
	assert.Equal(t, models.RatingOverall, mine.RatingType)

	listing, err := anon.CompanyRatings(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, listing.Summary.Count)

	seven := 7
	_, err = c.SubmitRating(ctx, "c1", models.RatingInput{OverallRating: &seven})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "validation", apiErr.Code)
	assert.Contains(t, apiErr.Fields, "overall_rating")
}

func TestClientContactAndNewsletter(t *testing.T) {
	srv, _ := newServer(t)
	c := NewClient(srv.URL)
	ctx := context.Background()

	msg, err := c.Contact(ctx, models.ContactInput{Name: "Ana", Email: "ana@example.com", Message: "Hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)

	res, err := c.Subscribe(ctx, models.NewsletterRequest{Email: "ana@example.com"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	stats, err := c.NewsletterStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Subscribers)

	var out models.NewsletterStats
	require.NoError(t, c.Invoke(ctx, functions.NewsletterStatsName, nil, &out))
	assert.Equal(t, 1, out.Subscribers)

	err = c.Invoke(ctx, "missing", nil, nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}
