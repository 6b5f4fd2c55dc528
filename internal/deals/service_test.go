package deals

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oentex/oentex/internal/apperr"
	"github.com/oentex/oentex/internal/cache"
	"github.com/oentex/oentex/internal/models"
	"github.com/oentex/oentex/internal/ratings"
	"github.com/oentex/oentex/internal/storage"
)

func ptr[T any](v T) *T { return &v }

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fixture builds 3 active companies and 1 inactive one with 20 deals, some
// inactive, some sharing timestamps
func fixture(t *testing.T, opts ...storage.MemoryOption) *storage.MemoryRepository {
	t.Helper()
	repo := storage.NewMemoryRepository(opts...)

	companies := []struct {
		id, name, category, status string
		rating                     float64
	}{
		{"c1", "Kraken", "crypto_exchange", "active", 4.5},
		{"c2", "Apex Funding", "prop_firm", "active", 3.9},
		{"c3", "Interactive Brokers", "stock_broker", "active", 4.5},
		{"c4", "Dead Exchange", "crypto_exchange", "inactive", 1.0},
	}
	for _, c := range companies {
		repo.PutCompany(&models.CompanyRecord{
			ID: ptr(c.id), Name: ptr(c.name), Category: ptr(c.category),
			Status: ptr(c.status), OverallRating: ptr(c.rating),
		})
	}

	for i := 0; i < 20; i++ {
		company := companies[i%4].id
		title := fmt.Sprintf("Deal %02d", i)
		if i%3 == 0 {
			title += " crypto bonus"
		}
		repo.PutDeal(&models.DealRecord{
			ID:         ptr(fmt.Sprintf("d%02d", i)),
			CompanyID:  ptr(company),
			Title:      ptr(title),
			IsActive:   ptr(i%7 != 0),
			ClickCount: ptr((i * 37) % 11),
			CreatedAt:  ptr(base.Add(time.Duration(i/2) * time.Hour)),
		})
	}
	return repo
}

func newService(repo storage.Repository, opts ...Option) *Service {
	qc := cache.NewClient(cache.NewMemoryStore(), cache.WithRetryBackoff(time.Millisecond))
	return NewService(repo, qc, DefaultConfig, opts...)
}

func ids(deals []models.Deal) []string {
	out := make([]string, len(deals))
	for i, d := range deals {
		out[i] = d.ID
	}
	return out
}

func TestFetchAllDeals(t *testing.T) {
	svc := newService(fixture(t))

	result, err := svc.FetchAllDeals(context.Background())
	require.NoError(t, err)

	assert.Equal(t, len(result.Deals), result.TotalCount)
	assert.Len(t, result.Companies, 3)
	for _, d := range result.Deals {
		assert.True(t, d.IsActive)
		assert.Equal(t, models.CompanyActive, d.Company.Status)
		assert.NotEqual(t, "c4", d.CompanyID)
	}
	for i := 1; i < len(result.Deals); i++ {
		assert.False(t, result.Deals[i].CreatedAt.After(result.Deals[i-1].CreatedAt))
	}
}

func TestServerAndFallbackAgree(t *testing.T) {
	repo := fixture(t)
	server := NewServerPaginator(repo, nil)
	fallback := NewClientFallbackPaginator(repo, nil)
	ctx := context.Background()

	for _, sort := range []models.SortKey{models.SortNewest, models.SortPopular, models.SortRating, models.SortName} {
		for _, category := range []string{"", "crypto_exchange", "prop_firm"} {
			for _, search := range []string{"", "CRYPTO", "deal 1"} {
				for page := 1; page <= 3; page++ {
					q := PageQuery{Page: page, Limit: 4, Filters: models.DealFilters{Category: category, Search: search, Sort: sort}}
					name := fmt.Sprintf("%s/%s/%s/%d", sort, category, search, page)

					fromServer, err := server.Page(ctx, q)
					require.NoError(t, err, name)
					fromClient, err := fallback.Page(ctx, q)
					require.NoError(t, err, name)

					assert.Equal(t, fromServer.TotalCount, fromClient.TotalCount, name)
					assert.Equal(t, ids(fromServer.Deals), ids(fromClient.Deals), name)
				}
			}
		}
	}
}

func TestFetchPaginatedDealsIsIdempotent(t *testing.T) {
	svc := newService(fixture(t))
	ctx := context.Background()
	filters := models.DealFilters{Category: "crypto_exchange", Sort: models.SortPopular}

	first, err := svc.FetchPaginatedDeals(ctx, 1, 2, filters)
	require.NoError(t, err)
	second, err := svc.FetchPaginatedDeals(ctx, 1, 2, filters)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first.Deals, 2)
	assert.Equal(t, 1, first.Page)
	assert.Equal(t, 2, first.Limit)
	assert.Equal(t, (first.TotalCount+1)/2, first.TotalPages)
	assert.True(t, first.HasMore)
}

func TestFetchPaginatedDealsEmptySearch(t *testing.T) {
	svc := newService(fixture(t))

	page, err := svc.FetchPaginatedDeals(context.Background(), 1, 12, models.DealFilters{Search: "no such deal"})
	require.NoError(t, err)
	assert.NotNil(t, page.Deals)
	assert.Empty(t, page.Deals)
	assert.Equal(t, 0, page.TotalCount)
	assert.Equal(t, 0, page.TotalPages)
	assert.False(t, page.HasMore)
}

func TestFetchPaginatedDealsNormalizesInput(t *testing.T) {
	svc := newService(fixture(t))
	ctx := context.Background()

	page, err := svc.FetchPaginatedDeals(ctx, 0, 1000, models.DealFilters{Category: "all", Sort: "bogus"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, DefaultConfig.MaxPageSize, page.Limit)
	assert.Len(t, page.Deals, page.TotalCount)

	all, err := svc.FetchAllDeals(ctx)
	require.NoError(t, err)
	assert.Equal(t, all.TotalCount, page.TotalCount)
}

type failingPageRepo struct {
	*storage.MemoryRepository
	calls int
}

func (r *failingPageRepo) QueryDealsPage(ctx context.Context, q storage.DealQuery) ([]*models.DealRecord, int, error) {
	r.calls++
	return nil, 0, apperr.New(apperr.KindServer, "select", "function does not exist")
}

func TestHybridPaginatorFallsBack(t *testing.T) {
	q := PageQuery{Page: 1, Limit: 5, Filters: models.DealFilters{Sort: models.SortName}}
	ctx := context.Background()

	expected, err := NewServerPaginator(fixture(t), nil).Page(ctx, q)
	require.NoError(t, err)

	t.Run("on server error", func(t *testing.T) {
		repo := &failingPageRepo{MemoryRepository: fixture(t)}
		got, err := NewHybridPaginator(repo, nil).Page(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, 1, repo.calls)
		assert.Equal(t, ids(expected.Deals), ids(got.Deals))
		assert.Equal(t, expected.TotalCount, got.TotalCount)
	})

	t.Run("when the capability is missing", func(t *testing.T) {
		repo := fixture(t, storage.WithoutJoinedFilters())
		got, err := NewHybridPaginator(repo, nil).Page(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, ids(expected.Deals), ids(got.Deals))
	})
}

func TestFetchFeaturedDeals(t *testing.T) {
	svc := newService(fixture(t))
	ctx := context.Background()

	featured, err := svc.FetchFeaturedDeals(ctx)
	require.NoError(t, err)
	require.Len(t, featured, DefaultConfig.FeaturedLimit)
	for i := 1; i < len(featured); i++ {
		assert.GreaterOrEqual(t, featured[i-1].ClickCount, featured[i].ClickCount)
	}
}

func TestTrackClickInvalidatesFeatured(t *testing.T) {
	repo := fixture(t)
	svc := newService(repo)
	ctx := context.Background()

	before, err := svc.FetchFeaturedDeals(ctx)
	require.NoError(t, err)
	target := before[len(before)-1]

	for i := 0; i < 20; i++ {
		require.NoError(t, svc.TrackClick(ctx, target.ID))
	}

	after, err := svc.FetchFeaturedDeals(ctx)
	require.NoError(t, err)
	assert.Equal(t, target.ID, after[0].ID)
	assert.Equal(t, target.ClickCount+20, after[0].ClickCount)

	err = svc.TrackClick(ctx, "  ")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

type brokenRowsRepo struct {
	*storage.MemoryRepository
}

func (r brokenRowsRepo) ListActiveDeals(ctx context.Context) ([]*models.DealRecord, error) {
	rows, err := r.MemoryRepository.ListActiveDeals(ctx)
	if err != nil {
		return nil, err
	}
	rows[0].Title = nil
	rows[1].Company = nil
	return rows, nil
}

func TestMalformedRowsAreDropped(t *testing.T) {
	repo := fixture(t)
	good, err := newService(repo).FetchAllDeals(context.Background())
	require.NoError(t, err)

	got, err := newService(brokenRowsRepo{repo}).FetchAllDeals(context.Background())
	require.NoError(t, err)
	assert.Less(t, got.TotalCount, good.TotalCount)
	assert.GreaterOrEqual(t, got.TotalCount, good.TotalCount-2)
}

func TestParseSortKey(t *testing.T) {
	assert.Equal(t, models.SortPopular, ParseSortKey(" Popular "))
	assert.Equal(t, models.SortNewest, ParseSortKey("cheapest"))
	assert.Equal(t, models.SortNewest, ParseSortKey(""))
}

func TestSortDealsTieBreak(t *testing.T) {
	deals := []models.Deal{
		{ID: "b", ClickCount: 5, CreatedAt: base},
		{ID: "a", ClickCount: 5, CreatedAt: base},
		{ID: "c", ClickCount: 5, CreatedAt: base.Add(time.Hour)},
		{ID: "d", ClickCount: 9, CreatedAt: base},
	}
	SortDeals(deals, models.SortPopular)
	assert.Equal(t, []string{"d", "c", "a", "b"}, ids(deals))
}

func TestFetchPropagatesPermissionErrors(t *testing.T) {
	repo := &deniedRepo{MemoryRepository: fixture(t)}
	_, err := newService(repo).FetchAllDeals(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPermission))
	assert.Equal(t, 1, repo.calls)
}

type deniedRepo struct {
	*storage.MemoryRepository
	calls int
}

func (r *deniedRepo) ListActiveDeals(ctx context.Context) ([]*models.DealRecord, error) {
	r.calls++
	return nil, apperr.New(apperr.KindPermission, "select", "permission denied for table company_deals")
}

// stallingRepo holds the first deals query open until it is cancelled
type stallingRepo struct {
	*storage.MemoryRepository
	calls   atomic.Int32
	started chan struct{}
}

func (r *stallingRepo) ListActiveDeals(ctx context.Context) ([]*models.DealRecord, error) {
	if r.calls.Add(1) == 1 {
		close(r.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.MemoryRepository.ListActiveDeals(ctx)
}

type discardNotifier struct{}

func (discardNotifier) Notify(string, ratings.Notification) {}

func TestReaderSurvivesConcurrentRatingSubmit(t *testing.T) {
	repo := &stallingRepo{MemoryRepository: fixture(t), started: make(chan struct{})}
	qc := cache.NewClient(cache.NewMemoryStore(), cache.WithRetryBackoff(time.Millisecond))
	svc := NewService(repo, qc, DefaultConfig)
	ratingSvc := ratings.NewService(repo, qc, discardNotifier{}, nil)

	type outcome struct {
		result *models.DealsResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := svc.FetchAllDeals(context.Background())
		done <- outcome{result, err}
	}()

	<-repo.started
	_, err := ratingSvc.SubmitRating(context.Background(), "u2", "c1", models.RatingInput{OverallRating: ptr(5)}, nil)
	require.NoError(t, err)

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.NotEmpty(t, out.result.Deals)
	case <-time.After(2 * time.Second):
		t.Fatal("deals reader did not return")
	}
	assert.EqualValues(t, 2, repo.calls.Load())
}
