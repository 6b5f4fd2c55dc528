package deals

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/oentex/oentex/internal/apperr"
	"github.com/oentex/oentex/internal/cache"
	"github.com/oentex/oentex/internal/metrics"
	"github.com/oentex/oentex/internal/models"
	"github.com/oentex/oentex/internal/storage"
)

// Config holds listing sizes
type Config struct {
	DefaultPageSize int
	MaxPageSize     int
	FeaturedLimit   int
}

// DefaultConfig is 12 per page, at most 100, 6 featured deals
var DefaultConfig = Config{
	DefaultPageSize: 12,
	MaxPageSize:     100,
	FeaturedLimit:   6,
}

// Service is the deals data-access layer
type Service struct {
	repo      storage.Repository
	cache     *cache.Client
	paginator Paginator
	metrics   *metrics.Metrics
	cfg       Config
}

// Option configures a Service
type Option func(*Service)

// WithPaginator replaces the default hybrid pagination strategy
func WithPaginator(p Paginator) Option {
	return func(s *Service) { s.paginator = p }
}

// WithMetrics records malformed rows and pagination fallbacks
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a deals service
func NewService(repo storage.Repository, qc *cache.Client, cfg Config, opts ...Option) *Service {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = DefaultConfig.DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = DefaultConfig.MaxPageSize
	}
	if cfg.FeaturedLimit <= 0 {
		cfg.FeaturedLimit = DefaultConfig.FeaturedLimit
	}

	s := &Service{repo: repo, cache: qc, cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.paginator == nil {
		s.paginator = NewHybridPaginator(repo, s.metrics)
	}
	return s
}

// FetchAllDeals returns every visible deal newest first, with the active
// companies alongside
func (s *Service) FetchAllDeals(ctx context.Context) (*models.DealsResult, error) {
	return cache.Fetch(ctx, s.cache, cache.Deals(), func(ctx context.Context) (*models.DealsResult, error) {
		var (
			dealRows    []*models.DealRecord
			companyRows []*models.CompanyRecord
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			dealRows, err = s.repo.ListActiveDeals(gctx)
			return err
		})
		g.Go(func() error {
			var err error
			companyRows, err = s.repo.ListActiveCompanies(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("failed to fetch deals: %w", err)
		}

		deals := visibleDeals(dealRows, s.metrics)
		return &models.DealsResult{
			Deals:      deals,
			Companies:  s.parseCompanies(companyRows),
			TotalCount: len(deals),
		}, nil
	})
}

// FetchPaginatedDeals returns one page of the filtered listing. Page is
// 1-based; limit defaults to the configured page size and is capped.
func (s *Service) FetchPaginatedDeals(ctx context.Context, page, limit int, filters models.DealFilters) (*models.DealsPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	limit = min(limit, s.cfg.MaxPageSize)
	filters = NormalizeFilters(filters)

	key := cache.DealsPage(page, limit, filters.Category, strings.ToLower(filters.Search), string(filters.Sort))
	return cache.Fetch(ctx, s.cache, key, func(ctx context.Context) (*models.DealsPage, error) {
		result, err := s.paginator.Page(ctx, PageQuery{Page: page, Limit: limit, Filters: filters})
		if err != nil {
			return nil, err
		}
		return newPage(result, page, limit), nil
	})
}

func newPage(r *PageResult, page, limit int) *models.DealsPage {
	deals := r.Deals
	if deals == nil {
		deals = []models.Deal{}
	}
	totalPages := (r.TotalCount + limit - 1) / limit
	return &models.DealsPage{
		Deals:      deals,
		TotalCount: r.TotalCount,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
		HasMore:    page*limit < r.TotalCount,
	}
}

// FetchFeaturedDeals returns the most clicked visible deals
func (s *Service) FetchFeaturedDeals(ctx context.Context) ([]models.Deal, error) {
	return cache.Fetch(ctx, s.cache, cache.FeaturedDeals(), func(ctx context.Context) ([]models.Deal, error) {
		records, err := s.repo.ListActiveDeals(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch featured deals: %w", err)
		}
		deals := visibleDeals(records, s.metrics)
		SortDeals(deals, models.SortPopular)
		return deals[:min(len(deals), s.cfg.FeaturedLimit)], nil
	})
}

// TrackClick records one outbound click on a deal. Writes are never retried.
func (s *Service) TrackClick(ctx context.Context, dealID string) error {
	dealID = strings.TrimSpace(dealID)
	if dealID == "" {
		return apperr.Validation("track click", map[string]string{"deal_id": "is required"})
	}

	if err := s.repo.IncrementDealClicks(ctx, dealID); err != nil {
		return apperr.Wrap("", "track click", err)
	}

	if err := s.cache.Invalidate(ctx, cache.FeaturedDeals()); err != nil {
		slog.Warn("failed to invalidate featured deals", "error", err)
	}
	return nil
}

func (s *Service) parseCompanies(records []*models.CompanyRecord) []models.Company {
	companies := make([]models.Company, 0, len(records))
	for _, rec := range records {
		c, err := models.ParseCompany(rec)
		if err != nil {
			slog.Warn("dropping malformed company row", "error", err)
			s.metrics.MalformedRow("company")
			continue
		}
		if c.IsActive() {
			companies = append(companies, *c)
		}
	}
	return companies
}
