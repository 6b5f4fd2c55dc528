package categories

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oentex/oentex/internal/apperr"
	"github.com/oentex/oentex/internal/cache"
	"github.com/oentex/oentex/internal/metrics"
	"github.com/oentex/oentex/internal/models"
	"github.com/oentex/oentex/internal/storage"
)

// DealsSource provides the deal and company lists the aggregates are
// computed from
type DealsSource interface {
	FetchAllDeals(ctx context.Context) (*models.DealsResult, error)
}

// Service serves categories and their aggregates. Categories are not
// critical: every failure degrades to a default shape instead of an error.
type Service struct {
	repo    storage.Repository
	cache   *cache.Client
	catalog *Catalog
	deals   DealsSource
	metrics *metrics.Metrics
}

// NewService creates a categories service. A nil catalog uses the defaults.
func NewService(repo storage.Repository, qc *cache.Client, catalog *Catalog, deals DealsSource, m *metrics.Metrics) *Service {
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Service{repo: repo, cache: qc, catalog: catalog, deals: deals, metrics: m}
}

// ListCategories returns the category list prefixed with "all". The backend
// table is used when it has rows; otherwise the fallback set is returned.
func (s *Service) ListCategories(ctx context.Context) []models.Category {
	categories, err := cache.Fetch(ctx, s.cache, cache.Categories(), func(ctx context.Context) ([]models.Category, error) {
		records, err := s.repo.ListCategories(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list categories: %w", err)
		}
		return s.parseAll(records), nil
	})
	if err != nil {
		slog.Warn("using fallback categories", "error", err, "kind", apperr.Classify(err))
		categories = nil
	}
	if len(categories) == 0 {
		categories = s.catalog.List()
	}

	out := make([]models.Category, 0, len(categories)+1)
	out = append(out, models.AllCategory)
	return append(out, categories...)
}

// Stats counts visible deals per category; on failure only {"all": 0}
func (s *Service) Stats(ctx context.Context) Stats {
	result, err := s.deals.FetchAllDeals(ctx)
	if err != nil {
		slog.Warn("failed to compute category stats", "error", err)
		return Stats{models.CategoryAll: 0}
	}
	return ComputeCategoryStats(result.Deals)
}

// Info lists active companies per category; on failure an empty map
func (s *Service) Info(ctx context.Context) map[string]models.CategoryInfo {
	result, err := s.deals.FetchAllDeals(ctx)
	if err != nil {
		slog.Warn("failed to compute category info", "error", err)
		return map[string]models.CategoryInfo{}
	}
	return ComputeCategoryInfo(result.Companies)
}

func (s *Service) parseAll(records []*models.CategoryRecord) []models.Category {
	categories := make([]models.Category, 0, len(records))
	for _, rec := range records {
		c, err := models.ParseCategory(rec)
		if err != nil {
			slog.Warn("dropping malformed category row", "error", err)
			s.metrics.MalformedRow("category")
			continue
		}
		categories = append(categories, *c)
	}
	return categories
}
