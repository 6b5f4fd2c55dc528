package deals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oentex/oentex/internal/metrics"
	"github.com/oentex/oentex/internal/models"
	"github.com/oentex/oentex/internal/storage"
)

// PageQuery is one page of a filtered deals listing. Page is 1-based.
type PageQuery struct {
	Page    int
	Limit   int
	Filters models.DealFilters
}

func (q PageQuery) offset() int {
	return (q.Page - 1) * q.Limit
}

// PageResult is the deals of one page and the total number of matches
type PageResult struct {
	Deals      []models.Deal
	TotalCount int
}

// Paginator serves filtered deal pages
type Paginator interface {
	Page(ctx context.Context, q PageQuery) (*PageResult, error)
}

var (
	_ Paginator = (*ServerPaginator)(nil)
	_ Paginator = (*ClientFallbackPaginator)(nil)
	_ Paginator = (*HybridPaginator)(nil)
)

// ServerPaginator runs filter, join, order and count as one backend query
type ServerPaginator struct {
	repo    storage.Repository
	metrics *metrics.Metrics
}

func NewServerPaginator(repo storage.Repository, m *metrics.Metrics) *ServerPaginator {
	return &ServerPaginator{repo: repo, metrics: m}
}

func (p *ServerPaginator) Page(ctx context.Context, q PageQuery) (*PageResult, error) {
	records, total, err := p.repo.QueryDealsPage(ctx, storage.DealQuery{
		Offset:   q.offset(),
		Limit:    q.Limit,
		Category: q.Filters.Category,
		Search:   q.Filters.Search,
		Sort:     q.Filters.Sort,
	})
	if err != nil {
		return nil, fmt.Errorf("server pagination: %w", err)
	}

	return &PageResult{
		Deals:      visibleDeals(records, p.metrics),
		TotalCount: total,
	}, nil
}

// ClientFallbackPaginator loads every active deal, then filters, sorts and
// slices in process
type ClientFallbackPaginator struct {
	repo    storage.Repository
	metrics *metrics.Metrics
}

func NewClientFallbackPaginator(repo storage.Repository, m *metrics.Metrics) *ClientFallbackPaginator {
	return &ClientFallbackPaginator{repo: repo, metrics: m}
}

func (p *ClientFallbackPaginator) Page(ctx context.Context, q PageQuery) (*PageResult, error) {
	records, err := p.repo.ListActiveDeals(ctx)
	if err != nil {
		return nil, fmt.Errorf("fallback pagination: %w", err)
	}

	all := visibleDeals(records, p.metrics)
	filtered := make([]models.Deal, 0, len(all))
	for i := range all {
		if matches(&all[i], q.Filters) {
			filtered = append(filtered, all[i])
		}
	}
	SortDeals(filtered, q.Filters.Sort)

	total := len(filtered)
	start := min(q.offset(), total)
	end := min(start+q.Limit, total)

	return &PageResult{
		Deals:      filtered[start:end],
		TotalCount: total,
	}, nil
}

// HybridPaginator prefers the server query and falls back to the client
// path when the backend lacks the capability or the query fails
type HybridPaginator struct {
	server   Paginator
	fallback Paginator
	probe    storage.Capabilities
	metrics  *metrics.Metrics
}

// NewHybridPaginator builds the default strategy for repo
func NewHybridPaginator(repo storage.Repository, m *metrics.Metrics) *HybridPaginator {
	probe, _ := repo.(storage.Capabilities)
	return &HybridPaginator{
		server:   NewServerPaginator(repo, m),
		fallback: NewClientFallbackPaginator(repo, m),
		probe:    probe,
		metrics:  m,
	}
}

func (p *HybridPaginator) Page(ctx context.Context, q PageQuery) (*PageResult, error) {
	if p.probe != nil && !p.probe.SupportsJoinedFilters() {
		p.metrics.PaginationFallback("unsupported")
		return p.fallback.Page(ctx, q)
	}

	result, err := p.server.Page(ctx, q)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	reason := "server_error"
	if errors.Is(err, storage.ErrUnsupportedQuery) {
		reason = "unsupported"
	}
	slog.Warn("server pagination failed, using client fallback",
		"error", err,
		"page", q.Page,
		"limit", q.Limit,
	)
	p.metrics.PaginationFallback(reason)
	return p.fallback.Page(ctx, q)
}

// visibleDeals parses records, dropping malformed rows and deals that are
// inactive or belong to an inactive company
func visibleDeals(records []*models.DealRecord, m *metrics.Metrics) []models.Deal {
	deals := make([]models.Deal, 0, len(records))
	for _, rec := range records {
		deal, err := models.ParseDeal(rec)
		if err != nil {
			slog.Warn("dropping malformed deal row", "error", err)
			m.MalformedRow("deal")
			continue
		}
		if !deal.Visible() {
			continue
		}
		deals = append(deals, *deal)
	}
	return deals
}
