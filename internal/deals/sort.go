package deals

import (
	"sort"
	"strings"

	"github.com/oentex/oentex/internal/models"
)

// ParseSortKey maps a query value to a sort key. Unknown values sort newest first.
func ParseSortKey(s string) models.SortKey {
	switch key := models.SortKey(strings.ToLower(strings.TrimSpace(s))); key {
	case models.SortNewest, models.SortPopular, models.SortRating, models.SortName:
		return key
	default:
		return models.SortNewest
	}
}

// NormalizeFilters trims the filters, folds "all" into no category and
// resolves the sort key
func NormalizeFilters(f models.DealFilters) models.DealFilters {
	category := strings.TrimSpace(f.Category)
	if strings.EqualFold(category, models.CategoryAll) {
		category = ""
	}
	return models.DealFilters{
		Category: category,
		Search:   strings.TrimSpace(f.Search),
		Sort:     ParseSortKey(string(f.Sort)),
	}
}

// SortDeals orders deals in place. Ties fall back to newest first, then id,
// so the order matches the database query.
func SortDeals(deals []models.Deal, key models.SortKey) {
	sort.SliceStable(deals, func(i, j int) bool {
		return less(&deals[i], &deals[j], key)
	})
}

func less(a, b *models.Deal, key models.SortKey) bool {
	switch key {
	case models.SortPopular:
		if a.ClickCount != b.ClickCount {
			return a.ClickCount > b.ClickCount
		}
	case models.SortRating:
		ra, rb := companyRating(a), companyRating(b)
		if ra != rb {
			return ra > rb
		}
	case models.SortName:
		if a.CompanyName != b.CompanyName {
			return a.CompanyName < b.CompanyName
		}
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

func companyRating(d *models.Deal) float64 {
	if d.Company == nil {
		return -1
	}
	return d.Company.OverallRating
}

// matches applies the category and text filters the way the database does
func matches(d *models.Deal, f models.DealFilters) bool {
	if f.Category != "" && string(d.Category) != f.Category {
		return false
	}
	if f.Search == "" {
		return true
	}
	needle := strings.ToLower(f.Search)
	return strings.Contains(strings.ToLower(d.Title), needle) ||
		strings.Contains(strings.ToLower(d.Description), needle)
}
