package categories

import "github.com/oentex/oentex/internal/models"

// Stats maps a category value to the number of matching deals. The "all"
// key holds the total.
type Stats map[string]int

// ComputeCategoryStats counts deals per category
func ComputeCategoryStats(deals []models.Deal) Stats {
	stats := Stats{models.CategoryAll: len(deals)}
	for i := range deals {
		category := string(dealCategory(&deals[i]))
		if category == "" {
			continue
		}
		stats[category]++
	}
	return stats
}

// ComputeCategoryInfo groups company names by category, keeping input order
func ComputeCategoryInfo(companies []models.Company) map[string]models.CategoryInfo {
	info := make(map[string]models.CategoryInfo)
	for _, c := range companies {
		if c.Category == "" {
			continue
		}
		entry := info[string(c.Category)]
		entry.Companies = append(entry.Companies, c.Name)
		entry.Count++
		info[string(c.Category)] = entry
	}
	return info
}

func dealCategory(d *models.Deal) models.CompanyCategory {
	if d.Company != nil && d.Company.Category != "" {
		return d.Company.Category
	}
	return d.Category
}
