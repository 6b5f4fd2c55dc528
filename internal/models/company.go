package models

// CompanyStatus represents the lifecycle status of a trading company
type CompanyStatus string

const (
	CompanyActive   CompanyStatus = "active"
	CompanyInactive CompanyStatus = "inactive"
)

// CompanyCategory classifies a trading company
type CompanyCategory string

const (
	CategoryCryptoExchange CompanyCategory = "crypto_exchange"
	CategoryStockBroker    CompanyCategory = "stock_broker"
	CategoryForexBroker    CompanyCategory = "forex_broker"
	CategoryPropFirm       CompanyCategory = "prop_firm"
	CategoryOptionsBroker  CompanyCategory = "options_broker"
	CategoryTradingTools   CompanyCategory = "trading_tools"

	// CategoryAll is the synthetic pseudo-category matching every company
	CategoryAll = "all"
)

// CompanyCategories lists every known category in display order
var CompanyCategories = []CompanyCategory{
	CategoryCryptoExchange,
	CategoryStockBroker,
	CategoryForexBroker,
	CategoryPropFirm,
	CategoryOptionsBroker,
	CategoryTradingTools,
}

// Valid returns true if c is one of the known categories
func (c CompanyCategory) Valid() bool {
	for _, known := range CompanyCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Company is a trading platform being rated and offering deals
type Company struct {
	ID            string          `json:"id"`
	Slug          string          `json:"slug"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	LogoURL       string          `json:"logo_url,omitempty"`
	WebsiteURL    string          `json:"website_url,omitempty"`
	Category      CompanyCategory `json:"category"`
	OverallRating float64         `json:"overall_rating"`
	TotalReviews  int             `json:"total_reviews"`
	Status        CompanyStatus   `json:"status"`
}

// IsActive returns true if the company may be shown to users
func (c *Company) IsActive() bool {
	return c != nil && c.Status == CompanyActive
}
