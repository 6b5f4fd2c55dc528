package models

import "time"

// Deal is a promotional offer of a trading company, with a snapshot of the
// company attached at query time
type Deal struct {
	ID             string     `json:"id"`
	CompanyID      string     `json:"company_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Terms          string     `json:"terms,omitempty"`
	DealType       string     `json:"deal_type,omitempty"`
	Value          string     `json:"value,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	ClickCount     int        `json:"click_count"`
	ConversionRate float64    `json:"conversion_rate"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// Compatibility fields derived from the company snapshot
	CompanyName string          `json:"company_name"`
	BonusAmount string          `json:"bonus_amount,omitempty"`
	Category    CompanyCategory `json:"category"`

	Company *Company `json:"company"`
}

// Visible returns true if the deal may be surfaced to users: the deal is
// active and so is its company
func (d *Deal) Visible() bool {
	return d != nil && d.IsActive && d.Company.IsActive()
}

// DealsResult is the full list of visible deals
type DealsResult struct {
	Deals      []Deal    `json:"deals"`
	Companies  []Company `json:"companies"`
	TotalCount int       `json:"totalCount"`
}

// DealsPage is one page of a filtered deals query
type DealsPage struct {
	Deals      []Deal `json:"deals"`
	TotalCount int    `json:"totalCount"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	TotalPages int    `json:"totalPages"`
	HasMore    bool   `json:"hasMore"`
}

// SortKey orders deal listings
type SortKey string

const (
	SortNewest  SortKey = "newest"
	SortPopular SortKey = "popular"
	SortRating  SortKey = "rating"
	SortName    SortKey = "name"
)

// DealFilters narrows a paginated deals query
type DealFilters struct {
	Category string  `json:"category,omitempty"`
	Search   string  `json:"search,omitempty"`
	Sort     SortKey `json:"sort,omitempty"`
}
