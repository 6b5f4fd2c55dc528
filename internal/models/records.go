package models

import (
	"fmt"
	"strings"
	"time"
)

// Records are rows as they come back from the backend. Every field is
// optional until Parse* has checked it.

// CompanyRecord is an untrusted trading_companies row
type CompanyRecord struct {
	ID            *string  `json:"id" yaml:"id"`
	Slug          *string  `json:"slug" yaml:"slug"`
	Name          *string  `json:"name" yaml:"name"`
	Description   *string  `json:"description" yaml:"description"`
	LogoURL       *string  `json:"logo_url" yaml:"logo_url"`
	WebsiteURL    *string  `json:"website_url" yaml:"website_url"`
	Category      *string  `json:"category" yaml:"category"`
	OverallRating *float64 `json:"overall_rating" yaml:"overall_rating"`
	TotalReviews  *int     `json:"total_reviews" yaml:"total_reviews"`
	Status        *string  `json:"status" yaml:"status"`
}

// DealRecord is an untrusted company_deals row joined with its company
type DealRecord struct {
	ID             *string    `json:"id" yaml:"id"`
	CompanyID      *string    `json:"company_id" yaml:"company_id"`
	Title          *string    `json:"title" yaml:"title"`
	Description    *string    `json:"description" yaml:"description"`
	Terms          *string    `json:"terms" yaml:"terms"`
	DealType       *string    `json:"deal_type" yaml:"deal_type"`
	Value          *string    `json:"value" yaml:"value"`
	StartDate      *time.Time `json:"start_date" yaml:"start_date"`
	EndDate        *time.Time `json:"end_date" yaml:"end_date"`
	ClickCount     *int       `json:"click_count" yaml:"click_count"`
	ConversionRate *float64   `json:"conversion_rate" yaml:"conversion_rate"`
	IsActive       *bool      `json:"is_active" yaml:"is_active"`
	CreatedAt      *time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at" yaml:"updated_at"`

	Company *CompanyRecord `json:"company" yaml:"-"`
}

// RatingRecord is an untrusted ratings row
type RatingRecord struct {
	ID                   *string    `json:"id"`
	UserID               *string    `json:"user_id"`
	CompanyID            *string    `json:"company_id"`
	OverallRating        *int       `json:"overall_rating"`
	PlatformUsability    *int       `json:"platform_usability"`
	CustomerSupport      *int       `json:"customer_support"`
	FeesCommissions      *int       `json:"fees_commissions"`
	SecurityTrust        *int       `json:"security_trust"`
	EducationalResources *int       `json:"educational_resources"`
	MobileApp            *int       `json:"mobile_app"`
	CreatedAt            *time.Time `json:"created_at"`
	UpdatedAt            *time.Time `json:"updated_at"`

	Company *CompanyRecord `json:"company"`
}

// CategoryRecord is an untrusted categories row
type CategoryRecord struct {
	Value       *string `json:"value"`
	Label       *string `json:"label"`
	Icon        *string `json:"icon"`
	Description *string `json:"description"`
}

// MalformedError reports a backend row that failed validation
type MalformedError struct {
	Entity string
	ID     string
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	id := e.ID
	if id == "" {
		id = "?"
	}
	return fmt.Sprintf("malformed %s %s: %s %s", e.Entity, id, e.Field, e.Reason)
}

// ParseCompany validates a company record
func ParseCompany(rec *CompanyRecord) (*Company, error) {
	if rec == nil {
		return nil, &MalformedError{Entity: "company", Field: "row", Reason: "is missing"}
	}
	id := str(rec.ID)
	bad := func(field, reason string) error {
		return &MalformedError{Entity: "company", ID: id, Field: field, Reason: reason}
	}

	if id == "" {
		return nil, bad("id", "is required")
	}
	if str(rec.Name) == "" {
		return nil, bad("name", "is required")
	}

	category := CompanyCategory(str(rec.Category))
	if !category.Valid() {
		return nil, bad("category", fmt.Sprintf("%q is not a known category", category))
	}

	rating := 0.0
	if rec.OverallRating != nil {
		rating = *rec.OverallRating
	}
	if rating < 0 || rating > MaxScore {
		return nil, bad("overall_rating", "must be between 0 and 5")
	}

	reviews := 0
	if rec.TotalReviews != nil {
		reviews = *rec.TotalReviews
	}
	if reviews < 0 {
		return nil, bad("total_reviews", "must not be negative")
	}

	status := CompanyStatus(str(rec.Status))
	if status == "" {
		return nil, bad("status", "is required")
	}

	slug := str(rec.Slug)
	if slug == "" {
		slug = slugify(str(rec.Name))
	}

	return &Company{
		ID:            id,
		Slug:          slug,
		Name:          str(rec.Name),
		Description:   str(rec.Description),
		LogoURL:       str(rec.LogoURL),
		WebsiteURL:    str(rec.WebsiteURL),
		Category:      category,
		OverallRating: rating,
		TotalReviews:  reviews,
		Status:        status,
	}, nil
}

// ParseDeal validates a deal record and derives the compatibility fields
func ParseDeal(rec *DealRecord) (*Deal, error) {
	if rec == nil {
		return nil, &MalformedError{Entity: "deal", Field: "row", Reason: "is missing"}
	}
	id := str(rec.ID)
	bad := func(field, reason string) error {
		return &MalformedError{Entity: "deal", ID: id, Field: field, Reason: reason}
	}

	if id == "" {
		return nil, bad("id", "is required")
	}
	if str(rec.CompanyID) == "" {
		return nil, bad("company_id", "is required")
	}
	if str(rec.Title) == "" {
		return nil, bad("title", "is required")
	}
	if rec.IsActive == nil {
		return nil, bad("is_active", "is required")
	}
	if rec.CreatedAt == nil {
		return nil, bad("created_at", "is required")
	}
	if rec.Company == nil {
		return nil, bad("company", "is missing")
	}

	company, err := ParseCompany(rec.Company)
	if err != nil {
		return nil, bad("company", err.Error())
	}
	if company.ID != *rec.CompanyID {
		return nil, bad("company", "does not match company_id")
	}

	clicks := 0
	if rec.ClickCount != nil {
		clicks = *rec.ClickCount
	}
	if clicks < 0 {
		return nil, bad("click_count", "must not be negative")
	}

	conversion := 0.0
	if rec.ConversionRate != nil {
		conversion = *rec.ConversionRate
	}

	updated := *rec.CreatedAt
	if rec.UpdatedAt != nil {
		updated = *rec.UpdatedAt
	}

	value := str(rec.Value)
	return &Deal{
		ID:             id,
		CompanyID:      company.ID,
		Title:          str(rec.Title),
		Description:    str(rec.Description),
		Terms:          str(rec.Terms),
		DealType:       str(rec.DealType),
		Value:          value,
		StartDate:      rec.StartDate,
		EndDate:        rec.EndDate,
		ClickCount:     clicks,
		ConversionRate: conversion,
		IsActive:       *rec.IsActive,
		CreatedAt:      *rec.CreatedAt,
		UpdatedAt:      updated,
		CompanyName:    company.Name,
		BonusAmount:    value,
		Category:       company.Category,
		Company:        company,
	}, nil
}

// ParseRating validates a rating record and classifies it
func ParseRating(rec *RatingRecord) (*Rating, error) {
	if rec == nil {
		return nil, &MalformedError{Entity: "rating", Field: "row", Reason: "is missing"}
	}
	id := str(rec.ID)
	bad := func(field, reason string) error {
		return &MalformedError{Entity: "rating", ID: id, Field: field, Reason: reason}
	}

	if id == "" {
		return nil, bad("id", "is required")
	}
	if str(rec.UserID) == "" {
		return nil, bad("user_id", "is required")
	}
	if str(rec.CompanyID) == "" {
		return nil, bad("company_id", "is required")
	}

	r := &Rating{
		ID:            id,
		UserID:        *rec.UserID,
		CompanyID:     *rec.CompanyID,
		OverallRating: nonZero(rec.OverallRating),
		CategoryScores: CategoryScores{
			PlatformUsability:    nonZero(rec.PlatformUsability),
			CustomerSupport:      nonZero(rec.CustomerSupport),
			FeesCommissions:      nonZero(rec.FeesCommissions),
			SecurityTrust:        nonZero(rec.SecurityTrust),
			EducationalResources: nonZero(rec.EducationalResources),
			MobileApp:            nonZero(rec.MobileApp),
		},
	}

	if r.OverallRating != nil && !inRange(*r.OverallRating) {
		return nil, bad("overall_rating", "must be between 1 and 5")
	}
	for field, v := range r.CategoryScores.ByField() {
		if v != nil && !inRange(*v) {
			return nil, bad(field, "must be between 1 and 5")
		}
	}
	if r.OverallRating == nil && !r.CategoryScores.Any() {
		return nil, bad("overall_rating", "no score is set")
	}

	if rec.CreatedAt != nil {
		r.CreatedAt = *rec.CreatedAt
	}
	r.UpdatedAt = r.CreatedAt
	if rec.UpdatedAt != nil {
		r.UpdatedAt = *rec.UpdatedAt
	}
	r.RatingType = r.Classify()

	if rec.Company != nil {
		company, err := ParseCompany(rec.Company)
		if err != nil {
			return nil, bad("company", err.Error())
		}
		r.Company = company
	}

	return r, nil
}

// ParseCategory validates a category record
func ParseCategory(rec *CategoryRecord) (*Category, error) {
	if rec == nil {
		return nil, &MalformedError{Entity: "category", Field: "row", Reason: "is missing"}
	}
	value := str(rec.Value)
	if !CompanyCategory(value).Valid() {
		return nil, &MalformedError{Entity: "category", ID: value, Field: "value", Reason: "is not a known category"}
	}
	label := str(rec.Label)
	if label == "" {
		return nil, &MalformedError{Entity: "category", ID: value, Field: "label", Reason: "is required"}
	}
	return &Category{
		Value:       value,
		Label:       label,
		Icon:        str(rec.Icon),
		Description: str(rec.Description),
	}, nil
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func nonZero(v *int) *int {
	if v == nil || *v == 0 {
		return nil
	}
	out := *v
	return &out
}

func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
