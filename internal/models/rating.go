package models

import (
	"math"
	"time"
)

// RatingType tells whether a rating is a single overall score or per-category scores
type RatingType string

const (
	RatingOverall    RatingType = "overall"
	RatingCategories RatingType = "categories"
)

// Rating category field names, as stored by the backend
const (
	FieldPlatformUsability    = "platform_usability"
	FieldCustomerSupport      = "customer_support"
	FieldFeesCommissions      = "fees_commissions"
	FieldSecurityTrust        = "security_trust"
	FieldEducationalResources = "educational_resources"
	FieldMobileApp            = "mobile_app"
)

// RatingFields lists the category score fields in display order
var RatingFields = []string{
	FieldPlatformUsability,
	FieldCustomerSupport,
	FieldFeesCommissions,
	FieldSecurityTrust,
	FieldEducationalResources,
	FieldMobileApp,
}

const (
	MinScore = 1
	MaxScore = 5
)

// CategoryScores holds the optional per-category scores of a rating
type CategoryScores struct {
	PlatformUsability    *int `json:"platform_usability,omitempty"`
	CustomerSupport      *int `json:"customer_support,omitempty"`
	FeesCommissions      *int `json:"fees_commissions,omitempty"`
	SecurityTrust        *int `json:"security_trust,omitempty"`
	EducationalResources *int `json:"educational_resources,omitempty"`
	MobileApp            *int `json:"mobile_app,omitempty"`
}

// ByField returns the scores keyed by field name, nil values included
func (s CategoryScores) ByField() map[string]*int {
	return map[string]*int{
		FieldPlatformUsability:    s.PlatformUsability,
		FieldCustomerSupport:      s.CustomerSupport,
		FieldFeesCommissions:      s.FeesCommissions,
		FieldSecurityTrust:        s.SecurityTrust,
		FieldEducationalResources: s.EducationalResources,
		FieldMobileApp:            s.MobileApp,
	}
}

// Values returns the set scores in field order. Zero counts as unset.
func (s CategoryScores) Values() []int {
	byField := s.ByField()
	values := make([]int, 0, len(RatingFields))
	for _, field := range RatingFields {
		if v := byField[field]; v != nil && *v != 0 {
			values = append(values, *v)
		}
	}
	return values
}

// Any returns true if at least one non-zero score is set
func (s CategoryScores) Any() bool {
	return len(s.Values()) > 0
}

// Rating is a user's score for a company
type Rating struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	CompanyID     string     `json:"company_id"`
	OverallRating *int       `json:"overall_rating,omitempty"`
	CategoryScores
	RatingType RatingType `json:"rating_type"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	Company *Company `json:"company,omitempty"`
}

// Classify inspects which fields are populated
func (r *Rating) Classify() RatingType {
	if r.CategoryScores.Any() {
		return RatingCategories
	}
	return RatingOverall
}

// EffectiveScore returns the overall rating, or the category average for
// rows that only carry category scores
func (r *Rating) EffectiveScore() float64 {
	if r.OverallRating != nil && *r.OverallRating != 0 {
		return float64(*r.OverallRating)
	}
	return CategoryAverage(r.CategoryScores.Values()...)
}

// CategoryAverage is the unweighted mean of the non-zero scores, rounded to
// one decimal place. It returns 0 when no score is set.
func CategoryAverage(scores ...int) float64 {
	sum, n := 0, 0
	for _, s := range scores {
		if s == 0 {
			continue
		}
		sum += s
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Round(float64(sum)/float64(n)*10) / 10
}

// RatingInput is a rating submission: either an overall score or category scores
type RatingInput struct {
	OverallRating *int `json:"overall_rating,omitempty"`
	CategoryScores
}

// Type returns the rating type the input will be stored as
func (in RatingInput) Type() RatingType {
	if in.OverallRating != nil && *in.OverallRating != 0 {
		return RatingOverall
	}
	return RatingCategories
}

// Validate checks scores are in range and that exactly one of the overall
// score or the category scores is present. Failures are keyed by field name.
func (in RatingInput) Validate() map[string]string {
	fields := make(map[string]string)

	hasOverall := in.OverallRating != nil && *in.OverallRating != 0
	if hasOverall && !inRange(*in.OverallRating) {
		fields["overall_rating"] = "must be between 1 and 5"
	}

	for field, v := range in.CategoryScores.ByField() {
		if v != nil && *v != 0 && !inRange(*v) {
			fields[field] = "must be between 1 and 5"
		}
	}

	switch {
	case !hasOverall && !in.CategoryScores.Any():
		fields["rating"] = "an overall rating or at least one category score is required"
	case hasOverall && in.CategoryScores.Any():
		fields["rating"] = "submit either an overall rating or category scores, not both"
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}

func inRange(v int) bool {
	return v >= MinScore && v <= MaxScore
}

// RatingSummary aggregates the ratings of one company
type RatingSummary struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// CompanyRatings is the public rating listing of a company
type CompanyRatings struct {
	CompanyID string        `json:"company_id"`
	Ratings   []Rating      `json:"ratings"`
	Summary   RatingSummary `json:"summary"`
}

// SubmitResult is returned by the rating procedure
type SubmitResult struct {
	Rating        Rating  `json:"rating"`
	Updated       bool    `json:"updated"`
	OverallRating float64 `json:"company_overall_rating"`
	TotalReviews  int     `json:"company_total_reviews"`
}
