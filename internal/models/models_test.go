package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func companyRecord() *CompanyRecord {
	return &CompanyRecord{
		ID:            ptr("c1"),
		Name:          ptr("Kraken Pro"),
		Category:      ptr("crypto_exchange"),
		OverallRating: ptr(4.2),
		TotalReviews:  ptr(10),
		Status:        ptr("active"),
	}
}

func TestCategoryAverage(t *testing.T) {
	assert.Equal(t, 4.0, CategoryAverage(4, 5, 0, 3))
	assert.Equal(t, 0.0, CategoryAverage())
	assert.Equal(t, 0.0, CategoryAverage(0, 0))
	assert.Equal(t, 3.7, CategoryAverage(4, 4, 3))
}

func TestRatingInputValidate(t *testing.T) {
	t.Run("empty payload is rejected", func(t *testing.T) {
		fields := RatingInput{}.Validate()
		require.NotNil(t, fields)
		assert.Contains(t, fields, "rating")
	})

	t.Run("zero category scores count as unset", func(t *testing.T) {
		in := RatingInput{CategoryScores: CategoryScores{PlatformUsability: ptr(0), MobileApp: ptr(0)}}
		assert.Contains(t, in.Validate(), "rating")
	})

	t.Run("overall only", func(t *testing.T) {
		in := RatingInput{OverallRating: ptr(4)}
		assert.Nil(t, in.Validate())
		assert.Equal(t, RatingOverall, in.Type())
	})

	t.Run("categories only", func(t *testing.T) {
		in := RatingInput{CategoryScores: CategoryScores{PlatformUsability: ptr(5), CustomerSupport: ptr(3)}}
		assert.Nil(t, in.Validate())
		assert.Equal(t, RatingCategories, in.Type())
	})

	t.Run("out of range", func(t *testing.T) {
		in := RatingInput{CategoryScores: CategoryScores{SecurityTrust: ptr(7)}}
		assert.Contains(t, in.Validate(), FieldSecurityTrust)
	})

	t.Run("both kinds", func(t *testing.T) {
		in := RatingInput{OverallRating: ptr(3), CategoryScores: CategoryScores{MobileApp: ptr(2)}}
		assert.Contains(t, in.Validate(), "rating")
	})
}

func TestParseDeal(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rec := &DealRecord{
		ID:        ptr("d1"),
		CompanyID: ptr("c1"),
		Title:     ptr("  $50 bonus "),
		Value:     ptr("$50"),
		IsActive:  ptr(true),
		CreatedAt: &now,
		Company:   companyRecord(),
	}

	deal, err := ParseDeal(rec)
	require.NoError(t, err)
	assert.Equal(t, "$50 bonus", deal.Title)
	assert.Equal(t, "Kraken Pro", deal.CompanyName)
	assert.Equal(t, "$50", deal.BonusAmount)
	assert.Equal(t, CategoryCryptoExchange, deal.Category)
	assert.Equal(t, "kraken-pro", deal.Company.Slug)
	assert.Equal(t, now, deal.UpdatedAt)
	assert.True(t, deal.Visible())

	deal.Company.Status = CompanyInactive
	assert.False(t, deal.Visible())

	t.Run("missing company", func(t *testing.T) {
		bad := *rec
		bad.Company = nil
		_, err := ParseDeal(&bad)
		var malformed *MalformedError
		require.True(t, errors.As(err, &malformed))
		assert.Equal(t, "company", malformed.Field)
	})

	t.Run("unknown category", func(t *testing.T) {
		bad := *rec
		company := *companyRecord()
		company.Category = ptr("casino")
		bad.Company = &company
		_, err := ParseDeal(&bad)
		assert.Error(t, err)
	})

	t.Run("mismatched company", func(t *testing.T) {
		bad := *rec
		bad.CompanyID = ptr("c2")
		_, err := ParseDeal(&bad)
		assert.Error(t, err)
	})
}

func TestParseRatingClassification(t *testing.T) {
	overall, err := ParseRating(&RatingRecord{
		ID: ptr("r1"), UserID: ptr("u1"), CompanyID: ptr("c1"), OverallRating: ptr(4),
	})
	require.NoError(t, err)
	assert.Equal(t, RatingOverall, overall.RatingType)
	assert.Equal(t, 4.0, overall.EffectiveScore())

	categories, err := ParseRating(&RatingRecord{
		ID: ptr("r1"), UserID: ptr("u1"), CompanyID: ptr("c1"),
		PlatformUsability: ptr(5), CustomerSupport: ptr(3), MobileApp: ptr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, RatingCategories, categories.RatingType)
	assert.Nil(t, categories.MobileApp)
	assert.Equal(t, 4.0, categories.EffectiveScore())

	_, err = ParseRating(&RatingRecord{ID: ptr("r2"), UserID: ptr("u1"), CompanyID: ptr("c1")})
	assert.Error(t, err)
}

func TestContactInputValidate(t *testing.T) {
	valid := ContactInput{Name: "Ana", Email: "ana@example.com", Message: "Hello"}
	assert.Nil(t, valid.Validate())

	fields := ContactInput{Email: "Ana <ana@example.com>", Message: "  "}.Validate()
	assert.Equal(t, map[string]string{
		"name":    "is required",
		"email":   "is not a valid email address",
		"message": "is required",
	}, fields)
}
