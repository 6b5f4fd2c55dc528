package storage

import (
	"context"
	"errors"

	"github.com/oentex/oentex/internal/models"
)

// ErrUnsupportedQuery is returned when the backend cannot filter, join and
// count deals in a single query
var ErrUnsupportedQuery = errors.New("backend cannot run combined filter, join and count")

// Repository defines the backend operations used by the data-access services
type Repository interface {
	// Deals
	ListActiveDeals(ctx context.Context) ([]*models.DealRecord, error)
	QueryDealsPage(ctx context.Context, q DealQuery) ([]*models.DealRecord, int, error)
	IncrementDealClicks(ctx context.Context, dealID string) error

	// Companies
	ListActiveCompanies(ctx context.Context) ([]*models.CompanyRecord, error)
	GetCompany(ctx context.Context, id string) (*models.CompanyRecord, error)

	// Categories
	ListCategories(ctx context.Context) ([]*models.CategoryRecord, error)

	// Ratings
	GetUserRating(ctx context.Context, userID, companyID string) (*models.RatingRecord, error)
	ListUserRatings(ctx context.Context, userID string) ([]*models.RatingRecord, error)
	ListCompanyRatings(ctx context.Context, companyID string) ([]*models.RatingRecord, error)
	SubmitRatingTransaction(ctx context.Context, p RatingParams) (*RatingResult, error)

	// Contact
	CreateContactMessage(ctx context.Context, msg *models.ContactMessage) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}

// Capabilities is implemented by repositories that can tell up front whether
// the server-side paginated query is available
type Capabilities interface {
	SupportsJoinedFilters() bool
}

// DealQuery describes one page of the server-side deals query
type DealQuery struct {
	Offset   int
	Limit    int
	Category string
	Search   string
	Sort     models.SortKey
}

// RatingParams are the arguments of submit_rating_transaction
type RatingParams struct {
	UserID               string
	CompanyID            string
	OverallRating        *int
	PlatformUsability    *int
	CustomerSupport      *int
	FeesCommissions      *int
	SecurityTrust        *int
	EducationalResources *int
	MobileApp            *int
	RatingType           models.RatingType
}

// RatingResult is what submit_rating_transaction reports back
type RatingResult struct {
	Rating        *models.RatingRecord
	Updated       bool
	OverallRating float64
	TotalReviews  int
}
