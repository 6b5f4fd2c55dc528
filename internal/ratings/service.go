package ratings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/oentex/oentex/internal/apperr"
	"github.com/oentex/oentex/internal/cache"
	"github.com/oentex/oentex/internal/metrics"
	"github.com/oentex/oentex/internal/models"
	"github.com/oentex/oentex/internal/storage"
)

var (
	ErrCompanyNotFound = errors.New("company not found")
	ErrNotSignedIn     = errors.New("sign in to rate companies")
)

// Notification is a user-visible message about a rating submission
type Notification struct {
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notifier delivers notifications to a user
type Notifier interface {
	Notify(userID string, n Notification)
}

// LogNotifier writes notifications to the log
type LogNotifier struct{}

func (LogNotifier) Notify(userID string, n Notification) {
	slog.Info("rating notification", "user_id", userID, "level", n.Level, "title", n.Title)
}

// Service is the ratings data-access layer
type Service struct {
	repo     storage.Repository
	cache    *cache.Client
	notifier Notifier
	metrics  *metrics.Metrics
}

// NewService creates a ratings service. A nil notifier logs notifications.
func NewService(repo storage.Repository, qc *cache.Client, notifier Notifier, m *metrics.Metrics) *Service {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Service{repo: repo, cache: qc, notifier: notifier, metrics: m}
}

// SubmitRating writes the user's rating of a company through the rating
// procedure. The cache is updated optimistically: deal and company-rating
// queries are cancelled and the deals cache is snapshotted before the
// write, restored if it fails and invalidated once it succeeds.
func (s *Service) SubmitRating(ctx context.Context, userID, companyID string, input models.RatingInput, existing *models.Rating) (*models.SubmitResult, error) {
	const op = "submit rating"

	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Wrap(apperr.KindAuthentication, op, ErrNotSignedIn)
	}
	if fields := input.Validate(); fields != nil {
		return nil, apperr.Validation(op, fields)
	}
	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		return nil, apperr.Validation(op, map[string]string{"company_id": "is required"})
	}
	if existing != nil && existing.CompanyID != companyID {
		return nil, apperr.Validation(op, map[string]string{"existing_rating": "belongs to another company"})
	}

	mutation, err := s.cache.BeginMutation(ctx, cache.MutationOptions{
		Cancel:   []cache.Key{cache.Deals(), cache.CompanyRatings(companyID)},
		Snapshot: []cache.Key{cache.Deals()},
	})
	if err != nil {
		return nil, apperr.Wrap("", op, err)
	}

	params := ratingParams(userID, companyID, input)
	res, err := s.repo.SubmitRatingTransaction(ctx, params)
	if err != nil {
		if rbErr := mutation.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			slog.Error("failed to restore cache after rating failure", "error", rbErr)
		}
		wrapped := apperr.Wrap("", op, err)
		s.notifier.Notify(userID, Notification{
			Level:   "error",
			Title:   "Rating not saved",
			Message: failureMessage(wrapped),
		})
		return nil, wrapped
	}

	if err := mutation.Commit(ctx,
		cache.Deals(),
		cache.CompanyRatings(companyID),
		cache.FeaturedDeals(),
		cache.UserRatings(userID),
		cache.UserRating(userID, companyID),
	); err != nil {
		slog.Warn("failed to invalidate cache after rating", "error", err)
	}

	rating, err := models.ParseRating(res.Rating)
	if err != nil {
		slog.Warn("rating procedure returned a malformed row", "error", err)
		s.metrics.MalformedRow("rating")
		rating = fallbackRating(params)
	}

	updated := res.Updated || existing != nil
	title := "Rating submitted"
	if updated {
		title = "Rating updated"
	}
	s.notifier.Notify(userID, Notification{
		Level:   "success",
		Title:   title,
		Message: "Thanks for rating this company.",
	})

	return &models.SubmitResult{
		Rating:        *rating,
		Updated:       updated,
		OverallRating: res.OverallRating,
		TotalReviews:  res.TotalReviews,
	}, nil
}

// ratingParams maps the input to the procedure arguments. Zero scores are
// sent as NULL and only the fields of the input's type are set.
func ratingParams(userID, companyID string, input models.RatingInput) storage.RatingParams {
	p := storage.RatingParams{
		UserID:     userID,
		CompanyID:  companyID,
		RatingType: input.Type(),
	}
	if p.RatingType == models.RatingOverall {
		p.OverallRating = input.OverallRating
		return p
	}
	p.PlatformUsability = nonZero(input.PlatformUsability)
	p.CustomerSupport = nonZero(input.CustomerSupport)
	p.FeesCommissions = nonZero(input.FeesCommissions)
	p.SecurityTrust = nonZero(input.SecurityTrust)
	p.EducationalResources = nonZero(input.EducationalResources)
	p.MobileApp = nonZero(input.MobileApp)
	return p
}

func fallbackRating(p storage.RatingParams) *models.Rating {
	r := &models.Rating{
		UserID:        p.UserID,
		CompanyID:     p.CompanyID,
		OverallRating: p.OverallRating,
		CategoryScores: models.CategoryScores{
			PlatformUsability:    p.PlatformUsability,
			CustomerSupport:      p.CustomerSupport,
			FeesCommissions:      p.FeesCommissions,
			SecurityTrust:        p.SecurityTrust,
			EducationalResources: p.EducationalResources,
			MobileApp:            p.MobileApp,
		},
	}
	r.RatingType = r.Classify()
	return r
}

func failureMessage(err error) string {
	switch apperr.Classify(err) {
	case apperr.KindNetwork:
		return "We could not reach the server. Check your connection and try again."
	case apperr.KindAuthentication:
		return "Your session has expired. Sign in again to rate."
	case apperr.KindPermission:
		return "You are not allowed to rate this company."
	case apperr.KindValidation:
		return "Your rating was rejected. Check the scores and try again."
	default:
		return "Something went wrong while saving your rating. Please try again."
	}
}

// GetUserRating returns the user's rating of a company, classified as
// overall or categories, or nil if there is none
func (s *Service) GetUserRating(ctx context.Context, userID, companyID string) (*models.Rating, error) {
	if userID == "" {
		return nil, apperr.Wrap(apperr.KindAuthentication, "get user rating", ErrNotSignedIn)
	}
	return cache.Fetch(ctx, s.cache, cache.UserRating(userID, companyID), func(ctx context.Context) (*models.Rating, error) {
		rec, err := s.repo.GetUserRating(ctx, userID, companyID)
		if err != nil {
			return nil, fmt.Errorf("failed to get rating: %w", err)
		}
		if rec == nil {
			return nil, nil
		}
		rating, err := models.ParseRating(rec)
		if err != nil {
			slog.Warn("ignoring malformed rating row", "error", err)
			s.metrics.MalformedRow("rating")
			return nil, nil
		}
		return rating, nil
	})
}

// ListUserRatings returns every rating of a user with the company attached
func (s *Service) ListUserRatings(ctx context.Context, userID string) ([]models.Rating, error) {
	if userID == "" {
		return nil, apperr.Wrap(apperr.KindAuthentication, "list user ratings", ErrNotSignedIn)
	}
	return cache.Fetch(ctx, s.cache, cache.UserRatings(userID), func(ctx context.Context) ([]models.Rating, error) {
		records, err := s.repo.ListUserRatings(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list ratings: %w", err)
		}
		return s.parseAll(records), nil
	})
}

// GetCompanyRatings returns the ratings of a company and their summary
func (s *Service) GetCompanyRatings(ctx context.Context, companyID string) (*models.CompanyRatings, error) {
	return cache.Fetch(ctx, s.cache, cache.CompanyRatings(companyID), func(ctx context.Context) (*models.CompanyRatings, error) {
		company, err := s.repo.GetCompany(ctx, companyID)
		if err != nil {
			return nil, fmt.Errorf("failed to get company: %w", err)
		}
		if company == nil {
			return nil, apperr.Wrap(apperr.KindNotFound, "company ratings", ErrCompanyNotFound)
		}

		records, err := s.repo.ListCompanyRatings(ctx, companyID)
		if err != nil {
			return nil, fmt.Errorf("failed to list company ratings: %w", err)
		}
		ratings := s.parseAll(records)

		return &models.CompanyRatings{
			CompanyID: companyID,
			Ratings:   ratings,
			Summary:   Summarize(ratings),
		}, nil
	})
}

// Summarize averages the effective scores of ratings to one decimal
func Summarize(ratings []models.Rating) models.RatingSummary {
	if len(ratings) == 0 {
		return models.RatingSummary{}
	}
	sum := 0.0
	for i := range ratings {
		sum += ratings[i].EffectiveScore()
	}
	return models.RatingSummary{
		Average: math.Round(sum/float64(len(ratings))*10) / 10,
		Count:   len(ratings),
	}
}

func (s *Service) parseAll(records []*models.RatingRecord) []models.Rating {
	ratings := make([]models.Rating, 0, len(records))
	for _, rec := range records {
		r, err := models.ParseRating(rec)
		if err != nil {
			slog.Warn("dropping malformed rating row", "error", err)
			s.metrics.MalformedRow("rating")
			continue
		}
		ratings = append(ratings, *r)
	}
	return ratings
}

func nonZero(v *int) *int {
	if v == nil || *v == 0 {
		return nil
	}
	return v
}
