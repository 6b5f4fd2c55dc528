package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oentex/oentex/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
	psql sq.StatementBuilderType
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN         string
	MaxConns    int32
	MinConns    int32
	MaxLifetime time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	poolConfig.MaxConns = 25
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = 2
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	poolConfig.MaxConnLifetime = 30 * time.Minute
	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{
		pool: pool,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Pool exposes the connection pool for migrations
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// SupportsJoinedFilters reports that the paginated deals query runs server-side
func (r *PostgresRepository) SupportsJoinedFilters() bool {
	return true
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const companyColumns = `c.id::text, c.slug, c.name, c.description, c.logo_url, c.website_url,
	c.category, c.overall_rating::float8, c.total_reviews, c.status`

const dealColumns = `d.id::text, d.company_id::text, d.title, d.description, d.terms, d.deal_type,
	d.value, d.start_date, d.end_date, d.click_count, d.conversion_rate::float8,
	d.is_active, d.created_at, d.updated_at`

const ratingColumns = `r.id::text, r.user_id::text, r.company_id::text, r.overall_rating,
	r.platform_usability, r.customer_support, r.fees_commissions, r.security_trust,
	r.educational_resources, r.mobile_app, r.created_at, r.updated_at`

// ListActiveDeals returns active deals newest first with their company
// attached. Company status is left to the caller.
func (r *PostgresRepository) ListActiveDeals(ctx context.Context) ([]*models.DealRecord, error) {
	query := `
		SELECT ` + dealColumns + `, ` + companyColumns + `
		FROM company_deals d
		LEFT JOIN trading_companies c ON c.id = d.company_id
		WHERE d.is_active = TRUE
		ORDER BY d.created_at DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list deals: %w", err)
	}
	defer rows.Close()

	var deals []*models.DealRecord
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deal: %w", err)
		}
		deals = append(deals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deals: %w", err)
	}
	return deals, nil
}

// QueryDealsPage filters, joins, orders and counts visible deals in the database
func (r *PostgresRepository) QueryDealsPage(ctx context.Context, q DealQuery) ([]*models.DealRecord, int, error) {
	where := sq.And{
		sq.Eq{"d.is_active": true},
		sq.Eq{"c.status": string(models.CompanyActive)},
	}
	if q.Category != "" && q.Category != models.CategoryAll {
		where = append(where, sq.Eq{"c.category": q.Category})
	}
	if q.Search != "" {
		pattern := "%" + escapeLike(q.Search) + "%"
		where = append(where, sq.Or{
			sq.ILike{"d.title": pattern},
			sq.ILike{"d.description": pattern},
		})
	}

	countSQL, countArgs, err := r.psql.
		Select("COUNT(*)").
		From("company_deals d").
		Join("trading_companies c ON c.id = d.company_id").
		Where(where).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count deals: %w", err)
	}
	if total == 0 || q.Offset >= total {
		return []*models.DealRecord{}, total, nil
	}

	pageSQL, pageArgs, err := r.psql.
		Select(dealColumns, companyColumns).
		From("company_deals d").
		Join("trading_companies c ON c.id = d.company_id").
		Where(where).
		OrderBy(orderBy(q.Sort)...).
		Limit(uint64(q.Limit)).
		Offset(uint64(q.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build deals query: %w", err)
	}

	rows, err := r.pool.Query(ctx, pageSQL, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query deals page: %w", err)
	}
	defer rows.Close()

	deals := make([]*models.DealRecord, 0, q.Limit)
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan deal: %w", err)
		}
		deals = append(deals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating deals: %w", err)
	}
	return deals, total, nil
}

func orderBy(sort models.SortKey) []string {
	switch sort {
	case models.SortPopular:
		return []string{"d.click_count DESC", "d.created_at DESC", "d.id"}
	case models.SortRating:
		return []string{"c.overall_rating DESC NULLS LAST", "d.created_at DESC", "d.id"}
	case models.SortName:
		return []string{"c.name ASC", "d.created_at DESC", "d.id"}
	default:
		return []string{"d.created_at DESC", "d.id"}
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// IncrementDealClicks bumps the click counter through increment_deal_clicks
func (r *PostgresRepository) IncrementDealClicks(ctx context.Context, dealID string) error {
	if _, err := r.pool.Exec(ctx, `SELECT increment_deal_clicks($1::uuid)`, dealID); err != nil {
		return fmt.Errorf("failed to increment clicks: %w", err)
	}
	return nil
}

// ListActiveCompanies returns active companies ordered by name
func (r *PostgresRepository) ListActiveCompanies(ctx context.Context) ([]*models.CompanyRecord, error) {
	query := `SELECT ` + companyColumns + ` FROM trading_companies c WHERE c.status = $1 ORDER BY c.name`

	rows, err := r.pool.Query(ctx, query, string(models.CompanyActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	var companies []*models.CompanyRecord
	for rows.Next() {
		var c models.CompanyRecord
		if err := rows.Scan(companyTargets(&c)...); err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		companies = append(companies, &c)
	}
	return companies, rows.Err()
}

// GetCompany retrieves a company by ID
func (r *PostgresRepository) GetCompany(ctx context.Context, id string) (*models.CompanyRecord, error) {
	query := `SELECT ` + companyColumns + ` FROM trading_companies c WHERE c.id = $1::uuid`

	var c models.CompanyRecord
	if err := r.pool.QueryRow(ctx, query, id).Scan(companyTargets(&c)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &c, nil
}

// ListCategories returns the categories table in display order
func (r *PostgresRepository) ListCategories(ctx context.Context) ([]*models.CategoryRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT value, label, icon, description FROM categories ORDER BY sort_order, value`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []*models.CategoryRecord
	for rows.Next() {
		var c models.CategoryRecord
		if err := rows.Scan(&c.Value, &c.Label, &c.Icon, &c.Description); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, &c)
	}
	return categories, rows.Err()
}

// GetUserRating retrieves the rating a user gave a company
func (r *PostgresRepository) GetUserRating(ctx context.Context, userID, companyID string) (*models.RatingRecord, error) {
	query := `SELECT ` + ratingColumns + ` FROM ratings r WHERE r.user_id = $1::uuid AND r.company_id = $2::uuid`

	var rec models.RatingRecord
	if err := r.pool.QueryRow(ctx, query, userID, companyID).Scan(ratingTargets(&rec)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rating: %w", err)
	}
	return &rec, nil
}

// ListUserRatings returns a user's ratings with the rated company attached
func (r *PostgresRepository) ListUserRatings(ctx context.Context, userID string) ([]*models.RatingRecord, error) {
	query := `
		SELECT ` + ratingColumns + `, ` + companyColumns + `
		FROM ratings r
		JOIN trading_companies c ON c.id = r.company_id
		WHERE r.user_id = $1::uuid
		ORDER BY r.updated_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user ratings: %w", err)
	}
	defer rows.Close()

	var ratings []*models.RatingRecord
	for rows.Next() {
		var rec models.RatingRecord
		var company models.CompanyRecord
		targets := append(ratingTargets(&rec), companyTargets(&company)...)
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		rec.Company = &company
		ratings = append(ratings, &rec)
	}
	return ratings, rows.Err()
}

// ListCompanyRatings returns every rating of a company, newest first
func (r *PostgresRepository) ListCompanyRatings(ctx context.Context, companyID string) ([]*models.RatingRecord, error) {
	query := `SELECT ` + ratingColumns + ` FROM ratings r WHERE r.company_id = $1::uuid ORDER BY r.created_at DESC`

	rows, err := r.pool.Query(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list company ratings: %w", err)
	}
	defer rows.Close()

	var ratings []*models.RatingRecord
	for rows.Next() {
		var rec models.RatingRecord
		if err := rows.Scan(ratingTargets(&rec)...); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		ratings = append(ratings, &rec)
	}
	return ratings, rows.Err()
}

// SubmitRatingTransaction calls submit_rating_transaction, which upserts the
// rating and recomputes the company aggregate atomically
func (r *PostgresRepository) SubmitRatingTransaction(ctx context.Context, p RatingParams) (*RatingResult, error) {
	query := `
		SELECT submit_rating_transaction(
			$1::uuid, $2::uuid, $3::smallint, $4::smallint, $5::smallint,
			$6::smallint, $7::smallint, $8::smallint, $9::smallint, $10
		)
	`

	var raw []byte
	err := r.pool.QueryRow(ctx, query,
		p.UserID,
		p.CompanyID,
		p.OverallRating,
		p.PlatformUsability,
		p.CustomerSupport,
		p.FeesCommissions,
		p.SecurityTrust,
		p.EducationalResources,
		p.MobileApp,
		string(p.RatingType),
	).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to submit rating: %w", err)
	}

	var out struct {
		Rating        models.RatingRecord `json:"rating"`
		Updated       bool                `json:"updated"`
		OverallRating float64             `json:"overall_rating"`
		TotalReviews  int                 `json:"total_reviews"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode rating result: %w", err)
	}

	return &RatingResult{
		Rating:        &out.Rating,
		Updated:       out.Updated,
		OverallRating: out.OverallRating,
		TotalReviews:  out.TotalReviews,
	}, nil
}

// CreateContactMessage stores a contact form message
func (r *PostgresRepository) CreateContactMessage(ctx context.Context, msg *models.ContactMessage) error {
	query := `
		INSERT INTO contact_messages (id, name, email, subject, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query, msg.ID, msg.Name, msg.Email, msg.Subject, msg.Message, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create contact message: %w", err)
	}
	return nil
}

func scanDeal(rows pgx.Rows) (*models.DealRecord, error) {
	var d models.DealRecord
	var c models.CompanyRecord
	targets := []any{
		&d.ID, &d.CompanyID, &d.Title, &d.Description, &d.Terms, &d.DealType,
		&d.Value, &d.StartDate, &d.EndDate, &d.ClickCount, &d.ConversionRate,
		&d.IsActive, &d.CreatedAt, &d.UpdatedAt,
	}
	if err := rows.Scan(append(targets, companyTargets(&c)...)...); err != nil {
		return nil, err
	}
	// LEFT JOIN leaves every company column NULL when the company is gone
	if c.ID != nil {
		d.Company = &c
	}
	return &d, nil
}

func companyTargets(c *models.CompanyRecord) []any {
	return []any{
		&c.ID, &c.Slug, &c.Name, &c.Description, &c.LogoURL, &c.WebsiteURL,
		&c.Category, &c.OverallRating, &c.TotalReviews, &c.Status,
	}
}

func ratingTargets(r *models.RatingRecord) []any {
	return []any{
		&r.ID, &r.UserID, &r.CompanyID, &r.OverallRating,
		&r.PlatformUsability, &r.CustomerSupport, &r.FeesCommissions, &r.SecurityTrust,
		&r.EducationalResources, &r.MobileApp, &r.CreatedAt, &r.UpdatedAt,
	}
}
