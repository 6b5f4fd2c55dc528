package storage

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/oentex/oentex/internal/models"
)

// MemoryRepository implements Repository in process memory. It mirrors the
// database functions closely enough to run the service without PostgreSQL.
type MemoryRepository struct {
	mu            sync.RWMutex
	companies     map[string]*models.CompanyRecord
	deals         []*models.DealRecord
	ratings       map[ratingKey]*models.RatingRecord
	categories    []*models.CategoryRecord
	messages      []*models.ContactMessage
	joinedFilters bool
	now           func() time.Time
}

type ratingKey struct {
	userID    string
	companyID string
}

// MemoryOption configures a MemoryRepository
type MemoryOption func(*MemoryRepository)

// WithoutJoinedFilters makes QueryDealsPage report ErrUnsupportedQuery
func WithoutJoinedFilters() MemoryOption {
	return func(r *MemoryRepository) { r.joinedFilters = false }
}

// WithClock overrides the time source used for timestamps
func WithClock(now func() time.Time) MemoryOption {
	return func(r *MemoryRepository) { r.now = now }
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository(opts ...MemoryOption) *MemoryRepository {
	r := &MemoryRepository{
		companies:     make(map[string]*models.CompanyRecord),
		ratings:       make(map[ratingKey]*models.RatingRecord),
		joinedFilters: true,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Seed is the YAML layout accepted by LoadSeed
type Seed struct {
	Companies  []*models.CompanyRecord  `yaml:"companies"`
	Deals      []*models.DealRecord     `yaml:"deals"`
	Categories []*models.CategoryRecord `yaml:"categories"`
}

// LoadSeedFile reads a YAML seed file into the repository
func (r *MemoryRepository) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	return r.LoadSeed(data)
}

// LoadSeed adds the companies, deals and categories of a YAML document
func (r *MemoryRepository) LoadSeed(data []byte) error {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed: %w", err)
	}
	for _, c := range seed.Companies {
		r.PutCompany(c)
	}
	for _, d := range seed.Deals {
		r.PutDeal(d)
	}
	r.mu.Lock()
	r.categories = append(r.categories, seed.Categories...)
	r.mu.Unlock()
	return nil
}

// PutCompany inserts or replaces a company row. Rows are stored as given,
// malformed ones included.
func (r *MemoryRepository) PutCompany(c *models.CompanyRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == nil {
		id := uuid.NewString()
		c.ID = &id
	}
	r.companies[*c.ID] = copyCompany(c)
}

// PutDeal inserts a deal row
func (r *MemoryRepository) PutDeal(d *models.DealRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.ID == nil {
		id := uuid.NewString()
		d.ID = &id
	}
	if d.CreatedAt == nil {
		now := r.now()
		d.CreatedAt = &now
	}
	cp := *d
	cp.Company = nil
	r.deals = append(r.deals, &cp)
}

// PutCategory appends a categories row
func (r *MemoryRepository) PutCategory(c *models.CategoryRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories = append(r.categories, c)
}

// Messages returns the stored contact messages
func (r *MemoryRepository) Messages() []*models.ContactMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*models.ContactMessage(nil), r.messages...)
}

// SupportsJoinedFilters reports whether QueryDealsPage is available
func (r *MemoryRepository) SupportsJoinedFilters() bool {
	return r.joinedFilters
}

// Ping always succeeds
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (r *MemoryRepository) Close() error {
	return nil
}

// ListActiveDeals returns active deals newest first, company joined
func (r *MemoryRepository) ListActiveDeals(ctx context.Context) ([]*models.DealRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.DealRecord
	for _, d := range r.deals {
		if d.IsActive != nil && !*d.IsActive {
			continue
		}
		out = append(out, r.joinLocked(d))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return newer(out[i], out[j])
	})
	return out, nil
}

// QueryDealsPage filters, orders and counts visible deals
func (r *MemoryRepository) QueryDealsPage(ctx context.Context, q DealQuery) ([]*models.DealRecord, int, error) {
	if !r.joinedFilters {
		return nil, 0, ErrUnsupportedQuery
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	search := strings.ToLower(q.Search)
	var matched []*models.DealRecord
	for _, d := range r.deals {
		joined := r.joinLocked(d)
		c := joined.Company
		if d.IsActive == nil || !*d.IsActive || c == nil || c.Status == nil || *c.Status != string(models.CompanyActive) {
			continue
		}
		if q.Category != "" && q.Category != models.CategoryAll && (c.Category == nil || *c.Category != q.Category) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(deref(d.Title)), search) &&
			!strings.Contains(strings.ToLower(deref(d.Description)), search) {
			continue
		}
		matched = append(matched, joined)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return dealLess(matched[i], matched[j], q.Sort)
	})

	total := len(matched)
	if q.Offset >= total {
		return []*models.DealRecord{}, total, nil
	}
	end := q.Offset + q.Limit
	if q.Limit <= 0 || end > total {
		end = total
	}
	return matched[q.Offset:end], total, nil
}

// IncrementDealClicks bumps a deal's click counter
func (r *MemoryRepository) IncrementDealClicks(ctx context.Context, dealID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.deals {
		if d.ID != nil && *d.ID == dealID {
			clicks := 1
			if d.ClickCount != nil {
				clicks = *d.ClickCount + 1
			}
			d.ClickCount = &clicks
			return nil
		}
	}
	return nil
}

// ListActiveCompanies returns active companies ordered by name
func (r *MemoryRepository) ListActiveCompanies(ctx context.Context) ([]*models.CompanyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.CompanyRecord
	for _, c := range r.companies {
		if c.Status != nil && *c.Status == string(models.CompanyActive) {
			out = append(out, copyCompany(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return deref(out[i].Name) < deref(out[j].Name)
	})
	return out, nil
}

// GetCompany retrieves a company by ID
func (r *MemoryRepository) GetCompany(ctx context.Context, id string) (*models.CompanyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.companies[id]
	if !ok {
		return nil, nil
	}
	return copyCompany(c), nil
}

// ListCategories returns the category rows
func (r *MemoryRepository) ListCategories(ctx context.Context) ([]*models.CategoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*models.CategoryRecord(nil), r.categories...), nil
}

// GetUserRating retrieves the rating a user gave a company
func (r *MemoryRepository) GetUserRating(ctx context.Context, userID, companyID string) (*models.RatingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.ratings[ratingKey{userID, companyID}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// ListUserRatings returns a user's ratings, most recently updated first
func (r *MemoryRepository) ListUserRatings(ctx context.Context, userID string) ([]*models.RatingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.RatingRecord
	for key, rec := range r.ratings {
		if key.userID != userID {
			continue
		}
		cp := *rec
		if c, ok := r.companies[key.companyID]; ok {
			cp.Company = copyCompany(c)
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(*out[j].UpdatedAt)
	})
	return out, nil
}

// ListCompanyRatings returns a company's ratings, newest first
func (r *MemoryRepository) ListCompanyRatings(ctx context.Context, companyID string) ([]*models.RatingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.companyRatingsLocked(companyID)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(*out[j].CreatedAt)
	})
	return out, nil
}

// SubmitRatingTransaction upserts the rating and recomputes the company
// aggregate under a single lock
func (r *MemoryRepository) SubmitRatingTransaction(ctx context.Context, p RatingParams) (*RatingResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scores := models.CategoryScores{
		PlatformUsability:    p.PlatformUsability,
		CustomerSupport:      p.CustomerSupport,
		FeesCommissions:      p.FeesCommissions,
		SecurityTrust:        p.SecurityTrust,
		EducationalResources: p.EducationalResources,
		MobileApp:            p.MobileApp,
	}
	if p.OverallRating == nil && !scores.Any() {
		return nil, &stateError{code: "P0001", msg: "rating must carry an overall score or a category score"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	company, ok := r.companies[p.CompanyID]
	if !ok {
		return nil, &stateError{code: "P0002", msg: fmt.Sprintf("company %s not found", p.CompanyID)}
	}

	now := r.now()
	key := ratingKey{p.UserID, p.CompanyID}
	existing, updated := r.ratings[key]

	rec := &models.RatingRecord{
		UserID:               &p.UserID,
		CompanyID:            &p.CompanyID,
		OverallRating:        p.OverallRating,
		PlatformUsability:    p.PlatformUsability,
		CustomerSupport:      p.CustomerSupport,
		FeesCommissions:      p.FeesCommissions,
		SecurityTrust:        p.SecurityTrust,
		EducationalResources: p.EducationalResources,
		MobileApp:            p.MobileApp,
		UpdatedAt:            &now,
	}
	if updated {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else {
		id := uuid.NewString()
		rec.ID = &id
		rec.CreatedAt = &now
	}
	r.ratings[key] = rec

	sum, n := new(big.Rat), 0
	for _, other := range r.companyRatingsLocked(p.CompanyID) {
		sum.Add(sum, effectiveScore(other))
		n++
	}
	avg := 0.0
	if n > 0 {
		avg = roundTenths(sum.Quo(sum, big.NewRat(int64(n), 1)))
	}
	company.OverallRating = &avg
	company.TotalReviews = &n

	cp := *rec
	return &RatingResult{
		Rating:        &cp,
		Updated:       updated,
		OverallRating: avg,
		TotalReviews:  n,
	}, nil
}

// CreateContactMessage stores a contact form message
func (r *MemoryRepository) CreateContactMessage(ctx context.Context, msg *models.ContactMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *msg
	r.messages = append(r.messages, &cp)
	return nil
}

func (r *MemoryRepository) joinLocked(d *models.DealRecord) *models.DealRecord {
	cp := *d
	cp.Company = nil
	if d.CompanyID != nil {
		if c, ok := r.companies[*d.CompanyID]; ok {
			cp.Company = copyCompany(c)
		}
	}
	return &cp
}

func (r *MemoryRepository) companyRatingsLocked(companyID string) []*models.RatingRecord {
	var out []*models.RatingRecord
	for key, rec := range r.ratings {
		if key.companyID == companyID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out
}

// stateError carries a SQLSTATE code the way driver errors do
type stateError struct {
	code string
	msg  string
}

func (e *stateError) Error() string    { return e.msg }
func (e *stateError) SQLState() string { return e.code }

// effectiveScore is the exact score a rating contributes to its company's
// average, the way the NUMERIC arithmetic of submit_rating_transaction
// sees it
func effectiveScore(rec *models.RatingRecord) *big.Rat {
	if rec.OverallRating != nil && *rec.OverallRating != 0 {
		return big.NewRat(int64(*rec.OverallRating), 1)
	}
	scores := models.CategoryScores{
		PlatformUsability:    rec.PlatformUsability,
		CustomerSupport:      rec.CustomerSupport,
		FeesCommissions:      rec.FeesCommissions,
		SecurityTrust:        rec.SecurityTrust,
		EducationalResources: rec.EducationalResources,
		MobileApp:            rec.MobileApp,
	}
	values := scores.Values()
	if len(values) == 0 {
		return new(big.Rat)
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return big.NewRat(int64(sum), int64(len(values)))
}

// roundTenths rounds a non-negative x to one decimal, halves away from
// zero like ROUND(numeric, 1)
func roundTenths(x *big.Rat) float64 {
	t := new(big.Rat).Mul(x, big.NewRat(10, 1))
	t.Add(t, big.NewRat(1, 2))
	tenths := new(big.Int).Quo(t.Num(), t.Denom())
	return float64(tenths.Int64()) / 10
}

func dealLess(a, b *models.DealRecord, sort models.SortKey) bool {
	switch sort {
	case models.SortPopular:
		ca, cb := derefInt(a.ClickCount), derefInt(b.ClickCount)
		if ca != cb {
			return ca > cb
		}
	case models.SortRating:
		ra, rb := a.Company.OverallRating, b.Company.OverallRating
		switch {
		case ra != nil && rb == nil:
			return true
		case ra == nil && rb != nil:
			return false
		case ra != nil && *ra != *rb:
			return *ra > *rb
		}
	case models.SortName:
		na, nb := deref(a.Company.Name), deref(b.Company.Name)
		if na != nb {
			return na < nb
		}
	}
	if !a.CreatedAt.Equal(*b.CreatedAt) {
		return newer(a, b)
	}
	return deref(a.ID) < deref(b.ID)
}

func newer(a, b *models.DealRecord) bool {
	if a.CreatedAt == nil || b.CreatedAt == nil {
		return a.CreatedAt != nil
	}
	return a.CreatedAt.After(*b.CreatedAt)
}

func copyCompany(c *models.CompanyRecord) *models.CompanyRecord {
	cp := *c
	return &cp
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
