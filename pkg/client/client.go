package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oentex/oentex/internal/models"
)

// Client is a Go SDK for the Oentex API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithToken signs requests with a session token
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// NewClient creates a new Oentex API client
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is a non-success response of the API
type APIError struct {
	Status  int
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s - %s", e.Status, e.Code, e.Message)
}

// MyRating is the caller's rating of a company; Rating is nil when there is none
type MyRating struct {
	Rating     *models.Rating    `json:"rating"`
	RatingType models.RatingType `json:"rating_type,omitempty"`
}

// Session describes the caller's sign-in state
type Session struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
	AuthEnabled   bool   `json:"auth_enabled"`
	Degraded      bool   `json:"degraded"`
	RedirectPath  string `json:"redirect_path,omitempty"`
}

// PageOptions selects one page of deals
type PageOptions struct {
	Page     int
	Limit    int
	Category string
	Search   string
	Sort     models.SortKey
}

func (o PageOptions) query() string {
	q := url.Values{}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Category != "" {
		q.Set("category", o.Category)
	}
	if o.Search != "" {
		q.Set("search", o.Search)
	}
	if o.Sort != "" {
		q.Set("sort", string(o.Sort))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// ListDeals returns every visible deal with its companies
func (c *Client) ListDeals(ctx context.Context) (*models.DealsResult, error) {
	var out models.DealsResult
	if err := c.call(ctx, http.MethodGet, "/api/v1/deals", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DealsPage returns one filtered page of deals
func (c *Client) DealsPage(ctx context.Context, opts PageOptions) (*models.DealsPage, error) {
	var out models.DealsPage
	if err := c.call(ctx, http.MethodGet, "/api/v1/deals/page"+opts.query(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FeaturedDeals returns the most clicked deals
func (c *Client) FeaturedDeals(ctx context.Context) ([]models.Deal, error) {
	var out []models.Deal
	if err := c.call(ctx, http.MethodGet, "/api/v1/deals/featured", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TrackClick records a click on a deal
func (c *Client) TrackClick(ctx context.Context, dealID string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/deals/"+url.PathEscape(dealID)+"/click", nil, nil)
}

// Categories lists the categories, "all" first
func (c *Client) Categories(ctx context.Context) ([]models.Category, error) {
	var out []models.Category
	if err := c.call(ctx, http.MethodGet, "/api/v1/categories", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CategoryStats returns deal counts per category
func (c *Client) CategoryStats(ctx context.Context) (map[string]int, error) {
	var out map[string]int
	if err := c.call(ctx, http.MethodGet, "/api/v1/categories/stats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CategoryInfo returns the companies of every category
func (c *Client) CategoryInfo(ctx context.Context) (map[string]models.CategoryInfo, error) {
	var out map[string]models.CategoryInfo
	if err := c.call(ctx, http.MethodGet, "/api/v1/categories/info", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CompanyRatings returns the public ratings of a company
func (c *Client) CompanyRatings(ctx context.Context, companyID string) (*models.CompanyRatings, error) {
	var out models.CompanyRatings
	if err := c.call(ctx, http.MethodGet, companyPath(companyID, "ratings"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MyRating returns the signed-in user's rating of a company
func (c *Client) MyRating(ctx context.Context, companyID string) (*MyRating, error) {
	var out MyRating
	if err := c.call(ctx, http.MethodGet, companyPath(companyID, "rating"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitRating creates or replaces the signed-in user's rating of a company
func (c *Client) SubmitRating(ctx context.Context, companyID string, input models.RatingInput) (*models.SubmitResult, error) {
	var out models.SubmitResult
	if err := c.call(ctx, http.MethodPut, companyPath(companyID, "rating"), input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MyRatings lists every rating of the signed-in user
func (c *Client) MyRatings(ctx context.Context) ([]models.Rating, error) {
	var out []models.Rating
	if err := c.call(ctx, http.MethodGet, "/api/v1/me/ratings", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Session returns the caller's sign-in state
func (c *Client) Session(ctx context.Context) (*Session, error) {
	var out Session
	if err := c.call(ctx, http.MethodGet, "/api/v1/auth/session", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Contact sends a contact form message
func (c *Client) Contact(ctx context.Context, input models.ContactInput) (*models.ContactMessage, error) {
	var out models.ContactMessage
	if err := c.call(ctx, http.MethodPost, "/api/v1/contact", input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Subscribe adds an email to the newsletter
func (c *Client) Subscribe(ctx context.Context, req models.NewsletterRequest) (*models.NewsletterResult, error) {
	var out models.NewsletterResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/newsletter/subscribe", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NewsletterStats returns the subscriber count
func (c *Client) NewsletterStats(ctx context.Context) (*models.NewsletterStats, error) {
	var out models.NewsletterStats
	if err := c.call(ctx, http.MethodGet, "/api/v1/newsletter/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Invoke calls a server function by name and decodes its result into out
func (c *Client) Invoke(ctx context.Context, name string, payload, out any) error {
	if payload == nil {
		payload = struct{}{}
	}
	return c.call(ctx, http.MethodPost, "/api/v1/functions/"+url.PathEscape(name), payload, out)
}

// Health checks API health
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, nil)
}

func companyPath(id, suffix string) string {
	return "/api/v1/companies/" + url.PathEscape(id) + "/" + suffix
}

// call sends body as JSON and decodes the envelope's data into out
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	status, resp, err := c.doRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}

	var result struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *APIError       `json:"error"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return fmt.Errorf("failed to unmarshal response (status %d): %w", status, err)
	}

	if !result.Success {
		apiErr := result.Error
		if apiErr == nil {
			apiErr = &APIError{Code: "unknown", Message: http.StatusText(status)}
		}
		apiErr.Status = status
		return apiErr
	}

	if out == nil || len(result.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(result.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return nil
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}
