package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/oentex/oentex/internal/apperr"
	"github.com/oentex/oentex/internal/models"
)

const (
	NewsletterSubscribeName = "newsletter-subscribe"
	NewsletterStatsName     = "newsletter-stats"

	defaultSource = "website"
)

// Subscriber is one newsletter subscription
type Subscriber struct {
	Email       string
	Source      string
	Preferences []string
	CreatedAt   time.Time
}

// SubscriberStore persists newsletter subscriptions
type SubscriberStore interface {
	// Add stores s. It returns false if the email is already subscribed.
	Add(ctx context.Context, s Subscriber) (bool, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

// NewsletterSubscribe implements the newsletter-subscribe function
type NewsletterSubscribe struct {
	store SubscriberStore
	now   func() time.Time
}

func NewNewsletterSubscribe(store SubscriberStore) *NewsletterSubscribe {
	return &NewsletterSubscribe{store: store, now: time.Now}
}

func (f *NewsletterSubscribe) Name() string { return NewsletterSubscribeName }

func (f *NewsletterSubscribe) HealthCheck(ctx context.Context) error {
	return f.store.Ping(ctx)
}

func (f *NewsletterSubscribe) Invoke(ctx context.Context, payload json.RawMessage) (any, error) {
	var req models.NewsletterRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, apperr.Validation(NewsletterSubscribeName, map[string]string{"body": "must be a JSON object"})
	}
	return f.Subscribe(ctx, req)
}

// Subscribe validates the request and stores the subscription. A duplicate
// email is not an error: the result reports success false.
func (f *NewsletterSubscribe) Subscribe(ctx context.Context, req models.NewsletterRequest) (*models.NewsletterResult, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, apperr.Validation(NewsletterSubscribeName, map[string]string{"email": err.Error()})
	}

	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = defaultSource
	}

	created, err := f.store.Add(ctx, Subscriber{
		Email:       email,
		Source:      source,
		Preferences: cleanPreferences(req.Preferences),
		CreatedAt:   f.now().UTC(),
	})
	if err != nil {
		return nil, apperr.Wrap("", NewsletterSubscribeName, fmt.Errorf("failed to store subscriber: %w", err))
	}
	if !created {
		return &models.NewsletterResult{Success: false, Message: "This email is already subscribed to the newsletter."}, nil
	}

	slog.Info("newsletter subscription", "source", source)
	return &models.NewsletterResult{Success: true, Message: "Thanks for subscribing! Check your inbox for the latest deals."}, nil
}

// NewsletterStats implements the newsletter-stats function
type NewsletterStats struct {
	store SubscriberStore
}

func NewNewsletterStats(store SubscriberStore) *NewsletterStats {
	return &NewsletterStats{store: store}
}

func (f *NewsletterStats) Name() string { return NewsletterStatsName }

func (f *NewsletterStats) HealthCheck(ctx context.Context) error {
	return f.store.Ping(ctx)
}

func (f *NewsletterStats) Invoke(ctx context.Context, _ json.RawMessage) (any, error) {
	n, err := f.store.Count(ctx)
	if err != nil {
		return nil, apperr.Wrap("", NewsletterStatsName, fmt.Errorf("failed to count subscribers: %w", err))
	}
	return &models.NewsletterStats{Subscribers: n}, nil
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("is required")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", errors.New("is not a valid email address")
	}
	// the domain needs a dot; net/mail accepts bare hosts
	domain := addr.Address[strings.LastIndex(addr.Address, "@")+1:]
	if !strings.Contains(domain, ".") {
		return "", errors.New("is not a valid email address")
	}
	return strings.ToLower(addr.Address), nil
}

func cleanPreferences(prefs []string) []string {
	out := make([]string, 0, len(prefs))
	seen := make(map[string]bool, len(prefs))
	for _, p := range prefs {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
