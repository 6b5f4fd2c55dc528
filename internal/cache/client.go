package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	"github.com/oentex/oentex/internal/apperr"
	"github.com/oentex/oentex/internal/metrics"
)

// ErrCancelled is returned to callers whose query was cancelled by
// CancelQueries or a mutation more often than a reader reloads it
var ErrCancelled = errors.New("query cancelled")

// maxReloads bounds how often a reader restarts a load cancelled under it
const maxReloads = 3

// Policy controls freshness, retention and retries of a scope
type Policy struct {
	// StaleTime is how long an entry is served without refetching
	StaleTime time.Duration
	// GCTime is how long an entry is retained in the store
	GCTime time.Duration
	// MaxRetries is the number of retries after the first attempt for
	// transient failures
	MaxRetries int
}

// DefaultPolicy is 5 minutes stale, 30 minutes retained, 2 retries
var DefaultPolicy = Policy{
	StaleTime:  5 * time.Minute,
	GCTime:     30 * time.Minute,
	MaxRetries: 2,
}

// EventType names a cache change
type EventType string

const (
	EventInvalidated EventType = "invalidated"
	EventRestored    EventType = "restored"
)

// Event describes a cache change, for push subscribers
type Event struct {
	Type EventType `json:"type"`
	Keys []string  `json:"keys"`
	At   time.Time `json:"at"`
}

// Client is the query cache: it serves fresh entries, deduplicates
// concurrent fetches of the same key, retries transient failures and
// drops responses superseded by a cancel or invalidation
type Client struct {
	store   Store
	group   singleflight.Group
	backoff time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu            sync.Mutex
	defaultPolicy Policy
	policies      map[string]Policy
	generations   map[string]uint64
	inflight      map[*flight]struct{}
	subs          map[int]chan Event
	nextSub       int
}

type flight struct {
	key    string
	scope  string
	cancel context.CancelFunc
}

type entry struct {
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Option configures a Client
type Option func(*Client)

// WithDefaultPolicy sets the policy of scopes without their own
func WithDefaultPolicy(p Policy) Option {
	return func(c *Client) { c.defaultPolicy = p }
}

// WithPolicy sets the policy of one scope. A policy for "company-ratings"
// also covers "company-ratings/{id}".
func WithPolicy(scope string, p Policy) Option {
	return func(c *Client) { c.policies[scope] = p }
}

// WithRetryBackoff sets the base delay of the exponential retry backoff
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithClock overrides the time source used for staleness
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithMetrics records cache outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a query cache on top of store
func NewClient(store Store, opts ...Option) *Client {
	c := &Client{
		store:         store,
		backoff:       200 * time.Millisecond,
		now:           time.Now,
		logger:        slog.Default(),
		defaultPolicy: DefaultPolicy,
		policies:      make(map[string]Policy),
		generations:   make(map[string]uint64),
		inflight:      make(map[*flight]struct{}),
		subs:          make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.backoff <= 0 {
		c.backoff = time.Millisecond
	}
	return c
}

// SetPolicy changes the policy of a scope
func (c *Client) SetPolicy(scope string, p Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies[scope] = p
}

// Fetch returns the cached value of key, or runs fn to load it. Concurrent
// callers of the same key share one load.
func Fetch[T any](ctx context.Context, c *Client, key Key, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := c.fetch(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("failed to decode cached %s: %w", key.Scope, err)
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, key Key, fn func(context.Context) (any, error)) (json.RawMessage, error) {
	k := key.String()
	policy := c.policyFor(key.Scope)

	cached := c.lookup(ctx, k)
	if cached != nil && c.now().Sub(cached.UpdatedAt) < policy.StaleTime {
		c.metrics.CacheRequest(key.Scope, "hit")
		return cached.Data, nil
	}
	if cached != nil {
		c.metrics.CacheRequest(key.Scope, "stale")
	} else {
		c.metrics.CacheRequest(key.Scope, "miss")
	}

	for reloads := 0; ; reloads++ {
		ch := c.group.DoChan(k, func() (any, error) {
			return c.load(ctx, key, k, policy, fn)
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-ch:
		}

		switch {
		case res.Err == nil:
			return res.Val.(json.RawMessage), nil

		case errors.Is(res.Err, ErrCancelled):
			// The shared load was cancelled by a mutation. Readers keep
			// the previous data, or load again under the new generation.
			if cached != nil {
				c.metrics.CacheRequest(key.Scope, "stale_served")
				return cached.Data, nil
			}
			if reloads < maxReloads {
				c.logger.Debug("reloading cancelled query", "key", k)
				continue
			}
			return nil, res.Err

		case cached != nil:
			c.logger.Warn("serving stale cache entry after failed refetch",
				"key", k,
				"error", res.Err,
			)
			c.metrics.CacheRequest(key.Scope, "stale_served")
			return cached.Data, nil

		default:
			return nil, res.Err
		}
	}
}

// load runs fn with retries on a context detached from the first caller, so
// one caller going away does not fail the others sharing the flight
func (c *Client) load(parent context.Context, key Key, k string, policy Policy, fn func(context.Context) (any, error)) (any, error) {
	fctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	defer cancel()

	f := &flight{key: k, scope: key.Scope, cancel: cancel}
	c.mu.Lock()
	gen := c.generations[key.Scope]
	c.inflight[f] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, f)
		c.mu.Unlock()
	}()

	var data json.RawMessage
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(max(policy.MaxRetries, 0)), retry.NewExponential(c.backoff))

	err := retry.Do(fctx, backoff, func(ctx context.Context) error {
		if attempt > 0 {
			c.metrics.QueryRetry(key.Scope)
			c.logger.Debug("retrying query", "key", k, "attempt", attempt+1)
		}
		attempt++

		v, err := fn(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if apperr.Retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}

		data, err = json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", key.Scope, err)
		}
		return nil
	})

	if fctx.Err() != nil {
		return nil, fmt.Errorf("%s: %w", k, ErrCancelled)
	}
	if err != nil {
		kind := apperr.Classify(err)
		c.metrics.QueryFailure(key.Scope, string(kind))
		c.logger.Warn("query failed",
			"key", k,
			"attempts", attempt,
			"kind", kind,
			"error", err,
		)
		return nil, apperr.Wrap(kind, "query "+key.Scope, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A cancel or invalidation happened while loading: the response may
	// predate the change, so it is returned but not cached
	if c.generations[key.Scope] != gen {
		return data, nil
	}

	encoded, err := json.Marshal(entry{Data: data, UpdatedAt: c.now()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := c.store.Set(fctx, k, encoded, policy.GCTime); err != nil {
		c.logger.Warn("failed to write cache entry", "key", k, "error", err)
	}
	return data, nil
}

func (c *Client) lookup(ctx context.Context, k string) *entry {
	raw, err := c.store.Get(ctx, k)
	if err != nil {
		c.logger.Warn("failed to read cache entry", "key", k, "error", err)
		return nil
	}
	if raw == nil {
		return nil
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("dropping undecodable cache entry", "key", k, "error", err)
		return nil
	}
	return &e
}

// CancelQueries aborts in-flight loads addressed by keys and makes sure
// their responses are never written to the cache
func (c *Client) CancelQueries(keys ...Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked(keys)
}

func (c *Client) cancelLocked(keys []Key) {
	for _, key := range keys {
		c.generations[key.Scope]++
		for f := range c.inflight {
			if key.Matches(f.key) {
				f.cancel()
				c.group.Forget(f.key)
			}
		}
	}
}

// Invalidate drops the entries addressed by keys so the next Fetch reloads
// them. In-flight loads of the same scopes will not be cached.
func (c *Client) Invalidate(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}

	c.mu.Lock()
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		c.generations[key.Scope]++
		names = append(names, key.String())
	}
	c.mu.Unlock()

	err := c.deleteKeys(ctx, keys)
	c.emit(Event{Type: EventInvalidated, Keys: names, At: c.now()})
	return err
}

// deleteKeys removes the entries addressed by keys. Callers bump the
// generations first, so a load racing the delete is never cached.
func (c *Client) deleteKeys(ctx context.Context, keys []Key) error {
	var errs []error
	for _, key := range keys {
		if key.Exact() {
			if err := c.store.Delete(ctx, key.String()); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if _, err := c.store.DeletePrefix(ctx, key.Prefix()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Snapshot is a copy of cache entries taken before a mutation
type Snapshot struct {
	keys    []Key
	entries map[string][]byte
}

// Len returns the number of captured entries
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Snapshot captures the entries addressed by keys
func (c *Client) Snapshot(ctx context.Context, keys ...Key) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(ctx, keys)
}

func (c *Client) snapshotLocked(ctx context.Context, keys []Key) (*Snapshot, error) {
	snap := &Snapshot{keys: keys, entries: make(map[string][]byte)}
	for _, key := range keys {
		if key.Exact() {
			raw, err := c.store.Get(ctx, key.String())
			if err != nil {
				return nil, fmt.Errorf("failed to snapshot %s: %w", key, err)
			}
			if raw != nil {
				snap.entries[key.String()] = raw
			}
			continue
		}
		entries, err := c.store.GetPrefix(ctx, key.Prefix())
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot %s: %w", key.Scope, err)
		}
		for k, v := range entries {
			snap.entries[k] = v
		}
	}
	return snap, nil
}

// Restore puts the cache back to the state captured by snap. Entries
// written after the snapshot under the same keys are discarded.
func (c *Client) Restore(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return nil
	}

	c.mu.Lock()
	for _, key := range snap.keys {
		c.generations[key.Scope]++
	}
	ttls := make(map[string]time.Duration, len(snap.entries))
	for k := range snap.entries {
		ttls[k] = c.policyForLocked(scopeOf(k)).GCTime
	}
	c.mu.Unlock()

	errs := []error{c.deleteKeys(ctx, snap.keys)}
	names := make([]string, 0, len(snap.entries))
	for k, v := range snap.entries {
		names = append(names, k)
		if err := c.store.Set(ctx, k, v, ttls[k]); err != nil {
			errs = append(errs, err)
		}
	}

	c.emit(Event{Type: EventRestored, Keys: names, At: c.now()})
	return errors.Join(errs...)
}

// Subscribe returns a channel of cache events and a function to stop the
// subscription. Events are dropped for subscribers that fall behind.
func (c *Client) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

func (c *Client) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *Client) policyFor(scope string) Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policyForLocked(scope)
}

func (c *Client) policyForLocked(scope string) Policy {
	if p, ok := c.policies[scope]; ok {
		return p
	}
	if base, _, found := strings.Cut(scope, "/"); found {
		if p, ok := c.policies[base]; ok {
			return p
		}
	}
	return c.defaultPolicy
}
