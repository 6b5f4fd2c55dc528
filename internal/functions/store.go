package functions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/lib/pq"
)

// uniqueViolation is the SQLSTATE of a duplicate primary key
const uniqueViolation = "23505"

// PostgresSubscriberStore stores subscribers in the newsletter_subscribers table
type PostgresSubscriberStore struct {
	db *sql.DB
}

// NewPostgresSubscriberStore opens a database/sql connection with the pq driver
func NewPostgresSubscriberStore(ctx context.Context, dsn string) (*PostgresSubscriberStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PostgresSubscriberStore{db: db}, nil
}

// NewPostgresSubscriberStoreFromDB wraps an open database
func NewPostgresSubscriberStoreFromDB(db *sql.DB) *PostgresSubscriberStore {
	return &PostgresSubscriberStore{db: db}
}

func (s *PostgresSubscriberStore) Add(ctx context.Context, sub Subscriber) (bool, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO newsletter_subscribers (email, source, preferences, created_at) VALUES ($1, $2, $3, $4)`,
		sub.Email, sub.Source, pq.Array(sub.Preferences), sub.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *PostgresSubscriberStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM newsletter_subscribers`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PostgresSubscriberStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresSubscriberStore) Close() error {
	return s.db.Close()
}

// MemorySubscriberStore keeps subscribers in memory
type MemorySubscriberStore struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
}

func NewMemorySubscriberStore() *MemorySubscriberStore {
	return &MemorySubscriberStore{subscribers: make(map[string]Subscriber)}
}

func (s *MemorySubscriberStore) Add(ctx context.Context, sub Subscriber) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[sub.Email]; ok {
		return false, nil
	}
	s.subscribers[sub.Email] = sub
	return true, nil
}

func (s *MemorySubscriberStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers), nil
}

func (s *MemorySubscriberStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Get returns the subscriber with email, if any
func (s *MemorySubscriberStore) Get(email string) (Subscriber, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscribers[email]
	return sub, ok
}
