package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrMutationSettled is returned when a mutation is committed or rolled
// back a second time
var ErrMutationSettled = errors.New("mutation already settled")

// MutationState is the lifecycle state of a Mutation
type MutationState string

const (
	MutationPending    MutationState = "pending"
	MutationCommitted  MutationState = "committed"
	MutationRolledBack MutationState = "rolled_back"
)

// MutationOptions lists what to cancel and what to snapshot when a
// mutation begins
type MutationOptions struct {
	Cancel   []Key
	Snapshot []Key
}

// Mutation tracks one optimistic write against the cache. It starts
// pending and settles exactly once, by Commit or Rollback.
type Mutation struct {
	client   *Client
	snapshot *Snapshot

	mu    sync.Mutex
	state MutationState
}

// BeginMutation cancels the in-flight queries named in opts and snapshots
// the given keys. Both happen under the client lock, so no load can write
// between the cancel and the snapshot.
func (c *Client) BeginMutation(ctx context.Context, opts MutationOptions) (*Mutation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelLocked(opts.Cancel)
	snap, err := c.snapshotLocked(ctx, opts.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to begin mutation: %w", err)
	}

	return &Mutation{
		client:   c,
		snapshot: snap,
		state:    MutationPending,
	}, nil
}

// State returns the current state
func (m *Mutation) State() MutationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns what was captured when the mutation began
func (m *Mutation) Snapshot() *Snapshot {
	return m.snapshot
}

// Commit settles the mutation as successful and invalidates keys
func (m *Mutation) Commit(ctx context.Context, invalidate ...Key) error {
	if err := m.settle(MutationCommitted); err != nil {
		return err
	}
	m.client.metrics.Mutation(string(MutationCommitted))
	return m.client.Invalidate(ctx, invalidate...)
}

// Rollback settles the mutation as failed and restores the snapshot
func (m *Mutation) Rollback(ctx context.Context) error {
	if err := m.settle(MutationRolledBack); err != nil {
		return err
	}
	m.client.metrics.Mutation(string(MutationRolledBack))
	return m.client.Restore(ctx, m.snapshot)
}

func (m *Mutation) settle(to MutationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != MutationPending {
		return fmt.Errorf("%w: %s", ErrMutationSettled, m.state)
	}
	m.state = to
	return nil
}
