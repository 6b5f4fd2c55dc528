package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/oentex/oentex/internal/cache"
)

// Janitor periodically sweeps expired entries out of an evicting cache store
type Janitor struct {
	store    cache.Evicter
	interval time.Duration
	now      func() time.Time
}

// NewJanitor creates a new eviction worker
func NewJanitor(store cache.Evicter, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}

	return &Janitor{
		store:    store,
		interval: interval,
		now:      time.Now,
	}
}

// Start begins the eviction worker in a goroutine
func (j *Janitor) Start(ctx context.Context) {
	go j.run(ctx)
}

func (j *Janitor) run(ctx context.Context) {
	slog.Info("cache janitor started", "interval", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("cache janitor stopped")
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep evicts expired entries once and returns how many were removed
func (j *Janitor) Sweep() int {
	evicted := j.store.Evict(j.now())
	if evicted > 0 {
		slog.Debug("evicted expired cache entries", "count", evicted)
	}
	return evicted
}
