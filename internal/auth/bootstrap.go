package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultInitTimeout  = 10 * time.Second
	DefaultInitAttempts = 3
)

// Probe checks that the identity provider is reachable
type Probe func(ctx context.Context) error

// State is the outcome of auth initialization
type State struct {
	// Ready is always true once Bootstrap returns
	Ready bool
	// Degraded means initialization gave up and sessions are not verified:
	// every request is treated as unauthenticated
	Degraded bool
	Attempts int
	Err      error
}

// Bootstrap runs probe up to attempts times, each bounded by timeout. If no
// attempt succeeds the state is forced ready in degraded mode so startup
// never blocks on the identity provider.
func Bootstrap(ctx context.Context, probe Probe, timeout time.Duration, attempts int) State {
	if probe == nil {
		return State{Ready: true}
	}
	if timeout <= 0 {
		timeout = DefaultInitTimeout
	}
	if attempts <= 0 {
		attempts = DefaultInitAttempts
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		actx, cancel := context.WithTimeout(ctx, timeout)
		lastErr = probe(actx)
		cancel()

		if lastErr == nil {
			slog.Info("auth initialized", "attempt", i)
			return State{Ready: true, Attempts: i}
		}
		slog.Warn("auth initialization attempt failed", "attempt", i, "max_attempts", attempts, "error", lastErr)

		if ctx.Err() != nil {
			return State{Ready: true, Degraded: true, Attempts: i, Err: ctx.Err()}
		}
	}

	slog.Error("auth initialization gave up, continuing unauthenticated", "attempts", attempts, "error", lastErr)
	return State{Ready: true, Degraded: true, Attempts: attempts, Err: lastErr}
}

// HTTPProbe returns a probe that expects a 2xx response from url
func HTTPProbe(client *http.Client, url string) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("auth health check: %w", err)
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("auth health check: unexpected status %d", resp.StatusCode)
		}
		return nil
	}
}
