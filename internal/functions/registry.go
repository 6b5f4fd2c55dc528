package functions

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/oentex/oentex/internal/apperr"
)

var ErrUnknownFunction = errors.New("unknown function")

// Function is a named backend function callable with a JSON payload
type Function interface {
	// Name is the name the function is invoked by
	Name() string

	// Invoke runs the function. The result is encoded as JSON by the caller.
	Invoke(ctx context.Context, payload json.RawMessage) (any, error)

	// HealthCheck checks if the function's dependencies are available
	HealthCheck(ctx context.Context) error
}

// Registry manages callable functions
type Registry struct {
	mu        sync.RWMutex
	functions map[string]Function
}

// NewRegistry creates a registry holding fns
func NewRegistry(fns ...Function) *Registry {
	r := &Registry{functions: make(map[string]Function)}
	for _, fn := range fns {
		r.Register(fn)
	}
	return r
}

// Register adds a function, replacing one with the same name
func (r *Registry) Register(fn Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[fn.Name()] = fn
}

// Get retrieves a function by name
func (r *Registry) Get(name string) Function {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.functions[name]
}

// List returns the registered function names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke calls the named function
func (r *Registry) Invoke(ctx context.Context, name string, payload json.RawMessage) (any, error) {
	fn := r.Get(name)
	if fn == nil {
		return nil, apperr.Wrap(apperr.KindNotFound, name, ErrUnknownFunction)
	}
	return fn.Invoke(ctx, payload)
}

// HealthCheckAll checks health of all registered functions
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make(map[string]error, len(r.functions))
	for name, fn := range r.functions {
		results[name] = fn.HealthCheck(ctx)
	}
	return results
}
