package storage

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Factory creates a backend on first use.
type Factory func() (Backend, error)

// Registry hands out one backend instance per identity so that every
// manager built from the same descriptor shares state, listeners and
// open handles.
type Registry struct {
	mu       sync.Mutex
	backends map[string]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// GetOrCreate returns the backend registered under id, creating it with
// factory if absent. A failed factory leaves nothing registered.
func (r *Registry) GetOrCreate(id string, factory Factory) (Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.backends[id]; ok {
		return b, nil
	}
	b, err := factory()
	if err != nil {
		return nil, fmt.Errorf("create backend %q: %w", id, err)
	}
	if got := b.Persistence().ID; got != id {
		return nil, fmt.Errorf("create backend %q: factory returned identity %q", id, got)
	}
	r.backends[id] = b
	return b, nil
}

// Lookup returns the backend registered under id.
func (r *Registry) Lookup(id string) (Backend, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backends[id]
	return b, ok
}

// IDs returns the registered identities in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Release unregisters id and closes the backend if it holds resources.
func (r *Registry) Release(id string) error {
	r.mu.Lock()
	b, ok := r.backends[id]
	delete(r.backends, id)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if c, ok := b.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Close releases every registered backend.
func (r *Registry) Close() error {
	var errs []error
	for _, id := range r.IDs() {
		if err := r.Release(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
