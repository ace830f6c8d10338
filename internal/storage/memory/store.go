// Package memory provides the volatile in-memory backend.
package memory

import (
	"context"

	"github.com/yndnr/authpersist/internal/core/domain"
	"github.com/yndnr/authpersist/internal/storage"
	"github.com/yndnr/authpersist/pkg/cmap"
)

// DefaultID is the identity used when none is given.
const DefaultID = "memory"

// Store keeps values in a sharded map for the life of the process. It is
// never shared with another process and so never notifies listeners.
type Store struct {
	id     string
	values *cmap.Map[string, storage.Value]
}

// Option configures the Store.
type Option func(*Store)

// WithID sets the backend identity. Stores with different identities are
// different persistences even though both are volatile.
func WithID(id string) Option {
	return func(s *Store) {
		s.id = id
	}
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		id:     DefaultID,
		values: cmap.New[string, storage.Value](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Persistence implements storage.Backend.
func (s *Store) Persistence() domain.Persistence {
	return domain.Persistence{Kind: domain.KindNone, ID: s.id}
}

// IsAvailable always reports true.
func (s *Store) IsAvailable(context.Context) bool {
	return true
}

// Get returns a copy of the stored value, or nil when absent.
func (s *Store) Get(_ context.Context, key string) (storage.Value, error) {
	v, ok := s.values.Get(key)
	if !ok {
		return nil, nil
	}
	return append(storage.Value(nil), v...), nil
}

// Set stores the encoded value.
func (s *Store) Set(_ context.Context, key string, value any) error {
	v, err := storage.Encode(value)
	if err != nil {
		return err
	}
	s.values.Set(key, v)
	return nil
}

// Remove deletes key.
func (s *Store) Remove(_ context.Context, key string) error {
	s.values.Delete(key)
	return nil
}

// AddListener returns a no-op handle.
func (s *Store) AddListener(string, storage.Listener) storage.Unsubscribe {
	return storage.NopUnsubscribe
}

// Keys returns the stored keys.
func (s *Store) Keys() []string {
	return s.values.Keys()
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	return s.values.Count()
}

var _ storage.Backend = (*Store)(nil)
