// Package hostasync adapts a host-provided asynchronous string store to
// the storage.Backend contract (kind HOST).
package hostasync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yndnr/authpersist/internal/core/domain"
	"github.com/yndnr/authpersist/internal/storage"
	"github.com/yndnr/authpersist/internal/telemetry/metric"
)

// AsyncStorage is the store a host application hands in. GetItem reports
// ok=false for a missing key.
type AsyncStorage interface {
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// Backend wraps an AsyncStorage. It cannot observe other writers.
type Backend struct {
	id      string
	store   AsyncStorage
	metrics *metric.Registry
}

// Option configures a Backend.
type Option func(*Backend)

// WithID sets the identity. Default: "host".
func WithID(id string) Option {
	return func(b *Backend) { b.id = id }
}

// WithMetrics records operations in m.
func WithMetrics(m *metric.Registry) Option {
	return func(b *Backend) { b.metrics = m }
}

// New wraps store.
func New(store AsyncStorage, opts ...Option) *Backend {
	b := &Backend{id: "host", store: store}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Persistence implements storage.Backend.
func (b *Backend) Persistence() domain.Persistence {
	return domain.Persistence{Kind: domain.KindHost, ID: b.id}
}

// IsAvailable writes and removes the probe key.
func (b *Backend) IsAvailable(ctx context.Context) bool {
	if b.store == nil {
		return false
	}
	return storage.Probe(ctx, b)
}

// Get implements storage.Backend.
func (b *Backend) Get(ctx context.Context, key string) (v storage.Value, err error) {
	start := time.Now()
	defer func() { b.metrics.ObserveStorage(domain.KindHost, "get", start, err) }()

	s, ok, err := b.store.GetItem(ctx, key)
	if err != nil {
		return nil, domain.ErrStorageError.WithDetailsf("read %q", key).WithCause(err)
	}
	if !ok {
		return nil, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, domain.ErrMalformedValue.WithDetailsf("key %q", key)
	}
	return storage.Value(s), nil
}

// Set implements storage.Backend.
func (b *Backend) Set(ctx context.Context, key string, value any) (err error) {
	start := time.Now()
	defer func() { b.metrics.ObserveStorage(domain.KindHost, "set", start, err) }()

	v, err := storage.Encode(value)
	if err != nil {
		return err
	}
	if err := b.store.SetItem(ctx, key, string(v)); err != nil {
		return domain.ErrStorageError.WithDetailsf("write %q", key).WithCause(err)
	}
	return nil
}

// Remove implements storage.Backend.
func (b *Backend) Remove(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { b.metrics.ObserveStorage(domain.KindHost, "remove", start, err) }()

	if err := b.store.RemoveItem(ctx, key); err != nil {
		return domain.ErrStorageError.WithDetailsf("remove %q", key).WithCause(err)
	}
	return nil
}

// AddListener returns a no-op handle.
func (b *Backend) AddListener(string, storage.Listener) storage.Unsubscribe {
	return storage.NopUnsubscribe
}

var _ storage.Backend = (*Backend)(nil)
