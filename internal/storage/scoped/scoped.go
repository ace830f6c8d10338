// Package scoped implements the SESSION persistence kind: records that
// live in a directory owned by the current process and vanish with it.
package scoped

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/authpersist/internal/core/domain"
	"github.com/yndnr/authpersist/internal/storage"
	"github.com/yndnr/authpersist/internal/storage/local"
	"github.com/yndnr/authpersist/internal/telemetry/metric"
)

// DefaultRoot is the parent of scope directories when none is configured.
func DefaultRoot() string {
	return filepath.Join(os.TempDir(), "authpersist-session")
}

// Backend stores records in a scope directory named by a ULID. Other
// processes never see the directory, so listeners are never notified.
type Backend struct {
	id     string
	dir    string
	files  *local.Backend
	logger *slog.Logger
}

// Options configures a Backend.
type Options struct {
	// Root is the parent directory. Default: DefaultRoot().
	Root string
	// ID overrides the identity. Default: "session:" + scope.
	ID      string
	Logger  *slog.Logger
	Metrics *metric.Registry
}

// New creates a fresh scope under opts.Root.
func New(opts Options) (*Backend, error) {
	if opts.Root == "" {
		opts.Root = DefaultRoot()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	scope := ulid.Make().String()
	dir := filepath.Join(opts.Root, scope)
	id := opts.ID
	if id == "" {
		id = "session:" + scope
	}

	files, err := local.New(dir, local.Options{
		ID:      id,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("scoped: %w", err)
	}
	return &Backend{
		id:     id,
		dir:    dir,
		files:  files,
		logger: opts.Logger.With("backend", id),
	}, nil
}

// Persistence implements storage.Backend.
func (b *Backend) Persistence() domain.Persistence {
	return domain.Persistence{Kind: domain.KindSession, ID: b.id}
}

// Dir returns the scope directory.
func (b *Backend) Dir() string {
	return b.dir
}

// IsAvailable probes the scope directory.
func (b *Backend) IsAvailable(ctx context.Context) bool {
	return storage.Probe(ctx, b)
}

// Get implements storage.Backend.
func (b *Backend) Get(ctx context.Context, key string) (storage.Value, error) {
	return b.files.Get(ctx, key)
}

// Set implements storage.Backend.
func (b *Backend) Set(ctx context.Context, key string, value any) error {
	return b.files.Set(ctx, key, value)
}

// Remove implements storage.Backend.
func (b *Backend) Remove(ctx context.Context, key string) error {
	return b.files.Remove(ctx, key)
}

// AddListener returns a no-op handle; nothing else writes to the scope.
func (b *Backend) AddListener(string, storage.Listener) storage.Unsubscribe {
	return storage.NopUnsubscribe
}

// Close deletes the scope directory.
func (b *Backend) Close() error {
	if err := b.files.Close(); err != nil {
		b.logger.Debug("close scope files", "error", err)
	}
	if err := os.RemoveAll(b.dir); err != nil {
		return fmt.Errorf("scoped: remove %s: %w", b.dir, err)
	}
	return nil
}

var _ storage.Backend = (*Backend)(nil)
