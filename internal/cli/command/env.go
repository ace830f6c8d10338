package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/yndnr/authpersist/internal/cli/output"
	"github.com/yndnr/authpersist/internal/config"
	"github.com/yndnr/authpersist/internal/core/service"
	"github.com/yndnr/authpersist/internal/infra/confloader"
	"github.com/yndnr/authpersist/internal/messaging/wsport"
	"github.com/yndnr/authpersist/internal/storage"
	"github.com/yndnr/authpersist/internal/storage/hostasync"
	"github.com/yndnr/authpersist/internal/storage/indexed"
	"github.com/yndnr/authpersist/internal/storage/local"
	"github.com/yndnr/authpersist/internal/storage/memory"
	"github.com/yndnr/authpersist/internal/storage/scoped"
	"github.com/yndnr/authpersist/internal/telemetry/logger"
	"github.com/yndnr/authpersist/internal/telemetry/metric"
)

// Env is the state shared by the commands of one invocation: the loaded
// configuration and the backends opened on its behalf. Backends are
// registered under their configuration name, so every command sees the
// same instance.
type Env struct {
	Config  *config.ClientConfig
	Loader  *confloader.Loader
	Logger  logger.Logger
	Metrics *metric.Registry
	Output  output.Format
	Wide    bool

	backends *storage.Registry

	mu      sync.Mutex
	closers []io.Closer
	states  []*service.AuthState
	closed  bool
}

// NewEnv wraps cfg. The caller closes the Env.
func NewEnv(cfg *config.ClientConfig, loader *confloader.Loader, log logger.Logger) *Env {
	return &Env{
		Config:   cfg,
		Loader:   loader,
		Logger:   log,
		Metrics:  metric.NewRegistry(),
		Output:   output.FormatTable,
		backends: storage.NewRegistry(),
	}
}

func (e *Env) slog() *slog.Logger {
	return e.Logger.Slog()
}

// Backend returns the backend configured under name, opening it on first
// use.
func (e *Env) Backend(ctx context.Context, name string) (storage.Backend, error) {
	return e.backends.GetOrCreate(name, func() (storage.Backend, error) {
		return e.open(ctx, name)
	})
}

// Hierarchy opens the configured backends in preference order.
func (e *Env) Hierarchy(ctx context.Context) ([]storage.Backend, error) {
	names := e.Config.Persistence.Hierarchy
	hierarchy := make([]storage.Backend, 0, len(names))
	for _, name := range names {
		b, err := e.Backend(ctx, name)
		if err != nil {
			return nil, err
		}
		hierarchy = append(hierarchy, b)
	}
	return hierarchy, nil
}

// AuthState builds a state over the configured hierarchy. It is closed
// with the Env.
func (e *Env) AuthState(ctx context.Context) (*service.AuthState, error) {
	if err := config.VerifyApp(&e.Config.App); err != nil {
		return nil, err
	}
	hierarchy, err := e.Hierarchy(ctx)
	if err != nil {
		return nil, err
	}
	fallback, err := e.Backend(ctx, config.BackendMemory)
	if err != nil {
		return nil, err
	}
	state, err := service.NewAuthState(ctx, service.CreateParams{
		Hierarchy:                 hierarchy,
		APIKey:                    e.Config.App.APIKey,
		AppName:                   e.Config.App.Name,
		PreferRedirectPersistence: e.Config.Persistence.PreferRedirect,
		Fallback:                  fallback,
		Logger:                    e.slog(),
		Metrics:                   e.Metrics,
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.states = append(e.states, state)
	e.mu.Unlock()
	return state, nil
}

// Close releases states first, then backends, then the connections and
// clients they used.
func (e *Env) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	states, closers := e.states, e.closers
	e.mu.Unlock()

	for _, s := range states {
		s.Close()
	}
	errs := []error{e.backends.Close()}
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, closers[i].Close())
	}
	return errors.Join(errs...)
}

func (e *Env) onClose(c io.Closer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closers = append(e.closers, c)
}

// ============================================================================
// Backend construction
// ============================================================================

func (e *Env) open(ctx context.Context, name string) (storage.Backend, error) {
	cfg := e.Config.Persistence
	switch name {
	case config.BackendMemory:
		return memory.New(memory.WithID(name)), nil

	case config.BackendLocal:
		b, err := local.New(cfg.Local.Dir, local.Options{
			ID:           name,
			ForcePolling: cfg.Local.ForcePolling,
			CachedReads:  cfg.Local.CachedReads,
			PollInterval: cfg.Local.PollInterval,
			Logger:       e.slog(),
			Metrics:      e.Metrics,
		})
		if err != nil {
			return nil, err
		}
		e.Metrics.Watch(b)
		return b, nil

	case config.BackendSession:
		return scoped.New(scoped.Options{
			Root:    cfg.Session.Root,
			ID:      name,
			Logger:  e.slog(),
			Metrics: e.Metrics,
		})

	case config.BackendIndexed:
		return e.openIndexed(ctx, name)

	case config.BackendHost:
		return e.openHost(name), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

func (e *Env) openIndexed(ctx context.Context, name string) (storage.Backend, error) {
	cfg := e.Config.Persistence.Indexed
	badger := storage.DefaultBadgerConfig()
	badger.GCInterval = cfg.GCInterval
	badger.SyncWrites = cfg.SyncWrites

	opts := indexed.Options{
		Dir:          cfg.Dir,
		Badger:       &badger,
		ID:           name,
		Mode:         indexed.ModePage,
		PollInterval: cfg.PollInterval,
		Logger:       e.slog(),
		Metrics:      e.Metrics,
	}

	if url := e.Config.Messaging.WorkerURL; url != "" {
		conn, err := wsport.Dial(ctx, url, e.slog())
		if err != nil {
			// Writes still land; other processes only see them on their
			// next poll.
			e.Logger.Warn("worker unreachable, continuing without notifications", "url", url, "error", err)
		} else {
			opts.Port = conn
			e.onClose(conn)
		}
	}

	b, err := indexed.New(opts)
	if err != nil {
		return nil, err
	}
	e.Metrics.Watch(b)
	return b, nil
}

func (e *Env) openHost(name string) storage.Backend {
	cfg := e.Config.Redis
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	e.onClose(client)
	return hostasync.New(
		hostasync.NewRedisStorage(client, cfg.Prefix, cfg.TTL),
		hostasync.WithID(name),
		hostasync.WithMetrics(e.Metrics),
	)
}
