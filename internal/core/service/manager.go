package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/yndnr/authpersist/internal/core/domain"
	"github.com/yndnr/authpersist/internal/storage"
	"github.com/yndnr/authpersist/internal/storage/memory"
	"github.com/yndnr/authpersist/internal/telemetry/metric"
)

// CreateParams configures PersistenceManager construction.
type CreateParams struct {
	// Hierarchy lists candidate backends in preference order. The manager
	// keeps its own copy.
	Hierarchy []storage.Backend

	// APIKey and AppName scope every key the manager reads or writes.
	APIKey  string
	AppName string

	// UserKey selects the record slot. Defaults to domain.KeyAuthUser.
	UserKey domain.KeyName

	// OnChange is called when another context changes the user record in
	// the active backend. It may be nil.
	OnChange storage.Listener

	// PreferRedirectPersistence makes Create honor a persistence kind saved
	// by SavePersistenceForRedirect before probing the hierarchy.
	PreferRedirectPersistence bool

	// Fallback is the volatile backend used when nothing in the hierarchy
	// is available. Defaults to a fresh memory store.
	Fallback storage.Backend

	Logger  *slog.Logger
	Metrics *metric.Registry
}

// PersistenceManager owns the user record for one (apiKey, appName, key)
// triple. All writes go to a single active backend picked from the
// hierarchy at construction.
//
// Mutations are not serialized here; callers either serialize them or use
// an OperationQueue.
type PersistenceManager struct {
	hierarchy          []storage.Backend
	fullUserKey        string
	fullPersistenceKey string
	onChange           storage.Listener
	logger             *slog.Logger
	metrics            *metric.Registry

	mu       sync.Mutex
	active   storage.Backend
	unlisten storage.Unsubscribe
	deleted  bool
}

// ============================================================================
// Construction
// ============================================================================

// Create selects the active backend, reconciles a record split across the
// hierarchy into it and attaches the change listener.
func Create(ctx context.Context, p CreateParams) (*PersistenceManager, error) {
	// 1. Validate required fields
	if p.APIKey == "" {
		return nil, domain.ErrMissingArgument.WithDetails("api key is required")
	}
	if p.AppName == "" {
		return nil, domain.ErrMissingArgument.WithDetails("app name is required")
	}
	if p.UserKey == "" {
		p.UserKey = domain.KeyAuthUser
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Fallback == nil {
		p.Fallback = memory.New()
	}

	m := &PersistenceManager{
		hierarchy:          append([]storage.Backend(nil), p.Hierarchy...),
		fullUserKey:        domain.FullKey(p.UserKey, p.APIKey, p.AppName),
		fullPersistenceKey: domain.FullKey(domain.KeyPersistence, p.APIKey, p.AppName),
		onChange:           p.OnChange,
		metrics:            p.Metrics,
	}
	m.logger = p.Logger.With("component", "persistence_manager", "key", m.fullUserKey)

	// 2. Empty hierarchy: volatile storage, nothing to reconcile
	if len(m.hierarchy) == 0 {
		m.activate(p.Fallback)
		return m, nil
	}

	// 3. Pick the active backend
	active := m.selectActive(ctx, p)

	// 4. Find the first backend holding a record
	var (
		found  *domain.UserRecord
		source storage.Backend
	)
	for _, b := range m.hierarchy {
		record, err := m.readRecord(ctx, b)
		if err != nil {
			m.logger.Debug("treating unreadable backend as empty",
				"backend", b.Persistence().String(), "error", err)
			continue
		}
		if record != nil {
			found, source = record, b
			break
		}
	}

	// 5. Migrate the record into the active backend
	if found != nil && !source.Persistence().Equal(active.Persistence()) {
		data, err := found.ToJSON()
		if err == nil {
			err = active.Set(ctx, m.fullUserKey, data)
		}
		if err != nil {
			return nil, domain.ErrMigrationFailed.
				WithDetailsf("copy from %s to %s", source.Persistence(), active.Persistence()).
				WithCause(err)
		}
		m.metrics.IncMigrations()
		m.logger.Info("migrated user record",
			"from", source.Persistence().String(), "to", active.Persistence().String())
	}

	// 6. Clear the record from every other backend
	for _, b := range m.hierarchy {
		if b.Persistence().Equal(active.Persistence()) {
			continue
		}
		if err := b.Remove(ctx, m.fullUserKey); err != nil {
			m.logger.Debug("cleanup failed", "backend", b.Persistence().String(), "error", err)
		}
	}

	// 7. Listen for changes made elsewhere
	m.activate(active)
	return m, nil
}

// selectActive returns the redirect backend when requested and usable,
// else the first available backend, else the fallback.
func (m *PersistenceManager) selectActive(ctx context.Context, p CreateParams) storage.Backend {
	if p.PreferRedirectPersistence {
		if b := m.redirectBackend(ctx); b != nil {
			return b
		}
	}
	for _, b := range m.hierarchy {
		if b.IsAvailable(ctx) {
			return b
		}
	}
	m.logger.Warn("no backend in hierarchy is available, using volatile storage")
	return p.Fallback
}

// redirectBackend looks up the kind saved before a redirect and returns the
// first available hierarchy backend of that kind.
func (m *PersistenceManager) redirectBackend(ctx context.Context) storage.Backend {
	var kind domain.Kind
	for _, b := range m.hierarchy {
		v, err := b.Get(ctx, m.fullPersistenceKey)
		if err != nil || v == nil {
			continue
		}
		var s string
		if err := v.Decode(&s); err != nil {
			continue
		}
		k, err := domain.ParseKind(s)
		if err != nil {
			m.logger.Debug("ignoring saved persistence", "value", s, "error", err)
			continue
		}
		kind = k
		break
	}
	if kind == "" {
		return nil
	}
	for _, b := range m.hierarchy {
		if b.Persistence().Kind == kind && b.IsAvailable(ctx) {
			return b
		}
	}
	return nil
}

// readRecord returns the record stored in b, or nil when there is none.
func (m *PersistenceManager) readRecord(ctx context.Context, b storage.Backend) (*domain.UserRecord, error) {
	v, err := b.Get(ctx, m.fullUserKey)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return domain.UserRecordFromJSON(v)
}

// activate makes b the active backend and points the change listener at it.
// The caller must not hold m.mu.
func (m *PersistenceManager) activate(b storage.Backend) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var from domain.Kind
	if m.active != nil {
		from = m.active.Persistence().Kind
	}
	if m.unlisten != nil {
		m.unlisten()
		m.unlisten = nil
	}
	m.active = b
	if m.deleted {
		return
	}
	if m.onChange != nil {
		m.unlisten = b.AddListener(m.fullUserKey, m.onChange)
	}
	m.metrics.SwitchActive(from, b.Persistence().Kind)
}

func (m *PersistenceManager) backend() storage.Backend {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// ============================================================================
// Record Operations
// ============================================================================

// SetCurrentUser writes u into the active backend.
func (m *PersistenceManager) SetCurrentUser(ctx context.Context, u *domain.UserRecord) error {
	if u == nil {
		return domain.ErrMissingArgument.WithDetails("user record is required")
	}
	data, err := u.ToJSON()
	if err != nil {
		return err
	}
	return m.backend().Set(ctx, m.fullUserKey, data)
}

// RemoveCurrentUser deletes the record from the active backend. Removing an
// absent record succeeds.
func (m *PersistenceManager) RemoveCurrentUser(ctx context.Context) error {
	return m.backend().Remove(ctx, m.fullUserKey)
}

// GetCurrentUser returns the stored record, or nil when none is stored.
func (m *PersistenceManager) GetCurrentUser(ctx context.Context) (*domain.UserRecord, error) {
	return m.readRecord(ctx, m.backend())
}

// SavePersistenceForRedirect records the active backend's kind so a
// manager created after a redirect can come back to it.
func (m *PersistenceManager) SavePersistenceForRedirect(ctx context.Context) error {
	b := m.backend()
	return b.Set(ctx, m.fullPersistenceKey, string(b.Persistence().Kind))
}

// SetPersistence moves the record to next and makes it the active backend.
// Nothing happens when next is already active.
func (m *PersistenceManager) SetPersistence(ctx context.Context, next storage.Backend) error {
	if next == nil {
		return domain.ErrMissingArgument.WithDetails("backend is required")
	}
	current := m.backend()
	if current.Persistence().Equal(next.Persistence()) {
		return nil
	}

	// 1. Read the record from the old backend
	user, err := m.GetCurrentUser(ctx)
	if err != nil {
		return err
	}

	// 2. Remove it there
	if err := m.RemoveCurrentUser(ctx); err != nil {
		return err
	}

	// 3. Switch and re-point the listener
	m.activate(next)
	m.logger.Info("switched persistence",
		"from", current.Persistence().String(), "to", next.Persistence().String())

	// 4. Write it into the new backend
	if user != nil {
		return m.SetCurrentUser(ctx, user)
	}
	return nil
}

// Delete detaches the change listener. Stored data is left untouched.
func (m *PersistenceManager) Delete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleted {
		return
	}
	m.deleted = true
	if m.unlisten != nil {
		m.unlisten()
		m.unlisten = nil
	}
	m.metrics.SwitchActive(m.active.Persistence().Kind, "")
}

// Persistence describes the active backend.
func (m *PersistenceManager) Persistence() domain.Persistence {
	return m.backend().Persistence()
}

// Backend returns the active backend.
func (m *PersistenceManager) Backend() storage.Backend {
	return m.backend()
}

// UserKey returns the full key of the user record.
func (m *PersistenceManager) UserKey() string {
	return m.fullUserKey
}

// PersistenceKey returns the full key used by SavePersistenceForRedirect.
func (m *PersistenceManager) PersistenceKey() string {
	return m.fullPersistenceKey
}
