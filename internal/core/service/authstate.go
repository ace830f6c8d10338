package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/yndnr/authpersist/internal/core/domain"
	"github.com/yndnr/authpersist/internal/storage"
	"github.com/yndnr/authpersist/internal/storage/watch"
	"github.com/yndnr/authpersist/internal/telemetry/logger"
)

// UserObserver receives the new current user, nil after sign-out.
type UserObserver func(user *domain.UserRecord)

type observerEntry struct {
	id uint64
	fn UserObserver
}

// AuthState owns a PersistenceManager on behalf of an application. It
// caches the current user, funnels every mutation through one
// OperationQueue and re-reads the record when another context changes it.
//
// Observers run on a dispatcher goroutine, never inside the call that
// caused the change, in registration order, and only when the signed-in
// uid changes.
type AuthState struct {
	manager    *PersistenceManager
	queue      *OperationQueue
	dispatcher *watch.Dispatcher
	logger     *slog.Logger
	log        logger.Logger

	mu        sync.RWMutex
	current   *domain.UserRecord
	observers []observerEntry
	nextID    uint64
	closed    bool
}

// NewAuthState creates the manager described by p and loads the stored
// user. p.OnChange is replaced by the state's own storage hook. A stored
// record that cannot be parsed is treated as signed out.
func NewAuthState(ctx context.Context, p CreateParams) (*AuthState, error) {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	s := &AuthState{
		queue:      NewOperationQueue(),
		dispatcher: watch.NewDispatcher(p.Logger),
		logger:     p.Logger.With("component", "auth_state"),
	}
	s.log = logger.FromSlog(s.logger)
	p.OnChange = s.onStorageEvent

	m, err := Create(ctx, p)
	if err != nil {
		s.queue.Close()
		s.dispatcher.Close()
		return nil, err
	}
	s.manager = m

	user, err := m.GetCurrentUser(ctx)
	if err != nil {
		s.logger.Warn("ignoring stored user", "error", err)
		user = nil
	}
	s.current = user
	return s, nil
}

// ============================================================================
// Queries
// ============================================================================

// CurrentUser returns a copy of the cached user, or nil when signed out.
func (s *AuthState) CurrentUser() *domain.UserRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Manager returns the underlying persistence manager.
func (s *AuthState) Manager() *PersistenceManager {
	return s.manager
}

// Persistence describes the active backend.
func (s *AuthState) Persistence() domain.Persistence {
	return s.manager.Persistence()
}

// Subscribe registers fn for uid changes and returns a function removing it.
func (s *AuthState) Subscribe(fn UserObserver) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.observers = append(s.observers, observerEntry{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.observers {
			if e.id == id {
				// Copy so a slice taken by update stays intact.
				next := make([]observerEntry, 0, len(s.observers)-1)
				next = append(next, s.observers[:i]...)
				s.observers = append(next, s.observers[i+1:]...)
				return
			}
		}
	}
}

// ============================================================================
// Mutations
// ============================================================================

// SignIn stores user as the current user.
func (s *AuthState) SignIn(ctx context.Context, user *domain.UserRecord) error {
	if user == nil {
		return domain.ErrMissingArgument.WithDetails("user record is required")
	}
	user = user.Clone()
	return s.do(ctx, func(ctx context.Context) error {
		if err := s.manager.SetCurrentUser(ctx, user); err != nil {
			return err
		}
		s.update(user)
		return nil
	})
}

// SignOut removes the stored user.
func (s *AuthState) SignOut(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		if err := s.manager.RemoveCurrentUser(ctx); err != nil {
			return err
		}
		s.update(nil)
		return nil
	})
}

// SetPersistence moves the current user to b.
func (s *AuthState) SetPersistence(ctx context.Context, b storage.Backend) error {
	return s.do(ctx, func(ctx context.Context) error {
		return s.manager.SetPersistence(ctx, b)
	})
}

// SavePersistenceForRedirect records the active kind for a later redirect.
func (s *AuthState) SavePersistenceForRedirect(ctx context.Context) error {
	return s.do(ctx, s.manager.SavePersistenceForRedirect)
}

// Reload re-reads the stored record into the cache.
func (s *AuthState) Reload(ctx context.Context) error {
	return s.do(ctx, s.reload)
}

// Close detaches from storage and stops the queue and dispatcher. Queued
// operations finish first.
func (s *AuthState) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.manager.Delete()
	s.queue.Close()
	s.dispatcher.Close()
}

// ============================================================================
// Internal
// ============================================================================

// do runs op on the queue with the state's logger in its context.
func (s *AuthState) do(ctx context.Context, op Operation) error {
	return s.queue.Do(logger.WithLogger(ctx, s.log), op)
}

func (s *AuthState) onStorageEvent(storage.Value) {
	if !s.queue.Go(logger.WithLogger(context.Background(), s.log), s.reload) {
		s.logger.Debug("dropping storage event after close")
	}
}

func (s *AuthState) reload(ctx context.Context) error {
	user, err := s.manager.GetCurrentUser(ctx)
	if err != nil {
		logger.L(ctx).Warn("reload failed, keeping cached user", "error", err)
		return err
	}
	s.update(user)
	return nil
}

// update replaces the cached user and notifies observers when the uid
// changed. Same-uid updates refresh the cache silently.
func (s *AuthState) update(user *domain.UserRecord) {
	s.mu.Lock()
	changed := !domain.SameUser(s.current, user)
	s.current = user
	var fns []func()
	if changed {
		for _, e := range s.observers {
			fn := e.fn
			snapshot := user.Clone()
			fns = append(fns, func() { fn(snapshot) })
		}
	}
	s.mu.Unlock()

	if len(fns) > 0 {
		s.dispatcher.Dispatch(fns...)
	}
}
