package service

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/authpersist/internal/core/domain"
	"github.com/yndnr/authpersist/internal/storage"
)

func newAuthState(t *testing.T, hierarchy ...storage.Backend) *AuthState {
	t.Helper()
	s, err := NewAuthState(context.Background(), CreateParams{
		Hierarchy: hierarchy,
		APIKey:    testAPIKey,
		AppName:   testAppName,
	})
	if err != nil {
		t.Fatalf("NewAuthState: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// observe subscribes a channel-backed observer.
func observe(s *AuthState) <-chan *domain.UserRecord {
	ch := make(chan *domain.UserRecord, 16)
	s.Subscribe(func(u *domain.UserRecord) { ch <- u })
	return ch
}

func next(t *testing.T, ch <-chan *domain.UserRecord) *domain.UserRecord {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no observer call")
		return nil
	}
}

func none(t *testing.T, ch <-chan *domain.UserRecord) {
	t.Helper()
	select {
	case u := <-ch:
		t.Fatalf("unexpected observer call with %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAuthState_LoadsStoredUser(t *testing.T) {
	a := newFake("a", domain.KindLocal, true)
	seed(t, a, "u1")

	s := newAuthState(t, a)
	if u := s.CurrentUser(); u == nil || u.UID != "u1" {
		t.Errorf("CurrentUser() = %+v, want u1", u)
	}
}

func TestAuthState_MalformedStoredUserIsSignedOut(t *testing.T) {
	a := newFake("a", domain.KindLocal, true)
	if err := a.Store.Set(context.Background(), userKey(), []int{1}); err != nil {
		t.Fatal(err)
	}

	s := newAuthState(t, a)
	if u := s.CurrentUser(); u != nil {
		t.Errorf("CurrentUser() = %+v, want nil", u)
	}
}

func TestAuthState_SignInSignOut(t *testing.T) {
	ctx := context.Background()
	a := newFake("a", domain.KindLocal, true)
	s := newAuthState(t, a)
	ch := observe(s)

	if err := s.SignIn(ctx, testUser("u1")); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if u := next(t, ch); u == nil || u.UID != "u1" {
		t.Fatalf("observer got %+v, want u1", u)
	}
	if got := storedUID(t, a); got != "u1" {
		t.Errorf("stored %q, want u1", got)
	}

	refreshed := testUser("u1")
	refreshed.DisplayName = "Ada"
	if err := s.SignIn(ctx, refreshed); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	none(t, ch)
	if u := s.CurrentUser(); u.DisplayName != "Ada" {
		t.Errorf("cached DisplayName = %q, want Ada", u.DisplayName)
	}

	if err := s.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if u := next(t, ch); u != nil {
		t.Errorf("observer got %+v, want nil", u)
	}
	if s.CurrentUser() != nil {
		t.Error("CurrentUser() not nil after SignOut")
	}
}

func TestAuthState_StorageEventReloads(t *testing.T) {
	a := newFake("a", domain.KindLocal, true)
	s := newAuthState(t, a)
	ch := observe(s)

	seed(t, a, "u9")
	a.fire(nil)

	if u := next(t, ch); u == nil || u.UID != "u9" {
		t.Fatalf("observer got %+v, want u9", u)
	}
	if u := s.CurrentUser(); u == nil || u.UID != "u9" {
		t.Errorf("CurrentUser() = %+v, want u9", u)
	}
}

func TestAuthState_Unsubscribe(t *testing.T) {
	s := newAuthState(t, newFake("a", domain.KindLocal, true))
	ch := make(chan *domain.UserRecord, 1)
	unsubscribe := s.Subscribe(func(u *domain.UserRecord) { ch <- u })
	unsubscribe()

	if err := s.SignIn(context.Background(), testUser("u1")); err != nil {
		t.Fatal(err)
	}
	none(t, ch)
}

func TestAuthState_ObserversRunInRegistrationOrder(t *testing.T) {
	s := newAuthState(t, newFake("a", domain.KindLocal, true))

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	const n = 20
	var unsubscribe []func()
	for i := 0; i < n; i++ {
		i := i
		unsubscribe = append(unsubscribe, s.Subscribe(func(*domain.UserRecord) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
			if len(order) == n-1 {
				close(done)
			}
		}))
	}
	unsubscribe[7]()

	if err := s.SignIn(context.Background(), testUser("u1")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("observers not called")
	}

	mu.Lock()
	defer mu.Unlock()
	want := make([]int, 0, n-1)
	for i := 0; i < n; i++ {
		if i != 7 {
			want = append(want, i)
		}
	}
	if !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestAuthState_SetPersistence(t *testing.T) {
	ctx := context.Background()
	a := newFake("a", domain.KindLocal, true)
	b := newFake("b", domain.KindSession, true)
	s := newAuthState(t, a)

	if err := s.SignIn(ctx, testUser("u1")); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPersistence(ctx, b); err != nil {
		t.Fatalf("SetPersistence: %v", err)
	}
	if s.Persistence().ID != "b" {
		t.Errorf("active = %s, want b", s.Persistence().ID)
	}
	if got := storedUID(t, b); got != "u1" {
		t.Errorf("b holds %q, want u1", got)
	}
	if err := s.SavePersistenceForRedirect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestAuthState_CloseDetaches(t *testing.T) {
	a := newFake("a", domain.KindLocal, true)
	s, err := NewAuthState(context.Background(), CreateParams{
		Hierarchy: []storage.Backend{a},
		APIKey:    testAPIKey,
		AppName:   testAppName,
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
	s.Close()

	if a.listenerCount() != 0 {
		t.Errorf("listeners after Close = %d, want 0", a.listenerCount())
	}
	if err := s.SignOut(context.Background()); err != ErrQueueClosed {
		t.Errorf("SignOut() after Close = %v, want ErrQueueClosed", err)
	}
}
