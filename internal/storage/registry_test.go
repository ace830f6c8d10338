package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/yndnr/authpersist/internal/core/domain"
)

type fakeBackend struct {
	id     string
	closed int
}

func (f *fakeBackend) Persistence() domain.Persistence {
	return domain.Persistence{Kind: domain.KindNone, ID: f.id}
}
func (f *fakeBackend) IsAvailable(context.Context) bool           { return true }
func (f *fakeBackend) Get(context.Context, string) (Value, error) { return nil, nil }
func (f *fakeBackend) Set(context.Context, string, any) error     { return nil }
func (f *fakeBackend) Remove(context.Context, string) error       { return nil }
func (f *fakeBackend) AddListener(string, Listener) Unsubscribe   { return NopUnsubscribe }
func (f *fakeBackend) Close() error                               { f.closed++; return nil }

func TestRegistry_GetOrCreateShares(t *testing.T) {
	r := NewRegistry()
	calls := 0
	factory := func() (Backend, error) {
		calls++
		return &fakeBackend{id: "mem:a"}, nil
	}

	b1, err := r.GetOrCreate("mem:a", factory)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	b2, err := r.GetOrCreate("mem:a", factory)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if b1 != b2 {
		t.Error("same identity should return the same instance")
	}
	if calls != 1 {
		t.Errorf("factory called %d times, want 1", calls)
	}
}

func TestRegistry_FactoryErrors(t *testing.T) {
	r := NewRegistry()

	_, err := r.GetOrCreate("x", func() (Backend, error) { return nil, errors.New("boom") })
	if err == nil {
		t.Fatal("expected factory error")
	}
	if _, ok := r.Lookup("x"); ok {
		t.Error("failed factory should not register anything")
	}

	_, err = r.GetOrCreate("x", func() (Backend, error) { return &fakeBackend{id: "y"}, nil })
	if err == nil {
		t.Error("identity mismatch should be rejected")
	}
}

func TestRegistry_ReleaseAndClose(t *testing.T) {
	r := NewRegistry()
	a := &fakeBackend{id: "a"}
	b := &fakeBackend{id: "b"}
	r.GetOrCreate("a", func() (Backend, error) { return a, nil })
	r.GetOrCreate("b", func() (Backend, error) { return b, nil })

	if ids := r.IDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("IDs() = %v", ids)
	}

	if err := r.Release("a"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if a.closed != 1 {
		t.Errorf("a closed %d times, want 1", a.closed)
	}
	if err := r.Release("a"); err != nil {
		t.Errorf("second Release() error = %v", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if b.closed != 1 || len(r.IDs()) != 0 {
		t.Error("Close should release every backend")
	}
}
