package scoped

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yndnr/authpersist/internal/core/domain"
	"github.com/yndnr/authpersist/internal/storage"
)

func TestBackend_Scope(t *testing.T) {
	root := t.TempDir()
	a, err := New(Options{Root: root})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := New(Options{Root: root})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if a.Persistence().Kind != domain.KindSession {
		t.Errorf("Kind = %s", a.Persistence().Kind)
	}
	if a.Persistence().Equal(b.Persistence()) {
		t.Error("each scope must have its own identity")
	}
	if !strings.HasPrefix(a.Dir(), root) {
		t.Errorf("Dir %s outside root %s", a.Dir(), root)
	}

	ctx := context.Background()
	if err := a.Set(ctx, "k", "mine"); err != nil {
		t.Fatal(err)
	}
	if v, _ := b.Get(ctx, "k"); v != nil {
		t.Errorf("scope b sees scope a's value: %s", v)
	}
	if v, _ := a.Get(ctx, "k"); v.String() != `"mine"` {
		t.Errorf("Get = %s", v)
	}
}

func TestBackend_AvailabilityAndClose(t *testing.T) {
	b, err := New(Options{Root: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if !b.IsAvailable(ctx) {
		t.Fatal("IsAvailable = false")
	}
	if err := b.Set(ctx, "k", 1); err != nil {
		t.Fatal(err)
	}

	unsub := b.AddListener("k", func(storage.Value) { t.Error("scoped backend must not notify") })
	unsub()

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(b.Dir()); !os.IsNotExist(err) {
		t.Errorf("scope directory survived Close: %v", err)
	}
}

func TestBackend_UnavailableRoot(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	b, err := New(Options{Root: blocker})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if b.IsAvailable(context.Background()) {
		t.Error("scope under a regular file should be unavailable")
	}
}

func TestDefaultRoot(t *testing.T) {
	if filepath.Base(DefaultRoot()) != "authpersist-session" {
		t.Errorf("DefaultRoot = %s", DefaultRoot())
	}
}
