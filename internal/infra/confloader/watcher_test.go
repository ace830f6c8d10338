package confloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newWatcher(t *testing.T) *Watcher {
	t.Helper()
	w, err := NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

func waitPath(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
		return ""
	}
}

func TestWatcher_WatchMissingDir(t *testing.T) {
	w := newWatcher(t)
	if err := w.Watch(filepath.Join(t.TempDir(), "missing", "config.yaml")); err == nil {
		t.Error("Watch() in a missing directory should fail")
	}
}

func TestWatcher_ReportsWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("a: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	w := newWatcher(t)
	if err := w.Watch(path); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	ch := make(chan string, 16)
	w.OnChange(func(p string) { ch <- p })
	w.StartAsync()

	if err := os.WriteFile(path, []byte("a: 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := waitPath(t, ch); got != path {
		t.Errorf("changed path = %q, want %q", got, path)
	}
}

func TestWatcher_ReportsReplaceByRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("a: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	w := newWatcher(t)
	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}
	ch := make(chan string, 16)
	w.OnChange(func(p string) { ch <- p })
	w.StartAsync()

	tmp := filepath.Join(dir, ".config.yaml.swp")
	if err := os.WriteFile(tmp, []byte("a: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	if got := waitPath(t, ch); got != path {
		t.Errorf("changed path = %q, want %q", got, path)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("a: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	w := newWatcher(t)
	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}
	ch := make(chan string, 16)
	w.OnChange(func(p string) { ch <- p })
	w.StartAsync()

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("b: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-ch:
		t.Errorf("unexpected change for %q", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcher_CallbacksAndStop(t *testing.T) {
	w := newWatcher(t)
	count := 0
	for i := 0; i < 3; i++ {
		w.OnChange(func(string) { count++ })
	}
	w.notifyCallbacks("/x")
	if count != 3 {
		t.Errorf("callbacks run = %d, want 3", count)
	}

	w.StartAsync()
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}
