package watch

import (
	"sort"
	"sync"

	"github.com/yndnr/authpersist/internal/storage"
)

type listenerEntry struct {
	id uint64
	fn storage.Listener
}

// Listeners indexes listeners by key, preserving registration order
// within each key.
type Listeners struct {
	mu     sync.Mutex
	byKey  map[string][]listenerEntry
	nextID uint64
	total  int
}

// NewListeners creates an empty index.
func NewListeners() *Listeners {
	return &Listeners{byKey: make(map[string][]listenerEntry)}
}

// Add registers fn under key. first reports that the index went from
// empty to non-empty.
func (l *Listeners) Add(key string, fn storage.Listener) (id uint64, first bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id = l.nextID
	l.byKey[key] = append(l.byKey[key], listenerEntry{id: id, fn: fn})
	l.total++
	return id, l.total == 1
}

// Remove drops the listener with id under key. removed is false when it
// was already gone; last reports that the index became empty.
func (l *Listeners) Remove(key string, id uint64) (removed, last bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.byKey[key]
	for i, e := range entries {
		if e.id != id {
			continue
		}
		// Copy instead of shifting in place: snapshots handed out earlier
		// may still share the old backing array.
		next := make([]listenerEntry, 0, len(entries)-1)
		next = append(next, entries[:i]...)
		next = append(next, entries[i+1:]...)
		if len(next) == 0 {
			delete(l.byKey, key)
		} else {
			l.byKey[key] = next
		}
		l.total--
		return true, l.total == 0
	}
	return false, false
}

// Snapshot returns the listeners of key in registration order. The slice
// is not affected by later Add or Remove calls.
func (l *Listeners) Snapshot(key string) []storage.Listener {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.byKey[key]
	out := make([]storage.Listener, len(entries))
	for i, e := range entries {
		out[i] = e.fn
	}
	return out
}

// Has reports whether key has at least one listener.
func (l *Listeners) Has(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey[key]) > 0
}

// Keys returns the watched keys in sorted order.
func (l *Listeners) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, len(l.byKey))
	for k := range l.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the total number of listeners.
func (l *Listeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
