package watch

import (
	"bytes"

	"github.com/yndnr/authpersist/internal/storage"
	"github.com/yndnr/authpersist/pkg/cmap"
)

// Shadow remembers the last value this process observed or wrote for each
// key. A stored nil means the key was seen absent, which is different from
// never having been seen.
type Shadow struct {
	values *cmap.Map[string, storage.Value]
}

// NewShadow creates an empty shadow cache.
func NewShadow() *Shadow {
	return &Shadow{values: cmap.New[string, storage.Value]()}
}

// Get returns the remembered value and whether key was ever recorded.
func (s *Shadow) Get(key string) (storage.Value, bool) {
	return s.values.Get(key)
}

// Put records v for key and returns the previous entry.
func (s *Shadow) Put(key string, v storage.Value) (prev storage.Value, existed bool) {
	s.values.Compute(key, func(old storage.Value, exists bool) (storage.Value, bool) {
		prev, existed = old, exists
		return clone(v), true
	})
	return prev, existed
}

// Restore undoes a Put using the values it returned.
func (s *Shadow) Restore(key string, prev storage.Value, existed bool) {
	if !existed {
		s.values.Delete(key)
		return
	}
	s.values.Set(key, prev)
}

// Swap records v for key when it differs from the remembered value and
// reports whether it did. A key never recorded always differs.
func (s *Shadow) Swap(key string, v storage.Value) bool {
	changed := false
	s.values.Compute(key, func(old storage.Value, exists bool) (storage.Value, bool) {
		if exists && Equal(old, v) {
			return old, true
		}
		changed = true
		return clone(v), true
	})
	return changed
}

// Forget drops key entirely.
func (s *Shadow) Forget(key string) {
	s.values.Delete(key)
}

// Equal compares two stored values. Two absent values are equal.
func Equal(a, b storage.Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return bytes.Equal(a, b)
}

func clone(v storage.Value) storage.Value {
	if v == nil {
		return nil
	}
	return append(storage.Value(nil), v...)
}

// Keys returns every recorded key, including keys seen absent.
func (s *Shadow) Keys() []string {
	return s.values.Keys()
}
