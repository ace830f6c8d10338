// Package storage defines the backend contract shared by every persistence.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/yndnr/authpersist/internal/core/domain"
)

// Value is stored JSON text. A nil Value means the key is absent.
type Value []byte

// String returns the JSON text, or "null" for an absent value.
func (v Value) String() string {
	if v == nil {
		return "null"
	}
	return string(v)
}

// Decode unmarshals the value into target.
func (v Value) Decode(target any) error {
	if v == nil {
		return fmt.Errorf("decode: %w", domain.ErrMalformedValue.WithDetails("value is absent"))
	}
	if err := json.Unmarshal(v, target); err != nil {
		return domain.ErrMalformedValue.WithCause(err)
	}
	return nil
}

// Listener receives the new value of a watched key. It is called with nil
// when the key was removed.
type Listener func(value Value)

// Unsubscribe detaches a listener. Calling it more than once is harmless.
type Unsubscribe func()

// Backend is a key-value store that may be shared with other contexts.
//
// Get returns (nil, nil) for a missing key. Remove of a missing key
// succeeds. Backends that cannot observe changes made elsewhere return a
// no-op Unsubscribe from AddListener.
type Backend interface {
	Persistence() domain.Persistence
	IsAvailable(ctx context.Context) bool
	Get(ctx context.Context, key string) (Value, error)
	Set(ctx context.Context, key string, value any) error
	Remove(ctx context.Context, key string) error
	AddListener(key string, fn Listener) Unsubscribe
}

// NopUnsubscribe is returned by backends that never notify.
func NopUnsubscribe() {}

// Encode converts value into compact JSON text. A Value or
// json.RawMessage already holding JSON text is compacted and kept as is
// instead of being encoded a second time.
func Encode(value any) (Value, error) {
	var raw []byte
	switch v := value.(type) {
	case Value:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, domain.ErrMalformedValue.WithCause(err)
		}
		return data, nil
	}

	if raw == nil {
		return Value("null"), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, domain.ErrMalformedValue.WithCause(err)
	}
	return buf.Bytes(), nil
}

// ProbeKey is written and removed by Probe.
const ProbeKey = "__sak"

// Prober is the subset of Backend used by Probe.
type Prober interface {
	Set(ctx context.Context, key string, value any) error
	Remove(ctx context.Context, key string) error
}

// Probe writes ProbeKey and removes it again. It reports true only when
// both calls succeed; a panic inside the backend counts as failure.
func Probe(ctx context.Context, b Prober) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	if err := b.Set(ctx, ProbeKey, "1"); err != nil {
		return false
	}
	return b.Remove(ctx, ProbeKey) == nil
}
