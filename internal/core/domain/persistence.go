package domain

import (
	"strings"
)

// Kind classifies a storage backend by durability and sharing scope.
type Kind string

const (
	// KindLocal is durable storage shared by every context of the same origin.
	KindLocal Kind = "LOCAL"

	// KindSession is durable storage scoped to a single process lifetime.
	KindSession Kind = "SESSION"

	// KindNone is volatile in-memory storage.
	KindNone Kind = "NONE"

	// KindHost is an asynchronous store supplied by the embedding host.
	KindHost Kind = "HOST"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindLocal, KindSession, KindNone, KindHost:
		return true
	}
	return false
}

// ParseKind converts a case-insensitive string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", ErrInvalidArgument.WithDetailsf("unknown persistence kind %q", s)
	}
	return k, nil
}

// Persistence describes one backend instance.
//
// ID is the instance identity. Two descriptors are the same persistence
// exactly when their IDs match; Kind is informational.
type Persistence struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// Equal reports whether p and o identify the same backend instance.
func (p Persistence) Equal(o Persistence) bool {
	return p.ID == o.ID
}

func (p Persistence) String() string {
	return string(p.Kind) + "(" + p.ID + ")"
}

// KeyPrefix is the fixed namespace for every key written by authpersist.
const KeyPrefix = "authpersist"

// KeyName selects which logical slot a full key refers to.
type KeyName string

const (
	// KeyAuthUser holds the signed-in user record.
	KeyAuthUser KeyName = "authUser"

	// KeyRedirectUser holds the user record staged across a redirect.
	KeyRedirectUser KeyName = "redirectUser"

	// KeyPersistence holds the persistence kind saved for a redirect.
	KeyPersistence KeyName = "persistence"
)

// FullKey builds "<prefix>:<keyName>:<apiKey>:<appName>".
func FullKey(name KeyName, apiKey, appName string) string {
	return strings.Join([]string{KeyPrefix, string(name), apiKey, appName}, ":")
}

// ParseFullKey splits a full key back into its parts. ok is false when key
// was not produced by FullKey. The app name may itself contain colons.
func ParseFullKey(key string) (name KeyName, apiKey, appName string, ok bool) {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) != 4 || parts[0] != KeyPrefix {
		return "", "", "", false
	}
	return KeyName(parts[1]), parts[2], parts[3], true
}
