// Package cmap provides a concurrent map implementation for authpersist.
//
// Keys are spread over a fixed number of shards by murmur3 hash, each shard
// guarded by its own RWMutex. The memory backend keeps its values here and
// the change notifier keeps its per-key shadow values here.
//
// Usage:
//
//	m := cmap.New[string, []byte]()
//	m.Set("key", value)
//	val, ok := m.Get("key")
package cmap
