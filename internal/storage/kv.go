package storage

import "time"

// KVStats contains embedded database statistics.
type KVStats struct {
	// Keys is the number of live keys.
	Keys int `json:"keys"`

	// LSMSize is the LSM tree size in bytes.
	LSMSize int64 `json:"lsm_size"`

	// ValueLogSize is the value log size in bytes.
	ValueLogSize int64 `json:"value_log_size"`

	// LastGCTime is the last value log GC run (Unix milliseconds).
	LastGCTime int64 `json:"last_gc_time"`
}

// KVConfig configures the embedded database behind the indexed backend.
type KVConfig struct {
	// Dir is the database directory.
	Dir string

	// Badger-specific configuration
	Badger BadgerConfig
}

// BadgerConfig contains Badger tuning parameters. The defaults are sized
// for a handful of small records rather than a server workload.
type BadgerConfig struct {
	// GCInterval is the interval between value log GC runs. Zero disables GC.
	// Default: 10m
	GCInterval time.Duration

	// GCThreshold is the discard ratio passed to RunValueLogGC (0.0-1.0).
	// Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 1MB
	CacheSize int64

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 16MB
	ValueLogFileSize int64

	// MemTableSize is the memtable size in bytes. Badger caps a write
	// batch at 15% of it, and ValueThreshold must fit in one batch.
	// Default: 8MB
	MemTableSize int64

	// ValueThreshold is the value size above which values go to the value
	// log instead of the LSM tree.
	// Default: 64KB
	ValueThreshold int64

	// NumMemtables is the number of memtables.
	// Default: 2
	NumMemtables int

	// SyncWrites fsyncs after each write.
	// Default: true (one record per write, durability matters more than throughput)
	SyncWrites bool

	// BypassLockGuard lets several processes open the same directory in
	// read-write mode. Badger itself does not coordinate such writers, so
	// enable only when writers are serialized externally.
	// Default: false
	BypassLockGuard bool
}

// DefaultKVConfig returns the default KV configuration.
func DefaultKVConfig(dir string) KVConfig {
	return KVConfig{
		Dir:    dir,
		Badger: DefaultBadgerConfig(),
	}
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:       10 * time.Minute,
		GCThreshold:      0.5,
		CacheSize:        1 << 20,
		ValueLogFileSize: 16 << 20,
		MemTableSize:     8 << 20,
		ValueThreshold:   64 << 10,
		NumMemtables:     2,
		SyncWrites:       true,
	}
}
