package config

import (
	"os"
	"path/filepath"
	"time"
)

// Backend names accepted in persistence.hierarchy.
const (
	BackendIndexed = "indexed"
	BackendLocal   = "local"
	BackendSession = "session"
	BackendHost    = "host"
	BackendMemory  = "memory"
)

// Default configuration values.
const (
	DefaultLocalPollInterval   = time.Second
	DefaultIndexedPollInterval = 800 * time.Millisecond
	DefaultIndexedGCInterval   = 10 * time.Minute

	DefaultRedisAddr   = "127.0.0.1:6379"
	DefaultRedisPrefix = "authpersist"

	DefaultListenAddr = "127.0.0.1:5390"
	DefaultWorkerPath = "/worker"
	DefaultRateLimit  = 50

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// DefaultHierarchy is the backend order used when none is configured.
func DefaultHierarchy() []string {
	return []string{BackendIndexed, BackendLocal, BackendSession}
}

// DefaultDataDir is the parent of the local and indexed directories:
// the user config directory, or the working directory when there is none.
func DefaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".authpersist"
	}
	return filepath.Join(dir, "authpersist")
}

// Default returns the default client configuration.
func Default() *ClientConfig {
	data := DefaultDataDir()
	return &ClientConfig{
		Persistence: PersistenceSection{
			Hierarchy: DefaultHierarchy(),
			Local: LocalSection{
				Dir:          filepath.Join(data, "local"),
				PollInterval: DefaultLocalPollInterval,
			},
			Indexed: IndexedSection{
				Dir:          filepath.Join(data, "indexed"),
				PollInterval: DefaultIndexedPollInterval,
				GCInterval:   DefaultIndexedGCInterval,
				SyncWrites:   true,
			},
		},
		Redis: RedisSection{
			Addr:   DefaultRedisAddr,
			Prefix: DefaultRedisPrefix,
		},
		Messaging: MessagingSection{
			ListenAddr: DefaultListenAddr,
			RateLimit:  DefaultRateLimit,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
