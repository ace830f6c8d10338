package config

import "time"

// ClientConfig is the root configuration for the authpersist CLI and
// worker.
type ClientConfig struct {
	App         AppSection         `koanf:"app" json:"app"`
	Persistence PersistenceSection `koanf:"persistence" json:"persistence"`
	Redis       RedisSection       `koanf:"redis" json:"redis"`
	Messaging   MessagingSection   `koanf:"messaging" json:"messaging"`
	Metrics     MetricsSection     `koanf:"metrics" json:"metrics"`
	Log         LogSection         `koanf:"log" json:"log"`
}

// AppSection identifies the application whose user is persisted. Both
// values become part of every storage key.
type AppSection struct {
	APIKey string `koanf:"api_key" json:"api_key"`
	Name   string `koanf:"name" json:"name"`
}

// PersistenceSection configures the backend hierarchy.
type PersistenceSection struct {
	// Hierarchy lists backend names in preference order. Known names are
	// BackendIndexed, BackendLocal, BackendSession, BackendHost and
	// BackendMemory.
	Hierarchy []string `koanf:"hierarchy" json:"hierarchy"`

	// PreferRedirect honors a persistence saved before a redirect.
	PreferRedirect bool `koanf:"prefer_redirect" json:"prefer_redirect"`

	Local   LocalSection   `koanf:"local" json:"local"`
	Indexed IndexedSection `koanf:"indexed" json:"indexed"`
	Session SessionSection `koanf:"session" json:"session"`
}

// LocalSection configures the file-directory backend.
type LocalSection struct {
	Dir          string        `koanf:"dir" json:"dir"`
	ForcePolling bool          `koanf:"force_polling" json:"force_polling"`
	CachedReads  bool          `koanf:"cached_reads" json:"cached_reads"`
	PollInterval time.Duration `koanf:"poll_interval" json:"poll_interval"`
}

// IndexedSection configures the Badger-backed backend.
type IndexedSection struct {
	Dir          string        `koanf:"dir" json:"dir"`
	PollInterval time.Duration `koanf:"poll_interval" json:"poll_interval"`
	GCInterval   time.Duration `koanf:"gc_interval" json:"gc_interval"`
	SyncWrites   bool          `koanf:"sync_writes" json:"sync_writes"`
}

// SessionSection configures the process-scoped backend.
type SessionSection struct {
	Root string `koanf:"root" json:"root"`
}

// RedisSection configures the Redis store behind the HOST backend.
type RedisSection struct {
	Addr     string        `koanf:"addr" json:"addr"`
	Password string        `koanf:"password" json:"password"`
	DB       int           `koanf:"db" json:"db"`
	Prefix   string        `koanf:"prefix" json:"prefix"`
	TTL      time.Duration `koanf:"ttl" json:"ttl"`
}

// MessagingSection configures the page/worker link of the indexed backend.
type MessagingSection struct {
	// WorkerURL is the WebSocket URL of a running worker. Empty disables
	// worker notification.
	WorkerURL string `koanf:"worker_url" json:"worker_url"`

	// ListenAddr is where "worker serve" accepts pages.
	ListenAddr string `koanf:"listen_addr" json:"listen_addr"`

	// AllowList restricts the worker's clients to these IPs and CIDR
	// blocks. Empty allows everyone.
	AllowList []string `koanf:"allow_list" json:"allow_list"`

	// RateLimit caps requests per second per client IP. Zero disables it.
	RateLimit int `koanf:"rate_limit" json:"rate_limit"`
}

// MetricsSection configures the Prometheus endpoint of "worker serve"
// and "watch".
type MetricsSection struct {
	Addr string `koanf:"addr" json:"addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" json:"level"`
	Format string `koanf:"format" json:"format"`
}
