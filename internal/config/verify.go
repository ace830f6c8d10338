package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
)

// Verify validates the configuration.
func Verify(cfg *ClientConfig) error {
	if err := VerifyApp(&cfg.App); err != nil {
		return err
	}
	return VerifyRuntime(cfg)
}

// VerifyRuntime checks everything but the application identity, for
// commands that never build a storage key.
func VerifyRuntime(cfg *ClientConfig) error {
	if err := verifyPersistence(&cfg.Persistence); err != nil {
		return err
	}
	if slices.Contains(cfg.Persistence.Hierarchy, BackendHost) && cfg.Redis.Addr == "" {
		return errors.New("redis.addr is required when the host backend is used")
	}
	if err := verifyMessaging(&cfg.Messaging); err != nil {
		return err
	}
	return verifyLog(&cfg.Log)
}

// VerifyApp checks the values every storage key is built from.
func VerifyApp(cfg *AppSection) error {
	if cfg.APIKey == "" {
		return errors.New("app.api_key is required")
	}
	if cfg.Name == "" {
		return errors.New("app.name is required")
	}
	if strings.Contains(cfg.APIKey, ":") {
		return errors.New("app.api_key must not contain ':'")
	}
	return nil
}

func verifyPersistence(cfg *PersistenceSection) error {
	seen := make(map[string]bool, len(cfg.Hierarchy))
	for _, name := range cfg.Hierarchy {
		switch name {
		case BackendIndexed:
			if cfg.Indexed.Dir == "" {
				return errors.New("persistence.indexed.dir is required")
			}
		case BackendLocal:
			if cfg.Local.Dir == "" {
				return errors.New("persistence.local.dir is required")
			}
		case BackendSession, BackendHost, BackendMemory:
		default:
			return fmt.Errorf("persistence.hierarchy: unknown backend %q", name)
		}
		if seen[name] {
			return fmt.Errorf("persistence.hierarchy: %q listed twice", name)
		}
		seen[name] = true
	}
	if cfg.Local.PollInterval < 0 || cfg.Indexed.PollInterval < 0 {
		return errors.New("persistence poll intervals must not be negative")
	}
	return nil
}

func verifyMessaging(cfg *MessagingSection) error {
	for _, entry := range cfg.AllowList {
		if _, _, err := net.ParseCIDR(entry); err == nil {
			continue
		}
		if net.ParseIP(entry) == nil {
			return fmt.Errorf("messaging.allow_list: %q is neither an IP nor a CIDR block", entry)
		}
	}
	if cfg.RateLimit < 0 {
		return errors.New("messaging.rate_limit must not be negative")
	}
	if cfg.WorkerURL == "" {
		return nil
	}
	u, err := url.Parse(cfg.WorkerURL)
	if err != nil {
		return fmt.Errorf("messaging.worker_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("messaging.worker_url: scheme must be ws or wss, got %q", u.Scheme)
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch strings.ToLower(cfg.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Level)
	}
	switch strings.ToLower(cfg.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", cfg.Format)
	}
	return nil
}
