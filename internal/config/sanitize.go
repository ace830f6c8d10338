package config

import "strings"

// Sanitize returns a copy of the config with secrets masked, for printing
// and logging.
func Sanitize(cfg *ClientConfig) *ClientConfig {
	sanitized := *cfg
	sanitized.Persistence.Hierarchy = append([]string(nil), cfg.Persistence.Hierarchy...)
	sanitized.Messaging.AllowList = append([]string(nil), cfg.Messaging.AllowList...)

	if sanitized.App.APIKey != "" {
		sanitized.App.APIKey = maskSecret(sanitized.App.APIKey)
	}
	if sanitized.Redis.Password != "" {
		sanitized.Redis.Password = maskSecret(sanitized.Redis.Password)
	}
	return &sanitized
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
