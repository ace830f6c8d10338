package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yndnr/authpersist/internal/infra/confloader"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(confloader.NewLoader(confloader.WithEnvPrefix("AUTHPERSIST_TEST_UNSET_")))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Persistence.Hierarchy) != 3 {
		t.Errorf("Hierarchy = %v, want defaults", cfg.Persistence.Hierarchy)
	}
	if cfg.Persistence.Local.PollInterval != DefaultLocalPollInterval {
		t.Errorf("Local.PollInterval = %v", cfg.Persistence.Local.PollInterval)
	}
}

func TestLoad_FileReplacesHierarchy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authpersist.yaml")
	content := `
app:
  api_key: AIzaTest
  name: web
persistence:
  hierarchy: [memory]
  local:
    poll_interval: 3s
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	l := confloader.NewLoader(confloader.WithConfigFile(path), confloader.WithEnvPrefix("AUTHPERSIST_TEST_UNSET_"))
	if err := l.LoadFile(path); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(l)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Persistence.Hierarchy) != 1 || cfg.Persistence.Hierarchy[0] != BackendMemory {
		t.Errorf("Hierarchy = %v, want [memory]", cfg.Persistence.Hierarchy)
	}
	if cfg.Persistence.Local.PollInterval != 3*time.Second {
		t.Errorf("Local.PollInterval = %v, want 3s", cfg.Persistence.Local.PollInterval)
	}
	if cfg.Persistence.Indexed.PollInterval != DefaultIndexedPollInterval {
		t.Errorf("Indexed.PollInterval = %v, want default", cfg.Persistence.Indexed.PollInterval)
	}
	if cfg.App.Name != "web" || cfg.Log.Level != "debug" {
		t.Errorf("App = %+v, Log = %+v", cfg.App, cfg.Log)
	}
	if err := Verify(cfg); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}
