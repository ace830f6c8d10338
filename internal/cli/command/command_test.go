package command

import (
	"bytes"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yndnr/authpersist/internal/core/domain"
	"github.com/yndnr/authpersist/internal/messaging/wsport"
	"github.com/yndnr/authpersist/internal/storage/indexed"
)

// writeConfig writes a config file keeping every backend directory under
// dir.
func writeConfig(t *testing.T, dir string, withApp bool, hierarchy ...string) string {
	t.Helper()
	var b strings.Builder
	if withApp {
		b.WriteString("app:\n  api_key: AIzaSyLongSecretKey\n  name: web\n")
	}
	b.WriteString("persistence:\n")
	b.WriteString("  hierarchy: [" + strings.Join(hierarchy, ", ") + "]\n")
	b.WriteString("  local:\n    dir: " + filepath.Join(dir, "local") + "\n    poll_interval: 50ms\n")
	b.WriteString("  indexed:\n    dir: " + filepath.Join(dir, "indexed") + "\n    poll_interval: 50ms\n")
	b.WriteString("  session:\n    root: " + filepath.Join(dir, "session") + "\n")
	b.WriteString("messaging:\n  listen_addr: 127.0.0.1:0\n")
	b.WriteString("log:\n  level: error\n")

	path := filepath.Join(dir, "authpersist.yaml")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// run executes the app with args and returns what it wrote to stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := App()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"authpersist"}, args...))
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out
}

func TestApp(t *testing.T) {
	app := App()
	if app.Name != "authpersist" {
		t.Errorf("Name = %q, want authpersist", app.Name)
	}
	if app.Usage == "" {
		t.Error("Usage should not be empty")
	}

	commandNames := make(map[string]bool)
	for _, cmd := range app.Commands {
		commandNames[cmd.Name] = true
	}
	for _, name := range []string{"user", "persistence", "watch", "worker", "status", "config", "version"} {
		if !commandNames[name] {
			t.Errorf("missing command: %s", name)
		}
	}
}

func TestApp_GlobalFlags(t *testing.T) {
	flagNames := make(map[string]bool)
	for _, flag := range App().Flags {
		flagNames[flag.Names()[0]] = true
	}
	for _, name := range []string{"config", "api-key", "app-name", "hierarchy", "output", "wide", "log-level", "verbose"} {
		if !flagNames[name] {
			t.Errorf("missing flag: %s", name)
		}
	}
}

func TestGlobalFlags_Overrides(t *testing.T) {
	tests := []struct {
		name  string
		flags GlobalFlags
		want  []string
	}{
		{"none", GlobalFlags{}, nil},
		{"app", GlobalFlags{APIKey: "k", AppName: "n"}, []string{"app"}},
		{"verbose wins", GlobalFlags{LogLevel: "warn", Verbose: true}, []string{"log"}},
		{"hierarchy", GlobalFlags{Hierarchy: []string{"memory"}}, []string{"persistence"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.flags.overrides()
			if len(got) != len(tt.want) {
				t.Fatalf("overrides() = %v, want sections %v", got, tt.want)
			}
			for _, section := range tt.want {
				if _, ok := got[section]; !ok {
					t.Errorf("missing section %q in %v", section, got)
				}
			}
		})
	}

	got := (&GlobalFlags{LogLevel: "warn", Verbose: true}).overrides()
	if level := got["log"].(map[string]any)["level"]; level != "debug" {
		t.Errorf("log.level = %v, want debug", level)
	}
}

func TestUser_SetGetRemove(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), true, "local")

	out := mustRun(t, "-c", cfg, "user", "set", "--uid", "u1", "--email", "ada@example.com", "--access-token", "access-token-0123456789")
	if !strings.Contains(out, "u1") || !strings.Contains(out, "LOCAL(local)") {
		t.Errorf("set output = %q", out)
	}

	out = mustRun(t, "-c", cfg, "-o", "json", "user", "get")
	if !strings.Contains(out, `"uid": "u1"`) {
		t.Errorf("get output = %q, want uid u1", out)
	}
	if strings.Contains(out, "access-token-0123456789") {
		t.Errorf("get output leaks the access token: %q", out)
	}

	out = mustRun(t, "-c", cfg, "-o", "json", "user", "get", "--show-tokens")
	if !strings.Contains(out, "access-token-0123456789") {
		t.Errorf("get --show-tokens output = %q", out)
	}

	mustRun(t, "-c", cfg, "user", "remove")
	out = mustRun(t, "-c", cfg, "user", "get")
	if !strings.Contains(out, "No user signed in") {
		t.Errorf("get after remove = %q", out)
	}
}

func TestUser_SetFromFile(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, true, "local")
	record := filepath.Join(dir, "user.json")
	if err := os.WriteFile(record, []byte(`{"uid":"file-user","displayName":"Grace"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	mustRun(t, "-c", cfg, "user", "set", "-f", record, "--email", "grace@example.com")
	out := mustRun(t, "-c", cfg, "-o", "json", "user", "get")
	for _, want := range []string{"file-user", "Grace", "grace@example.com", `"apiKey": "AIzaSyLongSecretKey"`} {
		if !strings.Contains(out, want) {
			t.Errorf("get output = %q, want %q", out, want)
		}
	}
}

func TestUser_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, "-c", writeConfig(t, dir, true, "local"), "user", "set")
	if !domain.IsDomainError(err, domain.ErrMissingArgument.Code) {
		t.Errorf("set without uid = %v, want ErrMissingArgument", err)
	}

	_, err = run(t, "-c", writeConfig(t, dir, false, "local"), "user", "get")
	if err == nil || !strings.Contains(err.Error(), "app.api_key") {
		t.Errorf("get without app = %v, want app.api_key error", err)
	}

	_, err = run(t, "-c", writeConfig(t, dir, true, "cookie"), "user", "get")
	if err == nil || !strings.Contains(err.Error(), "unknown backend") {
		t.Errorf("unknown backend = %v", err)
	}

	_, err = run(t, "-c", writeConfig(t, dir, true, "local"), "-o", "xml", "user", "get")
	if err == nil || !strings.Contains(err.Error(), "output format") {
		t.Errorf("bad output format = %v", err)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), true, "local")

	mustRun(t, "-c", cfg, "--app-name", "other", "user", "set", "--uid", "u2")

	out := mustRun(t, "-c", cfg, "user", "get")
	if !strings.Contains(out, "No user signed in") {
		t.Errorf("app web sees %q, want no user", out)
	}
	out = mustRun(t, "-c", cfg, "--app-name", "other", "-o", "json", "user", "get")
	if !strings.Contains(out, "u2") {
		t.Errorf("app other sees %q, want u2", out)
	}
}

func TestPersistence_ShowAndSet(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), true, "local", "session")

	mustRun(t, "-c", cfg, "user", "set", "--uid", "u1")

	out := mustRun(t, "-c", cfg, "-o", "json", "persistence", "show")
	for _, want := range []string{`"kind": "LOCAL"`, `"uid": "u1"`, "authpersist:authUser:AIzaSyLongSecretKey:web", "local,session"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output = %q, want %q", out, want)
		}
	}

	out = mustRun(t, "-c", cfg, "persistence", "set", "memory")
	if !strings.Contains(out, "LOCAL(local)") || !strings.Contains(out, "NONE(memory)") {
		t.Errorf("set output = %q", out)
	}

	// The record moved into a volatile store that died with the process.
	out = mustRun(t, "-c", cfg, "user", "get")
	if !strings.Contains(out, "No user signed in") {
		t.Errorf("get after move = %q", out)
	}

	if _, err := run(t, "-c", cfg, "persistence", "set"); !domain.IsDomainError(err, domain.ErrMissingArgument.Code) {
		t.Errorf("set without backend = %v", err)
	}
}

func TestPersistence_SaveRedirect(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), true, "local")
	out := mustRun(t, "-c", cfg, "persistence", "save-redirect")
	if !strings.Contains(out, "LOCAL") {
		t.Errorf("save-redirect output = %q", out)
	}
}

func TestWatch_PrintsCurrentUser(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), true, "local")
	mustRun(t, "-c", cfg, "user", "set", "--uid", "u7")

	out := mustRun(t, "-c", cfg, "watch", "--for", "100ms")
	if !strings.Contains(out, "signed_in\tu7\tLOCAL(local)") {
		t.Errorf("watch output = %q", out)
	}
}

func TestStatus(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), false, "local", "memory")

	out := mustRun(t, "-c", cfg, "-o", "json", "status")
	for _, want := range []string{`"name": "local"`, `"name": "memory"`, `"available": true`} {
		if !strings.Contains(out, want) {
			t.Errorf("status output = %q, want %q", out, want)
		}
	}
}

func TestConfig_ShowMasksSecrets(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), true, "local")

	out := mustRun(t, "-c", cfg, "-o", "json", "config", "show")
	if strings.Contains(out, "AIzaSyLongSecretKey") {
		t.Errorf("config show leaks the api key: %q", out)
	}
	if !strings.Contains(out, `"name": "web"`) {
		t.Errorf("config show = %q", out)
	}

	out = mustRun(t, "-c", cfg, "config", "validate")
	if !strings.Contains(out, "valid") {
		t.Errorf("validate output = %q", out)
	}
	if _, err := run(t, "-c", writeConfig(t, t.TempDir(), false, "local"), "config", "validate"); err == nil {
		t.Error("validate accepted a config without app section")
	}
}

func TestVersion(t *testing.T) {
	out := mustRun(t, "-c", writeConfig(t, t.TempDir(), false), "-o", "json", "version")
	if !strings.Contains(out, `"go_version"`) {
		t.Errorf("version output = %q", out)
	}
}

func TestWorker_PingAndNotify(t *testing.T) {
	store, err := indexed.New(indexed.Options{Dir: t.TempDir(), Mode: indexed.ModeWorker})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(wsport.Handler(func(conn *wsport.Conn) {
		store.AttachWorker(conn)
	}, nil))
	t.Cleanup(func() {
		srv.Close()
		store.Close()
	})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/worker"
	cfg := writeConfig(t, t.TempDir(), true, "local")

	out := mustRun(t, "-c", cfg, "-o", "json", "worker", "ping", "--url", url)
	if !strings.Contains(out, "keyChanged") {
		t.Errorf("ping output = %q", out)
	}

	out = mustRun(t, "-c", cfg, "-o", "json", "worker", "notify", "--url", url)
	if !strings.Contains(out, "keyProcessed") {
		t.Errorf("notify output = %q", out)
	}
}

func TestWorker_PingUnreachable(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), false, "local")
	_, err := run(t, "-c", cfg, "worker", "ping", "--url", "ws://127.0.0.1:1/worker")
	if !domain.IsDomainError(err, domain.ErrConnectionUnavailable.Code) {
		t.Errorf("ping unreachable = %v, want ErrConnectionUnavailable", err)
	}
}

func TestWorker_Serve(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), true, "local")

	out := mustRun(t, "-c", cfg, "worker", "serve", "--for", "100ms")
	if !strings.HasPrefix(out, "ws://127.0.0.1:") || !strings.Contains(out, "/worker") {
		t.Errorf("serve output = %q", out)
	}
}
