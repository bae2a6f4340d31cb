package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != BackendFile {
		t.Errorf("default backend = %q, want file", cfg.Store.Backend)
	}
	if cfg.Scheduler.TickMS != 1000 || cfg.Scheduler.MaxRetries != 3 {
		t.Errorf("scheduler defaults wrong: %+v", cfg.Scheduler)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Log.Level)
	}
}

func TestLoadOverridesAndKeepsDefaults(t *testing.T) {
	// JSON5: comments and trailing commas are fine.
	path := writeConfig(t, `{
		// pin the backend, leave everything else alone
		store: { backend: "sql", driver: "postgres", dsn: "postgres://localhost/cron" },
		scheduler: { maxRetries: 0, },
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != BackendSQL || cfg.Store.Driver != "postgres" {
		t.Errorf("store not applied: %+v", cfg.Store)
	}
	if cfg.Scheduler.MaxRetries != 0 {
		t.Errorf("explicit zero must stick, got %d", cfg.Scheduler.MaxRetries)
	}
	if cfg.Scheduler.TickMS != 1000 {
		t.Errorf("unset field should keep its default, got %d", cfg.Scheduler.TickMS)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("unset log level should default, got %q", cfg.Log.Level)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"malformed", `{store:`},
		{"unknown backend", `{store: {backend: "etcd"}}`},
		{"unknown driver", `{store: {backend: "sql", driver: "oracle"}}`},
		{"unknown log level", `{log: {level: "chatty"}}`},
		{"negative retries", `{scheduler: {maxRetries: -1}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandHome("~/.cronbox/cron.db"); got != filepath.Join(home, ".cronbox/cron.db") {
		t.Errorf("got %q", got)
	}
	if got := ExpandHome("/etc/cronbox.json"); got != "/etc/cronbox.json" {
		t.Errorf("absolute path changed: %q", got)
	}
	if got := ExpandHome("relative.json"); got != "relative.json" {
		t.Errorf("relative path changed: %q", got)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if cfg.TickInterval() != time.Second {
		t.Errorf("tick = %v", cfg.TickInterval())
	}
	if cfg.ExecTimeout() != 0 {
		t.Errorf("exec timeout default = %v, want 0", cfg.ExecTimeout())
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, `{log: {level: "info"}}`)

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	reloaded := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{log: {level: "debug"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Log.Level != "debug" {
			t.Errorf("reloaded level = %q, want debug", cfg.Log.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload handler never fired")
	}
}
