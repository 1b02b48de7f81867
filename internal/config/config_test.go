package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"workerhub/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "workerhub")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Paths.SocketPath != filepath.Join(wantState, "workerhub.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.Paths.SocketPath)
	}
	if cfg.LockPath() != filepath.Join(wantState, "workerhub.lock") {
		t.Fatalf("unexpected lock path: %q", cfg.LockPath())
	}
	if cfg.Workers.Transport != "inproc" || cfg.Workers.Codec != "json" {
		t.Fatalf("unexpected worker transport defaults: %+v", cfg.Workers)
	}
	if !cfg.Workers.RejectPendingOnExit {
		t.Fatal("expected pending calls to be rejected on exit by default")
	}
	if cfg.GraceTimeout() != time.Second {
		t.Fatalf("unexpected grace timeout: %s", cfg.GraceTimeout())
	}
	if cfg.Search.DBPath != config.MemoryDB {
		t.Fatalf("expected in-memory search index, got %q", cfg.Search.DBPath)
	}
}

func TestLoadCustomConfigOverrides(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
state_dir = "~/hub"

[workers]
transport = "Process"
codec = " msgpack "
grace_timeout_ms = 250
call_timeout_ms = 0
reject_pending_on_exit = false
autostart = ["Metrics", "t1", "metrics", " "]

[search]
db_path = "~/hub/search.db"

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, "hub") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if cfg.Paths.LogDir == "" {
		t.Fatal("expected log dir default")
	}
	if cfg.Workers.Transport != "process" || cfg.Workers.Codec != "msgpack" {
		t.Fatalf("expected normalized transport/codec, got %q/%q", cfg.Workers.Transport, cfg.Workers.Codec)
	}
	if cfg.CallTimeout() != 0 {
		t.Fatalf("expected call timeout disabled, got %s", cfg.CallTimeout())
	}
	if cfg.Workers.RejectPendingOnExit {
		t.Fatal("expected reject_pending_on_exit override")
	}
	if got := strings.Join(cfg.Workers.Autostart, ","); got != "metrics,t1" {
		t.Fatalf("unexpected autostart list: %q", got)
	}
	if cfg.Search.DBPath != filepath.Join(tempHome, "hub", "search.db") {
		t.Fatalf("unexpected search db path: %q", cfg.Search.DBPath)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"transport", func(c *config.Config) { c.Workers.Transport = "tcp" }, "workers.transport"},
		{"codec", func(c *config.Config) { c.Workers.Codec = "xml" }, "workers.codec"},
		{"grace", func(c *config.Config) { c.Workers.GraceTimeoutMs = 0 }, "workers.grace_timeout_ms"},
		{"call timeout", func(c *config.Config) { c.Workers.CallTimeoutMs = -1 }, "workers.call_timeout_ms"},
		{"metrics interval", func(c *config.Config) { c.Metrics.IntervalMs = 100 }, "metrics.interval_ms"},
		{"fuzzy", func(c *config.Config) { c.Search.FuzzyDistance = 7 }, "search.fuzzy_distance"},
		{"mailbox", func(c *config.Config) { c.Sessions.MailboxCapacity = 0 }, "sessions.mailbox_capacity"},
		{"severity", func(c *config.Config) { c.Notifications.MinSeverity = "loud" }, "notifications.min_severity"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestSampleConfigIsValid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var parsed config.Config
	if err := toml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("sample config is not valid TOML: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if len(cfg.Workers.Autostart) != 1 || cfg.Workers.Autostart[0] != "metrics" {
		t.Fatalf("unexpected sample autostart: %v", cfg.Workers.Autostart)
	}
}

func TestEnsureDirectoriesCreatesStateAndLogDirs(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.SocketPath = filepath.Join(base, "run", "hub.sock")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir, filepath.Join(base, "run")} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}
