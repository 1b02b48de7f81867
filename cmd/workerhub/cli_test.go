package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"workerhub/internal/config"
	"workerhub/internal/daemon"
	"workerhub/internal/hub"
	"workerhub/internal/ipc"
	"workerhub/internal/logging"
	"workerhub/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	configPath := filepath.Join(cfg.Paths.StateDir, "config.toml")
	writeTestConfig(t, configPath, cfg)

	logger := logging.NewNop()
	h, err := hub.New(cfg, logger)
	if err != nil {
		t.Fatalf("hub.New: %v", err)
	}
	d, err := daemon.New(cfg, h, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}

	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		cancel()
		d.Close()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})

	return &cliTestEnv{cfg: cfg, daemon: d, socketPath: cfg.Paths.SocketPath, configPath: configPath}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--socket", env.socketPath, "--config", env.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestWorkerStartAndCall(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "worker", "start", "t1")
	if err != nil {
		t.Fatalf("worker start: %v", err)
	}
	requireContains(t, out, "t1:")

	out, err = runCLI(t, env, "call", "t1", "command", `{"command":"ping"}`)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	requireContains(t, out, "t1: ok, command received (ping)")

	out, err = runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Running")
	requireContains(t, out, "t1")

	if _, err := runCLI(t, env, "worker", "stop", "t1"); err != nil {
		t.Fatalf("worker stop: %v", err)
	}
}

func TestCallErrors(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := runCLI(t, env, "call", "nope", "request")
	if !errors.Is(err, hub.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := runCLI(t, env, "call", "t1", "request", "{not json"); err == nil {
		t.Fatalf("expected invalid payload to fail")
	}
}

func TestWatchReceivesReadyToast(t *testing.T) {
	env := setupCLITestEnv(t)

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		cmd := newRootCommand()
		var stdout bytes.Buffer
		cmd.SetOut(&stdout)
		cmd.SetErr(&stdout)
		cmd.SetArgs([]string{"--socket", env.socketPath, "--config", env.configPath,
			"watch", "--primary", "--json", "--count", "2"})
		err := cmd.Execute()
		done <- result{out: stdout.String(), err: err}
	}()

	h := env.daemon.Hub()
	waitFor(t, 3*time.Second, func() bool { return len(h.Status().Sessions) == 1 })
	if err := h.Start(context.Background(), "t2"); err != nil {
		t.Fatalf("start t2: %v", err)
	}

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("watch: %v", res.err)
		}
		requireContains(t, res.out, `"channel":"ui/toast"`)
		requireContains(t, res.out, "T2 worker ready")
	case <-time.After(5 * time.Second):
		t.Fatalf("watch did not exit")
	}
	waitFor(t, 3*time.Second, func() bool { return len(h.Status().Sessions) == 0 })
}

func TestConfigShow(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := runCLI(t, env, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[workers]")
	requireContains(t, out, env.configPath)
}

func TestParseChannelSpec(t *testing.T) {
	tests := []struct {
		in      string
		channel string
		scope   string
	}{
		{"ui/toast", "ui/toast", ""},
		{"metrics/tick:dashboard:1", "metrics/tick", "dashboard:1"},
		{" search/progress:search:2 ", "search/progress", "search:2"},
	}
	for _, tt := range tests {
		spec, err := parseChannelSpec(tt.in)
		if err != nil {
			t.Fatalf("parseChannelSpec(%q): %v", tt.in, err)
		}
		if spec.channel != tt.channel || spec.scope != tt.scope {
			t.Fatalf("parseChannelSpec(%q) = %+v", tt.in, spec)
		}
	}
	if _, err := parseChannelSpec(""); err == nil {
		t.Fatalf("expected empty channel to fail")
	}
}
