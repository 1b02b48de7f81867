package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"workerhub/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Timeouts are shortened so supervisor tests finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := shortTempDir(t)
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SocketPath = filepath.Join(base, "hub.sock")
	cfgVal.Workers.GraceTimeoutMs = 200
	cfgVal.Workers.CallTimeoutMs = 2000
	cfgVal.Service.DelayMs = 20
	cfgVal.Image.DelayMs = 0
	cfgVal.Devices.Subsystems = nil

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithTransport selects the worker transport and codec.
func WithTransport(transport, codec string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workers.Transport = transport
		b.cfg.Workers.Codec = codec
	}
}

// WithGraceTimeout overrides the shutdown grace period in milliseconds.
func WithGraceTimeout(ms int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workers.GraceTimeoutMs = ms
	}
}

// WithRejectPending toggles rejection of outstanding calls on teardown.
func WithRejectPending(reject bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workers.RejectPendingOnExit = reject
	}
}

// WithSearchDB places the search index in a file under the test directory.
func WithSearchDB() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Search.DBPath = filepath.Join(b.baseDir, "search.db")
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// shortTempDir keeps unix socket paths under the platform length limit,
// which t.TempDir can exceed for long test names.
func shortTempDir(t testing.TB) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "whub")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(dir)
	})
	return dir
}
