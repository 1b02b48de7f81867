package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains state, log, and socket locations.
type Paths struct {
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
	SocketPath string `toml:"socket_path"`
}

// Workers contains supervisor settings shared by every worker kind.
type Workers struct {
	// Transport selects how workers run: "inproc" (goroutines) or "process"
	// (child processes speaking the envelope protocol over stdio).
	Transport string `toml:"transport"`
	// Codec selects the process transport framing: "json" or "msgpack".
	Codec string `toml:"codec"`
	// GraceTimeoutMs bounds how long Stop waits for a worker to exit after
	// shutdown before the handle is force-released.
	GraceTimeoutMs int `toml:"grace_timeout_ms"`
	// CallTimeoutMs applies to calls whose context has no deadline. Zero disables it.
	CallTimeoutMs int `toml:"call_timeout_ms"`
	// RejectPendingOnExit fails outstanding calls when a handle is released.
	// When false they are left unsettled and callers rely on their context.
	RejectPendingOnExit bool     `toml:"reject_pending_on_exit"`
	Autostart           []string `toml:"autostart"`
}

// Metrics contains configuration for the system metrics worker.
type Metrics struct {
	IntervalMs int `toml:"interval_ms"`
}

// Search contains configuration for the search index worker.
type Search struct {
	DBPath        string `toml:"db_path"`
	FuzzyDistance int    `toml:"fuzzy_distance"`
	ProgressEvery int    `toml:"progress_every"`
}

// Image contains configuration for the thumbnail worker.
type Image struct {
	ThumbWidth  int `toml:"thumb_width"`
	ThumbHeight int `toml:"thumb_height"`
	DelayMs     int `toml:"delay_ms"`
}

// Service contains configuration for the generic numbered services.
type Service struct {
	DelayMs int `toml:"delay_ms"`
}

// Devices contains configuration for the udev device watcher.
type Devices struct {
	Subsystems []string `toml:"subsystems"`
}

// Sessions contains configuration for display target sessions.
type Sessions struct {
	MailboxCapacity     int `toml:"mailbox_capacity"`
	IdleTimeoutSeconds  int `toml:"idle_timeout_seconds"`
	ReapIntervalSeconds int `toml:"reap_interval_seconds"`
}

// Notifications contains configuration for ntfy toast mirroring.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	MinSeverity    string `toml:"min_severity"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for workerhub.
//
// Configuration sections by subsystem:
//   - Paths: state directory, logs, and the daemon socket
//   - Workers: transport, codec, and supervisor timing
//   - Metrics, Search, Image, Service, Devices: per-kind worker settings
//   - Sessions: display target mailboxes and idle reaping
//   - Notifications: ntfy mirroring of toasts
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Workers       Workers       `toml:"workers"`
	Metrics       Metrics       `toml:"metrics"`
	Search        Search        `toml:"search"`
	Image         Image         `toml:"image"`
	Service       Service       `toml:"service"`
	Devices       Devices       `toml:"devices"`
	Sessions      Sessions      `toml:"sessions"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/workerhub/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("workerhub.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, c.Paths.LogDir, filepath.Dir(c.Paths.SocketPath)}
	if c.Search.DBPath != "" && c.Search.DBPath != MemoryDB {
		dirs = append(dirs, filepath.Dir(c.Search.DBPath))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "workerhub.lock")
}

// GraceTimeout returns the worker shutdown grace period.
func (c *Config) GraceTimeout() time.Duration {
	return time.Duration(c.Workers.GraceTimeoutMs) * time.Millisecond
}

// CallTimeout returns the default call timeout, or zero when disabled.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Workers.CallTimeoutMs) * time.Millisecond
}

// MetricsInterval returns the default metrics tick interval.
func (c *Config) MetricsInterval() time.Duration {
	return time.Duration(c.Metrics.IntervalMs) * time.Millisecond
}

// SessionIdleTimeout returns how long a session may go without polling before it is reaped.
func (c *Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.Sessions.IdleTimeoutSeconds) * time.Second
}

// SessionReapInterval returns how often idle sessions are checked.
func (c *Config) SessionReapInterval() time.Duration {
	return time.Duration(c.Sessions.ReapIntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
