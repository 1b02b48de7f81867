package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorkers()
	if err := c.normalizeSearch(); err != nil {
		return err
	}
	c.normalizeDevices()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = filepath.Join(c.Paths.StateDir, defaultSocketName)
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorkers() {
	c.Workers.Transport = strings.ToLower(strings.TrimSpace(c.Workers.Transport))
	if c.Workers.Transport == "" {
		c.Workers.Transport = defaultTransport
	}
	c.Workers.Codec = strings.ToLower(strings.TrimSpace(c.Workers.Codec))
	if c.Workers.Codec == "" {
		c.Workers.Codec = defaultCodec
	}
	if len(c.Workers.Autostart) > 0 {
		kinds := make([]string, 0, len(c.Workers.Autostart))
		seen := make(map[string]struct{}, len(c.Workers.Autostart))
		for _, kind := range c.Workers.Autostart {
			normalized := strings.ToLower(strings.TrimSpace(kind))
			if normalized == "" {
				continue
			}
			if _, exists := seen[normalized]; exists {
				continue
			}
			seen[normalized] = struct{}{}
			kinds = append(kinds, normalized)
		}
		c.Workers.Autostart = kinds
	}
}

func (c *Config) normalizeSearch() error {
	c.Search.DBPath = strings.TrimSpace(c.Search.DBPath)
	if c.Search.DBPath == "" {
		c.Search.DBPath = MemoryDB
	}
	if c.Search.DBPath != MemoryDB {
		var err error
		if c.Search.DBPath, err = expandPath(c.Search.DBPath); err != nil {
			return fmt.Errorf("search.db_path: %w", err)
		}
	}
	if c.Search.ProgressEvery <= 0 {
		c.Search.ProgressEvery = defaultSearchProgressEvery
	}
	return nil
}

func (c *Config) normalizeDevices() {
	subsystems := make([]string, 0, len(c.Devices.Subsystems))
	for _, subsystem := range c.Devices.Subsystems {
		if trimmed := strings.TrimSpace(subsystem); trimmed != "" {
			subsystems = append(subsystems, trimmed)
		}
	}
	c.Devices.Subsystems = subsystems
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("WORKERHUB_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	c.Notifications.MinSeverity = strings.ToLower(strings.TrimSpace(c.Notifications.MinSeverity))
	if c.Notifications.MinSeverity == "" {
		c.Notifications.MinSeverity = defaultNotifyMinSeverity
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
