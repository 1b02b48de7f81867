package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateKinds(); err != nil {
		return err
	}
	if err := ensurePositiveMap(map[string]int{
		"sessions.mailbox_capacity":      c.Sessions.MailboxCapacity,
		"sessions.idle_timeout_seconds":  c.Sessions.IdleTimeoutSeconds,
		"sessions.reap_interval_seconds": c.Sessions.ReapIntervalSeconds,
		"notifications.request_timeout":  c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	switch c.Notifications.MinSeverity {
	case "success", "info", "warning", "error":
	default:
		return fmt.Errorf("notifications.min_severity: unsupported value %q", c.Notifications.MinSeverity)
	}
	return nil
}

func (c *Config) validateWorkers() error {
	switch c.Workers.Transport {
	case "inproc", "process":
	default:
		return fmt.Errorf("workers.transport: unsupported value %q (want inproc or process)", c.Workers.Transport)
	}
	switch c.Workers.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("workers.codec: unsupported value %q (want json or msgpack)", c.Workers.Codec)
	}
	if c.Workers.GraceTimeoutMs <= 0 {
		return errors.New("workers.grace_timeout_ms must be positive")
	}
	if c.Workers.CallTimeoutMs < 0 {
		return errors.New("workers.call_timeout_ms must be >= 0")
	}
	return nil
}

func (c *Config) validateKinds() error {
	if c.Metrics.IntervalMs <= 100 {
		return errors.New("metrics.interval_ms must be greater than 100")
	}
	if c.Search.FuzzyDistance < 0 || c.Search.FuzzyDistance > 3 {
		return errors.New("search.fuzzy_distance must be between 0 and 3")
	}
	if err := ensurePositiveMap(map[string]int{
		"image.thumb_width":  c.Image.ThumbWidth,
		"image.thumb_height": c.Image.ThumbHeight,
	}); err != nil {
		return err
	}
	if c.Image.DelayMs < 0 {
		return errors.New("image.delay_ms must be >= 0")
	}
	if c.Service.DelayMs < 0 {
		return errors.New("service.delay_ms must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
