// Package config loads, normalizes, and validates workerhub configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// WORKERHUB_NTFY_TOPIC. The Config type centralizes every knob the daemon,
// the worker supervisors, and the CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
