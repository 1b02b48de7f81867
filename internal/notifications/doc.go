// Package notifications mirrors hub toasts to ntfy.
//
// The ntfy topic comes from the [notifications] section of config.toml. When
// no topic is set the service is a no-op, so callers never need to check.
// Toasts below notifications.min_severity are dropped before any HTTP call.
package notifications
