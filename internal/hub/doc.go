// Package hub is the application context of workerhub.
//
// A Hub owns one supervisor per registered worker kind, the push registry,
// the session manager and the lifecycle broadcaster, and exposes them as a
// single surface: start and stop workers, call or send to them, and
// subscribe sessions to push channels. The IPC server and the daemon are
// thin wrappers around it.
package hub
