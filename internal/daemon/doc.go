// Package daemon coordinates the long-running workerhub process.
//
// It wraps the hub in a flock-guarded lifecycle so only one daemon owns a
// state directory, starts the configured autostart workers, and runs the
// session reaper that closes display targets which stopped polling.
//
// Keep orchestration here: worker behaviour lives in the workers package and
// routing in the hub.
package daemon
