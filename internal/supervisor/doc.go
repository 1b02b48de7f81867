// Package supervisor owns the lifecycle of one worker kind.
//
// A Supervisor holds at most one live handle: a transport connection, its
// RPC correlator and the pump goroutine that routes the worker's outbound
// envelopes. Replies settle pending calls, pushes fan out through the push
// registry, and readiness, exits and faults become lifecycle events.
//
// Stop races the worker's own exit against the grace timeout and the
// caller's context. Whichever finishes first releases the handle; the
// others are ignored.
package supervisor
