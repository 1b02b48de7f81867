// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// Display targets are IPC sessions: a client opens a session, subscribes it to
// push channels, and long-polls its mailbox. Worker failures travel in the
// response Fault so the client can map them back to the hub's sentinel
// errors with errors.Is.
package ipc
