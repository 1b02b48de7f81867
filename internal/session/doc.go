// Package session tracks display targets.
//
// Each session is a push.Destination backed by a bounded mailbox that IPC
// clients long-poll. The manager remembers the primary session, the one that
// receives toasts; when it closes, the oldest remaining session is promoted.
package session
