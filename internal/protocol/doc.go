// Package protocol defines the envelope exchanged between the hub and its
// workers, the reserved message types, the push channel identifiers, and the
// payload shapes of every worker kind.
//
// An Envelope is a tagged union discriminated by Type. Requests that expect a
// reply carry a correlation ID that the worker echoes in its rpcResult or
// rpcError. Pushes carry no ID and may name a Scope that narrows delivery to
// the display targets registered under it.
package protocol
