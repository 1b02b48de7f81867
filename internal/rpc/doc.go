// Package rpc correlates requests sent to a worker with the replies that
// eventually come back on the same channel.
//
// Each Correlator belongs to one worker handle. It allocates correlation IDs
// starting at 1, keeps a pending table keyed by ID, and settles the matching
// Call when an rpcResult or rpcError arrives. Replies with unknown IDs are
// discarded. The correlator enforces no timeout of its own; callers bound a
// Call with their context.
package rpc
