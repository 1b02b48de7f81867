// Package transport provides the ordered, bidirectional channels that connect
// the hub to its workers.
//
// Two transports are available. InProc runs each worker as a goroutine fed by
// buffered channels. Process re-executes the current binary as a child
// process and exchanges envelopes over its stdin and stdout using a Codec
// (newline-delimited JSON or length-prefixed msgpack). Both deliver messages
// in send order and report the worker's termination through Conn.Wait.
package transport
