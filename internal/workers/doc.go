// Package workers implements the worker kinds the hub supervises and the
// message contract each one speaks.
//
// Every kind runs the same envelope loop: init configures it, shutdown ends
// it, and any other message is a domain command. Commands that carry a
// correlation ID are answered with rpcResult or rpcError; commands without one
// report failures as a non-fatal error envelope. Pushes are emitted with the
// scope of the request that caused them.
//
// A Kind also describes the hub-side view of the contract: whether the worker
// announces readiness, which outbound types are pushes and on which channel
// they are delivered, and where its non-fatal faults go.
package workers
