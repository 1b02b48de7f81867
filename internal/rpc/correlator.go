package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"workerhub/internal/protocol"
)

// ErrShutdown is returned for calls issued after the correlator was detached or failed.
var ErrShutdown = errors.New("correlator is shut down")

// RemoteError carries the message of an rpcError reply.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Call is one in-flight request. Done receives the call exactly once when it settles.
type Call struct {
	ID      uint64
	Request protocol.Envelope
	Result  json.RawMessage
	Error   error
	Done    chan *Call
}

func (call *Call) done() {
	select {
	case call.Done <- call:
	default:
	}
}

// SendFunc transmits an envelope to the worker, giving up when ctx ends.
type SendFunc func(ctx context.Context, env protocol.Envelope) error

// Correlator owns the pending table for one worker handle.
type Correlator struct {
	// sendSlot admits one sender at a time so channel order equals ID order.
	sendSlot chan struct{}
	send     SendFunc

	mu      sync.Mutex
	lastID  uint64
	pending map[uint64]*Call
	closed  error
}

// New returns a correlator that transmits requests through send.
func New(send SendFunc) *Correlator {
	return &Correlator{
		sendSlot: make(chan struct{}, 1),
		send:     send,
		pending:  make(map[uint64]*Call),
	}
}

// Go allocates the next correlation ID, records the call as pending, and
// transmits req with the ID injected. It does not wait for the reply. A
// transmit failure, including ctx ending before the worker accepts req,
// settles the call immediately.
func (c *Correlator) Go(ctx context.Context, req protocol.Envelope) *Call {
	call := &Call{Done: make(chan *Call, 1)}

	select {
	case c.sendSlot <- struct{}{}:
	case <-ctx.Done():
		call.Error = ctx.Err()
		call.done()
		return call
	}
	c.mu.Lock()
	if c.closed != nil {
		err := c.closed
		c.mu.Unlock()
		<-c.sendSlot
		call.Error = err
		call.done()
		return call
	}
	c.lastID++
	call.ID = c.lastID
	req.ID = call.ID
	call.Request = req
	c.pending[call.ID] = call
	c.mu.Unlock()

	err := c.send(ctx, req)
	<-c.sendSlot

	if err != nil {
		if c.take(call.ID) != nil {
			call.Error = err
			call.done()
		}
	}
	return call
}

// Call issues req and waits for its settlement or for ctx to end. When ctx
// ends first, whether before or after the worker accepted req, the pending
// entry is withdrawn and a late reply is discarded.
func (c *Correlator) Call(ctx context.Context, req protocol.Envelope) (json.RawMessage, error) {
	call := c.Go(ctx, req)
	select {
	case <-call.Done:
		return call.Result, call.Error
	case <-ctx.Done():
		c.take(call.ID)
		select {
		case <-call.Done:
			return call.Result, call.Error
		default:
		}
		return nil, ctx.Err()
	}
}

// Resolve settles the call with the given ID successfully.
func (c *Correlator) Resolve(id uint64, result json.RawMessage) bool {
	call := c.take(id)
	if call == nil {
		return false
	}
	call.Result = result
	call.done()
	return true
}

// Reject settles the call with the given ID with a RemoteError.
func (c *Correlator) Reject(id uint64, message string) bool {
	call := c.take(id)
	if call == nil {
		return false
	}
	call.Error = &RemoteError{Message: message}
	call.done()
	return true
}

// Dispatch routes an rpcResult or rpcError envelope. It reports whether a
// pending call was settled; replies for unknown IDs are discarded.
func (c *Correlator) Dispatch(env protocol.Envelope) bool {
	switch env.Type {
	case protocol.TypeRPCResult:
		return c.Resolve(env.ID, env.Result)
	case protocol.TypeRPCError:
		return c.Reject(env.ID, env.Error)
	default:
		return false
	}
}

// Fail rejects every outstanding call with err and refuses new calls.
// It returns the number of calls rejected.
func (c *Correlator) Fail(err error) int {
	if err == nil {
		err = ErrShutdown
	}
	c.mu.Lock()
	calls := c.drainLocked(err)
	c.mu.Unlock()
	for _, call := range calls {
		call.Error = err
		call.done()
	}
	return len(calls)
}

// Detach refuses new calls and abandons outstanding ones without settling
// them. Their callers are released only by their own context. It returns
// the number of calls abandoned.
func (c *Correlator) Detach() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.drainLocked(ErrShutdown))
}

func (c *Correlator) drainLocked(err error) []*Call {
	if c.closed == nil {
		c.closed = err
	}
	calls := make([]*Call, 0, len(c.pending))
	for id, call := range c.pending {
		calls = append(calls, call)
		delete(c.pending, id)
	}
	return calls
}

// Pending returns the number of outstanding calls.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Outstanding returns the IDs of outstanding calls in ascending order.
func (c *Correlator) Outstanding() []uint64 {
	c.mu.Lock()
	ids := make([]uint64, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// LastID returns the most recently allocated correlation ID, or 0 if none.
func (c *Correlator) LastID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastID
}

func (c *Correlator) take(id uint64) *Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return call
}
