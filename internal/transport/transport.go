package transport

import (
	"context"
	"errors"
	"fmt"

	"workerhub/internal/protocol"
)

var (
	// ErrClosed is returned when sending to a worker that has exited.
	ErrClosed = errors.New("worker channel closed")
	// ErrKilled is the exit error of a worker terminated by Kill.
	ErrKilled = errors.New("worker killed")
	// ErrFull is returned when a worker's inbox stayed full until the sender's context ended.
	ErrFull = errors.New("worker inbox full")
)

// Emitter sends one outbound envelope from a worker to the hub.
type Emitter func(protocol.Envelope) error

// Worker is the worker-side logic of one kind. Run consumes inbound envelopes
// until it receives shutdown (returning nil) or ctx ends.
type Worker interface {
	Run(ctx context.Context, in <-chan protocol.Envelope, emit Emitter) error
}

// Factory returns a fresh Worker for a kind.
type Factory func(kind string) (Worker, error)

// Exit describes how a worker terminated.
type Exit struct {
	Code int
	Err  error
}

// Clean reports a zero exit without error.
func (e Exit) Clean() bool {
	return e.Code == 0 && e.Err == nil
}

func (e Exit) String() string {
	switch {
	case e.Clean():
		return "exited cleanly"
	case e.Err != nil:
		return fmt.Sprintf("exited with code %d: %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("exited with code %d", e.Code)
	}
}

// Conn is the hub side of one worker's channel.
type Conn interface {
	// Send enqueues an inbound envelope. It waits for inbox space only
	// while ctx is live; an already-ended ctx makes it a non-blocking try.
	Send(ctx context.Context, env protocol.Envelope) error
	// Messages yields outbound envelopes in order. It is closed once the
	// worker has exited and its output is drained.
	Messages() <-chan protocol.Envelope
	// Wait blocks until the worker has exited.
	Wait() Exit
	// Kill terminates the worker without waiting for a graceful exit.
	Kill() error
}

func inboxFull(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrFull, ctx.Err())
}

// Transport spawns workers.
type Transport interface {
	Spawn(ctx context.Context, kind string) (Conn, error)
	Name() string
}
