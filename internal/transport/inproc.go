package transport

import (
	"context"
	"fmt"
	"sync"

	"workerhub/internal/protocol"
)

const inprocBuffer = 64

// InProc runs workers as goroutines in the hub process.
type InProc struct {
	factory Factory
}

// NewInProc returns an in-process transport backed by factory.
func NewInProc(factory Factory) *InProc {
	return &InProc{factory: factory}
}

func (t *InProc) Name() string { return "inproc" }

// Spawn starts a goroutine running the worker for kind.
func (t *InProc) Spawn(ctx context.Context, kind string) (Conn, error) {
	if t.factory == nil {
		return nil, fmt.Errorf("spawn %s: no worker factory", kind)
	}
	w, err := t.factory(kind)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", kind, err)
	}
	// Workers outlive the spawning request; only Kill cancels them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &inprocConn{
		in:     make(chan protocol.Envelope, inprocBuffer),
		out:    make(chan protocol.Envelope, inprocBuffer),
		exited: make(chan struct{}),
		cancel: cancel,
	}
	go c.run(runCtx, w)
	return c, nil
}

type inprocConn struct {
	in     chan protocol.Envelope
	out    chan protocol.Envelope
	exited chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	exit   Exit
	killed bool

	// outMu guards out against emitters that outlive Run, such as timers.
	outMu     sync.RWMutex
	outClosed bool
}

func (c *inprocConn) run(ctx context.Context, w Worker) {
	defer c.closeOut()
	defer close(c.exited)
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker panic: %v", r)
			}
		}()
		err = w.Run(ctx, c.in, c.emit(ctx))
	}()

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.killed:
		c.exit = Exit{Code: -1, Err: ErrKilled}
	case err != nil:
		c.exit = Exit{Code: 1, Err: err}
	default:
		c.exit = Exit{}
	}
}

func (c *inprocConn) closeOut() {
	c.cancel()
	c.outMu.Lock()
	c.outClosed = true
	close(c.out)
	c.outMu.Unlock()
}

func (c *inprocConn) emit(ctx context.Context) Emitter {
	return func(env protocol.Envelope) error {
		c.outMu.RLock()
		defer c.outMu.RUnlock()
		if c.outClosed {
			return ErrClosed
		}
		select {
		case c.out <- env:
			return nil
		case <-ctx.Done():
			return ErrClosed
		}
	}
}

func (c *inprocConn) Send(ctx context.Context, env protocol.Envelope) error {
	select {
	case <-c.exited:
		return ErrClosed
	default:
	}
	select {
	case c.in <- env:
		return nil
	default:
	}
	select {
	case c.in <- env:
		return nil
	case <-c.exited:
		return ErrClosed
	case <-ctx.Done():
		return inboxFull(ctx)
	}
}

func (c *inprocConn) Messages() <-chan protocol.Envelope { return c.out }

func (c *inprocConn) Wait() Exit {
	<-c.exited
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exit
}

func (c *inprocConn) Kill() error {
	c.mu.Lock()
	select {
	case <-c.exited:
		c.mu.Unlock()
		return nil
	default:
	}
	c.killed = true
	c.mu.Unlock()
	c.cancel()
	return nil
}
