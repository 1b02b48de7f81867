package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"workerhub/internal/protocol"
	"workerhub/internal/transport"
)

// handler is the per-kind part of a worker.
type handler interface {
	// init configures the worker from the init payload.
	init(ctx context.Context, payload json.RawMessage, emit transport.Emitter) error
	// handle executes a domain command. The result is sent as rpcResult when
	// the command carries a correlation ID.
	handle(ctx context.Context, env protocol.Envelope, emit transport.Emitter) (any, error)
	// shutdown releases background work before the loop returns.
	shutdown(emit transport.Emitter)
}

// errorReporter is implemented by handlers that announce failures in a
// kind-specific way in addition to the generic reply or fault.
type errorReporter interface {
	reportError(err error, emit transport.Emitter)
}

// loop adapts a handler to transport.Worker.
type loop struct {
	h handler
}

func (l loop) Run(ctx context.Context, in <-chan protocol.Envelope, emit transport.Emitter) error {
	defer l.h.shutdown(func(protocol.Envelope) error { return nil })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-in:
			if !ok {
				return transport.ErrClosed
			}
			switch env.Type {
			case protocol.TypeInit:
				if err := l.h.init(ctx, env.Payload, emit); err != nil {
					return fmt.Errorf("init: %w", err)
				}
			case protocol.TypeShutdown:
				l.h.shutdown(emit)
				return nil
			default:
				if err := l.dispatch(ctx, env, emit); err != nil {
					return err
				}
			}
		}
	}
}

// dispatch runs one command. Only emit failures are returned; command
// failures are reported to the hub.
func (l loop) dispatch(ctx context.Context, env protocol.Envelope, emit transport.Emitter) error {
	result, err := l.safeHandle(ctx, env, emit)
	if err != nil {
		if reporter, ok := l.h.(errorReporter); ok {
			reporter.reportError(err, emit)
		}
		if env.ID != 0 {
			return emit(protocol.ReplyError(env.ID, err.Error()))
		}
		return emit(protocol.Fault(err.Error()))
	}
	if env.ID == 0 {
		return nil
	}
	reply, err := protocol.Reply(env.ID, result)
	if err != nil {
		return emit(protocol.ReplyError(env.ID, err.Error()))
	}
	return emit(reply)
}

func (l loop) safeHandle(ctx context.Context, env protocol.Envelope, emit transport.Emitter) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s failed: %v", env.Type, r)
		}
	}()
	return l.h.handle(ctx, env, emit)
}

// push emits an outbound push with the given scope.
func push(emit transport.Emitter, typ, scope string, payload any) error {
	env, err := protocol.NewPush(typ, scope, payload)
	if err != nil {
		return err
	}
	return emit(env)
}

func unknownType(env protocol.Envelope) error {
	return fmt.Errorf("unknown message type %q", env.Type)
}
