package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"workerhub/internal/protocol"
	"workerhub/internal/transport"
)

// serviceWorker is a generic numbered service. It announces its own
// lifecycle instead of sending ready.
type serviceWorker struct {
	name string

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newServiceWorker(name string) transport.Worker {
	return loop{h: &serviceWorker{name: name}}
}

func (w *serviceWorker) init(_ context.Context, payload json.RawMessage, emit transport.Emitter) error {
	params, err := protocol.Decode[protocol.ServiceInit](payload)
	if err != nil {
		return err
	}
	if err := w.announce(emit, protocol.StatusStarted, ""); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if params.DelayMs > 0 {
		w.timer = time.AfterFunc(time.Duration(params.DelayMs)*time.Millisecond, func() {
			_ = push(emit, protocol.TypeTimed, "", protocol.Timed{
				Service: w.name,
				Info:    w.name + " timed push",
			})
		})
	}
	return nil
}

func (w *serviceWorker) handle(_ context.Context, env protocol.Envelope, _ transport.Emitter) (any, error) {
	switch env.Type {
	case protocol.TypeRequest:
		params, err := protocol.Decode[protocol.ServiceRequest](env.Payload)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("%s: request received, a=%v", w.name, params.A), nil
	case protocol.TypeCommand:
		params, err := protocol.Decode[protocol.Command](env.Payload)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("%s: ok, command received (%s)", w.name, params.Command), nil
	default:
		return nil, unknownType(env)
	}
}

func (w *serviceWorker) reportError(err error, emit transport.Emitter) {
	_ = w.announce(emit, protocol.StatusError, err.Error())
}

// shutdown cancels the timed push and announces the stop once.
func (w *serviceWorker) shutdown(emit transport.Emitter) {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	already := w.stopped
	w.stopped = true
	w.mu.Unlock()
	if !already {
		_ = w.announce(emit, protocol.StatusStopped, "")
	}
}

func (w *serviceWorker) announce(emit transport.Emitter, status protocol.LifecycleStatus, message string) error {
	env, err := protocol.NewMessage(protocol.TypeLifecycle, protocol.LifecycleEvent{
		Kind:    w.name,
		Status:  status,
		Message: message,
	})
	if err != nil {
		return err
	}
	return emit(env)
}
