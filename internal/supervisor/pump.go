package supervisor

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"workerhub/internal/logging"
	"workerhub/internal/protocol"
)

// pump routes h's outbound envelopes in order until the worker exits, then
// releases the handle.
func (s *Supervisor) pump(h *handle) {
	for env := range h.conn.Messages() {
		s.route(h, env)
	}
	s.release(h, h.conn.Wait(), "")
}

func (s *Supervisor) route(h *handle, env protocol.Envelope) {
	switch {
	case env.IsReply():
		if !h.calls.Dispatch(env) {
			s.logger.Debug("discarding reply without pending call",
				logging.Uint64(logging.FieldCorrelationID, env.ID),
				logging.String(logging.FieldMessageType, env.Type),
			)
		}
	case env.Type == protocol.TypeReady:
		s.markRunning(h)
	case env.Type == protocol.TypeLifecycle:
		s.workerLifecycle(h, env)
	case env.Type == protocol.TypeError:
		s.fault(h, env.Error)
	default:
		s.forward(h, env)
	}
}

func (s *Supervisor) markRunning(h *handle) {
	s.mu.Lock()
	if s.handle != h || s.state != StateStarting {
		s.mu.Unlock()
		return
	}
	s.state = StateRunning
	s.mu.Unlock()

	s.logger.Info("worker ready",
		logging.String(logging.FieldEventType, "worker_ready"),
		logging.String(logging.FieldHandleID, h.id),
	)
	s.publish(protocol.LifecycleEvent{Kind: s.kind.Name, Status: protocol.StatusStarted})
}

// workerLifecycle handles lifecycle signals sent by the worker itself.
// Stops are reported from the exit, so a worker's own stopped signal is ignored.
func (s *Supervisor) workerLifecycle(h *handle, env protocol.Envelope) {
	evt, err := protocol.Decode[protocol.LifecycleEvent](env.Payload)
	if err != nil {
		s.logger.Debug("ignoring malformed lifecycle signal", logging.Error(err))
		return
	}
	switch evt.Status {
	case protocol.StatusStarted:
		s.markRunning(h)
	case protocol.StatusError:
		if !s.current(h) {
			return
		}
		s.publish(protocol.LifecycleEvent{Kind: s.kind.Name, Status: protocol.StatusError, Message: evt.Message})
	}
}

// fault reports a non-fatal worker error to the primary target and the
// kind's fault channel. The worker keeps running.
func (s *Supervisor) fault(h *handle, message string) {
	if !s.current(h) {
		return
	}
	logging.WarnWithContext(s.logger, "worker reported error", "worker_fault",
		logging.String("message", message),
		logging.String(logging.FieldImpact, "the failed command had no effect"),
		logging.String(logging.FieldErrorHint, "inspect the command payload"),
	)
	if s.events != nil {
		s.events.Toast(protocol.Toast{
			Severity: protocol.SeverityError,
			Message:  fmt.Sprintf("%s: %s", displayName(s.kind.Name), message),
		})
	}
	if s.kind.FaultChannel != "" && s.router != nil {
		s.router.Dispatch(s.kind.FaultChannel, protocol.FaultReport{Kind: s.kind.Name, Message: message})
	}
}

func (s *Supervisor) forward(h *handle, env protocol.Envelope) {
	channel, ok := s.kind.Channel(env.Type)
	if !ok {
		s.logger.Debug("dropping push with no route", logging.String(logging.FieldMessageType, env.Type))
		return
	}
	if s.router == nil || !s.current(h) {
		return
	}
	var delivered int
	if env.Scope != "" {
		delivered = s.router.DispatchScoped(channel, env.Scope, env.Payload)
	} else {
		delivered = s.router.Dispatch(channel, env.Payload)
	}
	s.logger.Debug("push routed",
		logging.String(logging.FieldChannel, channel),
		logging.String(logging.FieldScope, env.Scope),
		logging.Int("delivered", delivered),
	)
}

func displayName(kind string) string {
	return cases.Title(language.English).String(kind)
}
