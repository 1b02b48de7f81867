// Package lifecycle announces worker state changes to display targets.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"workerhub/internal/logging"
	"workerhub/internal/notifications"
	"workerhub/internal/protocol"
	"workerhub/internal/push"
)

const (
	toastTimeoutMs = 4000
	mirrorTimeout  = 15 * time.Second
)

// Targets exposes the live display targets.
type Targets interface {
	Destinations() []push.Destination
	PrimaryDestination() (push.Destination, bool)
}

type listener struct {
	kind string
	fn   func(protocol.LifecycleEvent)
}

// Broadcaster delivers lifecycle events to every target and toasts to the primary.
type Broadcaster struct {
	targets  Targets
	notifier notifications.Service
	logger   *slog.Logger

	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]listener
	mirrors   sync.WaitGroup
}

// New builds a broadcaster. A nil notifier disables the toast mirror.
func New(targets Targets, notifier notifications.Service, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Broadcaster{
		targets:   targets,
		notifier:  notifier,
		logger:    logging.NewComponentLogger(logger, "lifecycle"),
		listeners: make(map[uint64]listener),
	}
}

// Publish sends evt on the lifecycle channel to every live target, a status
// toast to the primary target, and evt to local listeners for its kind.
func (b *Broadcaster) Publish(evt protocol.LifecycleEvent) {
	delivered := 0
	for _, dst := range b.targets.Destinations() {
		if !dst.Alive() {
			continue
		}
		if err := dst.Deliver(protocol.ChannelLifecycle, evt); err != nil {
			b.logger.Debug("lifecycle delivery failed",
				logging.String(logging.FieldSessionID, dst.ID()),
				logging.Error(err),
			)
			continue
		}
		delivered++
	}
	b.logger.Debug("lifecycle event published",
		logging.String(logging.FieldEventType, "lifecycle_"+string(evt.Status)),
		logging.String(logging.FieldWorkerKind, evt.Kind),
		logging.Int("delivered", delivered),
	)

	b.Toast(FormatToast(evt))

	b.mu.Lock()
	var fns []func(protocol.LifecycleEvent)
	for _, l := range b.listeners {
		if l.kind == "" || l.kind == evt.Kind {
			fns = append(fns, l.fn)
		}
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(evt)
	}
}

// Toast delivers t to the primary target only and mirrors it to the notifier.
func (b *Broadcaster) Toast(t protocol.Toast) {
	if t.TimeoutMs == 0 {
		t.TimeoutMs = toastTimeoutMs
	}
	if dst, ok := b.targets.PrimaryDestination(); ok && dst.Alive() {
		if err := dst.Deliver(protocol.ChannelToast, t); err != nil {
			b.logger.Debug("toast delivery failed",
				logging.String(logging.FieldSessionID, dst.ID()),
				logging.Error(err),
			)
		}
	}
	if b.notifier == nil {
		return
	}
	b.mirrors.Add(1)
	go func() {
		defer b.mirrors.Done()
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := b.notifier.NotifyToast(ctx, t); err != nil {
			logging.WarnWithContext(b.logger, "toast notification failed", "toast_mirror_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "external notification not delivered"),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			)
		}
	}()
}

// OnLifecycle registers fn for events of kind; an empty kind matches all.
// The returned function removes the registration.
func (b *Broadcaster) OnLifecycle(kind string, fn func(protocol.LifecycleEvent)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = listener{kind: kind, fn: fn}
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Wait blocks until in-flight notifier calls finish.
func (b *Broadcaster) Wait() {
	b.mirrors.Wait()
}

// FormatToast renders the status line shown for evt.
func FormatToast(evt protocol.LifecycleEvent) protocol.Toast {
	name := cases.Title(language.English).String(evt.Kind)
	switch evt.Status {
	case protocol.StatusStarted:
		return protocol.Toast{Severity: protocol.SeveritySuccess, Message: name + " worker ready"}
	case protocol.StatusStopped:
		msg := name + " worker stopped"
		if evt.Message != "" {
			msg = fmt.Sprintf("%s (%s)", msg, evt.Message)
		}
		return protocol.Toast{Severity: protocol.SeverityInfo, Message: msg}
	default:
		msg := name + " worker error"
		if evt.Message != "" {
			msg = fmt.Sprintf("%s: %s", msg, evt.Message)
		}
		return protocol.Toast{Severity: protocol.SeverityError, Message: msg}
	}
}
