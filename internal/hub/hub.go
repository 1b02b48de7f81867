package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"workerhub/internal/config"
	"workerhub/internal/lifecycle"
	"workerhub/internal/logging"
	"workerhub/internal/notifications"
	"workerhub/internal/protocol"
	"workerhub/internal/push"
	"workerhub/internal/session"
	"workerhub/internal/supervisor"
	"workerhub/internal/transport"
	"workerhub/internal/workers"
)

var (
	// ErrUnknownKind is returned for worker kinds that are not registered.
	ErrUnknownKind = errors.New("unknown worker kind")
	// ErrUnknownChannel is returned when subscribing to an undefined push channel.
	ErrUnknownChannel = errors.New("unknown push channel")
)

// Option customizes hub construction.
type Option func(*options)

type options struct {
	transport transport.Transport
	notifier  notifications.Service
}

// WithTransport overrides the transport selected by configuration.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithNotifier overrides the notification service built from configuration.
func WithNotifier(n notifications.Service) Option {
	return func(o *options) { o.notifier = n }
}

// Hub wires supervisors, sessions and push routing together.
type Hub struct {
	cfg       *config.Config
	logger    *slog.Logger
	transport transport.Transport
	registry  *push.Registry
	sessions  *session.Manager
	events    *lifecycle.Broadcaster
	notifier  notifications.Service

	supervisors map[string]*supervisor.Supervisor
	kinds       []string
}

// New builds a hub with every registered worker kind in the absent state.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Hub, error) {
	if cfg == nil {
		return nil, errors.New("hub requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport == nil {
		t, err := NewTransport(cfg, logger)
		if err != nil {
			return nil, err
		}
		o.transport = t
	}
	if o.notifier == nil {
		o.notifier = notifications.NewService(cfg)
	}

	h := &Hub{
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "hub"),
		transport:   o.transport,
		registry:    push.NewRegistry(logger),
		sessions:    session.NewManager(cfg.Sessions.MailboxCapacity, cfg.SessionIdleTimeout(), logger),
		notifier:    o.notifier,
		supervisors: make(map[string]*supervisor.Supervisor),
	}
	h.events = lifecycle.New(h.sessions, o.notifier, logger)
	h.sessions.OnClose(func(s *session.Session) {
		h.registry.UnregisterAll(s)
	})

	for _, name := range workers.Names() {
		kind, _ := workers.Lookup(name)
		h.supervisors[name] = supervisor.New(supervisor.Options{
			Kind:      kind,
			Config:    cfg,
			Transport: o.transport,
			Events:    h.events,
			Router:    h.registry,
			Logger:    logger,
		})
		h.kinds = append(h.kinds, name)
	}
	return h, nil
}

// NewTransport builds the transport selected by cfg.
func NewTransport(cfg *config.Config, logger *slog.Logger) (transport.Transport, error) {
	switch cfg.Workers.Transport {
	case "", "inproc":
		return transport.NewInProc(workers.Factory), nil
	case "process":
		codec, err := transport.NewCodec(cfg.Workers.Codec)
		if err != nil {
			return nil, err
		}
		return transport.NewProcess(transport.ProcessOptions{Codec: codec}, logger)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Workers.Transport)
	}
}

// Kinds returns the registered worker kinds in sorted order.
func (h *Hub) Kinds() []string {
	return append([]string(nil), h.kinds...)
}

func (h *Hub) supervisor(kind string) (*supervisor.Supervisor, error) {
	if sup, ok := h.supervisors[kind]; ok {
		return sup, nil
	}
	if k, ok := workers.Lookup(kind); ok {
		if sup, ok := h.supervisors[k.Name]; ok {
			return sup, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Start starts the worker of kind.
func (h *Hub) Start(ctx context.Context, kind string) error {
	sup, err := h.supervisor(kind)
	if err != nil {
		return err
	}
	return sup.Start(ctx)
}

// Stop stops the worker of kind.
func (h *Hub) Stop(ctx context.Context, kind string) error {
	sup, err := h.supervisor(kind)
	if err != nil {
		return err
	}
	return sup.Stop(ctx)
}

// StartAll starts every kind, or only those listed.
func (h *Hub) StartAll(ctx context.Context, kinds ...string) error {
	if len(kinds) == 0 {
		kinds = h.kinds
	}
	var errs []error
	for _, kind := range kinds {
		if err := h.Start(ctx, kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every worker in parallel.
func (h *Hub) StopAll(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, sup := range h.supervisors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sup.Stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("stop %s: %w", sup.Kind(), err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Call sends a correlated request to kind and waits for the reply. When ctx
// has no deadline the configured call timeout applies.
func (h *Hub) Call(ctx context.Context, kind, typ string, payload any, scope string) (json.RawMessage, error) {
	sup, err := h.supervisor(kind)
	if err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		if timeout := h.cfg.CallTimeout(); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}
	return sup.Call(ctx, typ, payload, scope)
}

// Send delivers an uncorrelated command to kind.
func (h *Hub) Send(kind, typ string, payload any, scope string) error {
	sup, err := h.supervisor(kind)
	if err != nil {
		return err
	}
	return sup.Send(typ, payload, scope)
}

// OpenSession creates a display target.
func (h *Hub) OpenSession(label string, primary bool) *session.Session {
	return h.sessions.Open(label, primary)
}

// CloseSession closes a display target and drops its subscriptions.
func (h *Hub) CloseSession(id string) error {
	return h.sessions.Close(id)
}

// Session returns the open session with id.
func (h *Hub) Session(id string) (*session.Session, error) {
	return h.sessions.Get(id)
}

// PrimarySession returns the session that receives toasts.
func (h *Hub) PrimarySession() (*session.Session, bool) {
	return h.sessions.Primary()
}

// Register subscribes session id to channel within scope.
func (h *Hub) Register(channel, scope, id string) error {
	if !protocol.KnownChannel(channel) {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	s, err := h.sessions.Get(id)
	if err != nil {
		return err
	}
	h.registry.Register(channel, scope, s)
	return nil
}

// Unregister removes a subscription. Unknown subscriptions are ignored.
func (h *Hub) Unregister(channel, scope, id string) error {
	s, err := h.sessions.Get(id)
	if err != nil {
		return err
	}
	h.registry.Unregister(channel, scope, s)
	return nil
}

// OnLifecycle registers fn for lifecycle events of kind.
func (h *Hub) OnLifecycle(kind string, fn func(protocol.LifecycleEvent)) func() {
	return h.events.OnLifecycle(kind, fn)
}

// Toast shows t on the primary display target.
func (h *Hub) Toast(t protocol.Toast) {
	h.events.Toast(t)
}

// Notifier returns the external notification service.
func (h *Hub) Notifier() notifications.Service {
	return h.notifier
}

// Reap closes sessions idle past the configured timeout.
func (h *Hub) Reap(now time.Time) int {
	return len(h.sessions.Reap(now))
}

// Status is a snapshot of the hub.
type Status struct {
	Transport     string              `json:"transport"`
	Workers       []supervisor.Status `json:"workers"`
	Sessions      []session.Info      `json:"sessions"`
	Subscriptions []push.Subscription `json:"subscriptions"`
}

// Status returns a snapshot of every worker, session and subscription.
func (h *Hub) Status() Status {
	st := Status{
		Transport:     h.transport.Name(),
		Sessions:      h.sessions.List(),
		Subscriptions: h.registry.Subscriptions(),
	}
	for _, kind := range h.kinds {
		st.Workers = append(st.Workers, h.supervisors[kind].Status())
	}
	return st
}

// Close stops every worker and closes every session.
func (h *Hub) Close(ctx context.Context) error {
	err := h.StopAll(ctx)
	h.sessions.CloseAll()
	h.events.Wait()
	return err
}
