package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"workerhub/internal/config"
	"workerhub/internal/logging"
	"workerhub/internal/protocol"
	"workerhub/internal/rpc"
	"workerhub/internal/transport"
	"workerhub/internal/workers"
)

var (
	// ErrNotRunning is returned for calls to a kind with no live handle or one that is stopping.
	ErrNotRunning = errors.New("worker not running")
	// ErrStopping is returned by Start while a stop is in progress.
	ErrStopping = errors.New("worker is stopping")
	// ErrWorkerExited rejects calls still pending when their worker goes away.
	ErrWorkerExited = errors.New("worker exited before replying")
)

// State is the supervisor's view of its worker.
type State string

const (
	StateAbsent   State = "absent"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Events receives lifecycle events and toasts.
type Events interface {
	Publish(evt protocol.LifecycleEvent)
	Toast(toast protocol.Toast)
}

// Router fans pushes out to display targets.
type Router interface {
	Dispatch(channel string, payload any) int
	DispatchScoped(channel, scope string, payload any) int
}

// Options wires a supervisor.
type Options struct {
	Kind      workers.Kind
	Config    *config.Config
	Transport transport.Transport
	Events    Events
	Router    Router
	Logger    *slog.Logger
}

// Status is a snapshot of a supervisor.
type Status struct {
	Kind      string    `json:"kind"`
	State     State     `json:"state"`
	HandleID  string    `json:"handleId,omitempty"`
	Since     time.Time `json:"since"`
	Pending   int       `json:"pending"`
	LastID    uint64    `json:"lastId"`
	Transport string    `json:"transport"`
}

type handle struct {
	id       string
	conn     transport.Conn
	calls    *rpc.Correlator
	released chan struct{}

	// guarded by Supervisor.mu
	shutdownSent bool
}

// Supervisor manages the single worker handle of one kind.
type Supervisor struct {
	kind      workers.Kind
	cfg       *config.Config
	transport transport.Transport
	events    Events
	router    Router
	logger    *slog.Logger

	mu     sync.Mutex
	state  State
	handle *handle
	since  time.Time
	// spawning is closed once an in-flight spawn settles.
	spawning chan struct{}
}

// New builds a supervisor in the absent state.
func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "supervisor").With(logging.String(logging.FieldWorkerKind, opts.Kind.Name))
	return &Supervisor{
		kind:      opts.Kind,
		cfg:       opts.Config,
		transport: opts.Transport,
		events:    opts.Events,
		router:    opts.Router,
		logger:    logger,
		state:     StateAbsent,
		since:     time.Now(),
	}
}

// Kind returns the managed kind name.
func (s *Supervisor) Kind() string {
	return s.kind.Name
}

// Start spawns the worker unless one is already starting or running.
// The spawn runs outside the supervisor lock; the slot reads as starting
// meanwhile.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateStarting, StateRunning:
		s.mu.Unlock()
		return nil
	case StateStopping:
		s.mu.Unlock()
		return ErrStopping
	}
	spawned := make(chan struct{})
	s.spawning = spawned
	s.state = StateStarting
	s.since = time.Now()
	s.mu.Unlock()

	conn, err := s.transport.Spawn(ctx, s.kind.Name)

	s.mu.Lock()
	s.spawning = nil
	close(spawned)
	if err != nil {
		s.state = StateAbsent
		s.since = time.Now()
		s.mu.Unlock()
		logging.WarnWithContext(s.logger, "worker spawn failed", "worker_spawn_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "worker kind unavailable until started again"),
			logging.String(logging.FieldErrorHint, "check the worker executable and transport settings"),
		)
		s.publish(protocol.LifecycleEvent{Kind: s.kind.Name, Status: protocol.StatusError, Message: err.Error()})
		return fmt.Errorf("start %s: %w", s.kind.Name, err)
	}
	h := &handle{
		id:       uuid.NewString(),
		conn:     conn,
		calls:    rpc.New(conn.Send),
		released: make(chan struct{}),
	}
	s.handle = h
	readyNow := !s.kind.SignalsReady
	if readyNow {
		s.state = StateRunning
	}
	s.mu.Unlock()

	// started must precede any exit event from the pump.
	if readyNow {
		s.publish(protocol.LifecycleEvent{Kind: s.kind.Name, Status: protocol.StatusStarted})
	}
	go s.pump(h)

	s.logger.Info("worker spawned",
		logging.String(logging.FieldEventType, "worker_spawned"),
		logging.String(logging.FieldHandleID, h.id),
		logging.String("transport", s.transport.Name()),
	)

	var params any
	if s.kind.Init != nil {
		params = s.kind.Init(s.cfg)
	}
	env, err := protocol.NewMessage(protocol.TypeInit, params)
	if err == nil {
		err = conn.Send(ctx, env)
	}
	if err != nil {
		// The pump observes the exit and reports it.
		_ = conn.Kill()
		return fmt.Errorf("init %s: %w", s.kind.Name, err)
	}
	return nil
}

// Stop asks the worker to shut down and waits for it to exit, for the grace
// timeout, or for ctx. On timeout or cancellation the worker is killed and the
// handle released; cancellation returns ctx.Err().
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	for s.spawning != nil {
		spawned := s.spawning
		s.mu.Unlock()
		select {
		case <-spawned:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	h := s.handle
	if h == nil {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateStopping {
		s.mu.Unlock()
		select {
		case <-h.released:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.state = StateStopping
	s.since = time.Now()
	h.shutdownSent = true
	s.mu.Unlock()

	timer := time.NewTimer(s.graceTimeout())
	defer timer.Stop()

	// A worker that stopped reading can hold the send; the grace timer still runs.
	sendCtx, cancelSend := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSend()
	go func() {
		if err := h.conn.Send(sendCtx, protocol.Envelope{Type: protocol.TypeShutdown}); err != nil {
			s.logger.Debug("shutdown not delivered", logging.Error(err))
		}
	}()

	select {
	case <-h.released:
		return nil
	case <-timer.C:
		s.logger.Warn("worker ignored shutdown; killing",
			logging.String(logging.FieldEventType, "worker_grace_timeout"),
			logging.String(logging.FieldHandleID, h.id),
			logging.String(logging.FieldImpact, "worker terminated without a clean exit"),
			logging.String(logging.FieldErrorHint, "check the worker's shutdown handling"),
		)
		s.forceRelease(h, "grace timeout")
		return nil
	case <-ctx.Done():
		s.forceRelease(h, "stop cancelled")
		return ctx.Err()
	}
}

// Call sends a correlated request and waits for its reply or ctx. A worker
// whose inbox stays full past ctx fails the call with ctx's error.
func (s *Supervisor) Call(ctx context.Context, typ string, payload any, scope string) (json.RawMessage, error) {
	h, err := s.live()
	if err != nil {
		return nil, err
	}
	env, err := protocol.NewPush(typ, scope, payload)
	if err != nil {
		return nil, err
	}
	result, err := h.calls.Call(ctx, env)
	if errors.Is(err, rpc.ErrShutdown) || errors.Is(err, transport.ErrClosed) {
		// Released or exited between live and the call.
		return nil, ErrNotRunning
	}
	return result, err
}

// Send delivers an uncorrelated command without waiting. It fails with
// transport.ErrFull when the worker's inbox has no room.
func (s *Supervisor) Send(typ string, payload any, scope string) error {
	h, err := s.live()
	if err != nil {
		return err
	}
	env, err := protocol.NewPush(typ, scope, payload)
	if err != nil {
		return err
	}
	if err := h.conn.Send(nowait, env); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return ErrNotRunning
		}
		return fmt.Errorf("send %s to %s: %w", typ, s.kind.Name, err)
	}
	return nil
}

// nowait is already done, which turns Conn.Send into a non-blocking enqueue.
var nowait = func() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}()

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	st := Status{
		Kind:      s.kind.Name,
		State:     s.state,
		Since:     s.since,
		Transport: s.transport.Name(),
	}
	h := s.handle
	s.mu.Unlock()
	if h != nil {
		st.HandleID = h.id
		st.Pending = h.calls.Pending()
		st.LastID = h.calls.LastID()
	}
	return st
}

func (s *Supervisor) live() (*handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil || s.state == StateStopping {
		return nil, ErrNotRunning
	}
	return s.handle, nil
}

func (s *Supervisor) current(h *handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle == h
}

func (s *Supervisor) graceTimeout() time.Duration {
	if s.cfg == nil {
		return time.Second
	}
	return s.cfg.GraceTimeout()
}

func (s *Supervisor) rejectPending() bool {
	return s.cfg == nil || s.cfg.Workers.RejectPendingOnExit
}

func (s *Supervisor) forceRelease(h *handle, reason string) {
	if err := h.conn.Kill(); err != nil {
		s.logger.Debug("kill failed", logging.Error(err))
	}
	s.release(h, transport.Exit{Code: -1, Err: transport.ErrKilled}, reason)
}

// release tears down h exactly once. A non-empty forced reason marks a
// release that did not wait for the worker's own exit.
func (s *Supervisor) release(h *handle, exit transport.Exit, forced string) {
	s.mu.Lock()
	if s.handle != h {
		s.mu.Unlock()
		return
	}
	s.handle = nil
	s.state = StateAbsent
	s.since = time.Now()
	requested := h.shutdownSent
	s.mu.Unlock()

	var settled int
	if s.rejectPending() {
		settled = h.calls.Fail(ErrWorkerExited)
	} else {
		settled = h.calls.Detach()
	}

	evt := protocol.LifecycleEvent{Kind: s.kind.Name}
	switch {
	case forced != "":
		evt.Status = protocol.StatusStopped
		evt.Message = forced
	case requested && exit.Clean():
		evt.Status = protocol.StatusStopped
	default:
		evt.Status = protocol.StatusError
		evt.Message = exit.String()
	}

	attrs := []slog.Attr{
		logging.String(logging.FieldHandleID, h.id),
		logging.String("exit", exit.String()),
		logging.Int("pending_abandoned", settled),
	}
	if evt.Status == protocol.StatusError {
		logging.WarnWithContext(s.logger, "worker exited unexpectedly", "worker_exited",
			append(attrs,
				logging.String(logging.FieldImpact, "pending calls were abandoned"),
				logging.String(logging.FieldErrorHint, "restart the worker; check its logs for the cause"),
			)...)
	} else {
		attrs = append(attrs, logging.String(logging.FieldEventType, "worker_stopped"))
		s.logger.Info("worker stopped", logging.Args(attrs...)...)
	}
	// The terminal event precedes closing released.
	s.publish(evt)
	close(h.released)
}

func (s *Supervisor) publish(evt protocol.LifecycleEvent) {
	if s.events != nil {
		s.events.Publish(evt)
	}
}
