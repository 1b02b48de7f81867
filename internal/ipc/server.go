package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"workerhub/internal/daemon"
	"workerhub/internal/logging"
	"workerhub/internal/session"
	"workerhub/internal/supervisor"
)

const maxPollWait = 30 * time.Second

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName("Hub", srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String("impact", "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.track(conn, true)
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.track(c, false)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

func (s *Server) track(c net.Conn, add bool) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if add {
		s.conns[c] = struct{}{}
		return
	}
	delete(s.conns, c)
}

// Close stops the server, drops open client connections and removes the
// socket file. Long polls in flight are woken by the cancelled context.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.connMu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.connMu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String("impact", "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually before restarting"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String("component", "ipc"))
}

func (s *service) callContext(timeoutMs int) (context.Context, context.CancelFunc) {
	if timeoutMs > 0 {
		return context.WithTimeout(s.ctx, time.Duration(timeoutMs)*time.Millisecond)
	}
	return context.WithCancel(s.ctx)
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = s.daemon.Status()
	return nil
}

func (s *service) WorkerStart(req WorkerRequest, resp *WorkerResponse) error {
	h := s.daemon.Hub()
	err := h.Start(s.ctx, req.Kind)
	resp.Fault = newFault(err)
	if err == nil {
		s.log().Info("worker started via IPC",
			logging.String("kind", req.Kind),
			logging.String(logging.FieldEventType, "worker_start_requested"))
	}
	resp.Worker = workerStatus(s, req.Kind)
	return nil
}

func (s *service) WorkerStop(req WorkerRequest, resp *WorkerResponse) error {
	h := s.daemon.Hub()
	err := h.Stop(s.ctx, req.Kind)
	resp.Fault = newFault(err)
	if err == nil {
		s.log().Info("worker stopped via IPC",
			logging.String("kind", req.Kind),
			logging.String(logging.FieldEventType, "worker_stop_requested"))
	}
	resp.Worker = workerStatus(s, req.Kind)
	return nil
}

func workerStatus(s *service, kind string) (st supervisor.Status) {
	for _, w := range s.daemon.Hub().Status().Workers {
		if w.Kind == kind {
			return w
		}
	}
	st.Kind = kind
	return st
}

func (s *service) StartAll(_ AllRequest, resp *AllResponse) error {
	h := s.daemon.Hub()
	resp.Fault = newFault(h.StartAll(s.ctx))
	resp.Workers = h.Status().Workers
	return nil
}

func (s *service) StopAll(_ AllRequest, resp *AllResponse) error {
	h := s.daemon.Hub()
	resp.Fault = newFault(h.StopAll(s.ctx))
	resp.Workers = h.Status().Workers
	return nil
}

func (s *service) Call(req CallRequest, resp *CallResponse) error {
	ctx, cancel := s.callContext(req.TimeoutMs)
	defer cancel()
	result, err := s.daemon.Hub().Call(ctx, req.Kind, req.Type, rawPayload(req.Payload), req.Scope)
	if err != nil {
		resp.Fault = newFault(err)
		return nil
	}
	resp.Result = result
	return nil
}

func (s *service) Send(req SendRequest, resp *SendResponse) error {
	resp.Fault = newFault(s.daemon.Hub().Send(req.Kind, req.Type, rawPayload(req.Payload), req.Scope))
	return nil
}

func (s *service) OpenSession(req OpenSessionRequest, resp *OpenSessionResponse) error {
	h := s.daemon.Hub()
	sess := h.OpenSession(req.Label, req.Primary)
	resp.ID = sess.ID()
	if primary, ok := h.PrimarySession(); ok {
		resp.Primary = primary.ID() == sess.ID()
	}
	s.log().Debug("session opened",
		logging.String("session", resp.ID),
		logging.String("label", req.Label))
	return nil
}

func (s *service) CloseSession(req SessionRequest, resp *SessionResponse) error {
	resp.Fault = newFault(s.daemon.Hub().CloseSession(req.Session))
	return nil
}

func (s *service) Subscribe(req SubscribeRequest, resp *SessionResponse) error {
	resp.Fault = newFault(s.daemon.Hub().Register(req.Channel, req.Scope, req.Session))
	return nil
}

func (s *service) Unsubscribe(req SubscribeRequest, resp *SessionResponse) error {
	resp.Fault = newFault(s.daemon.Hub().Unregister(req.Channel, req.Scope, req.Session))
	return nil
}

func (s *service) Poll(req PollRequest, resp *PollResponse) error {
	sess, err := s.daemon.Hub().Session(req.Session)
	if err != nil {
		resp.Fault = newFault(err)
		return nil
	}
	wait := time.Duration(req.WaitMs) * time.Millisecond
	if wait > maxPollWait {
		wait = maxPollWait
	}
	ctx, cancel := context.WithTimeout(s.ctx, wait)
	defer cancel()
	msgs, next, err := sess.Poll(ctx, req.Since, req.Limit, wait > 0)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		resp.Fault = newFault(err)
		return nil
	}
	if msgs == nil {
		msgs = []session.Message{}
	}
	resp.Messages = msgs
	resp.Next = next
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, msg, err := s.daemon.TestNotification(s.ctx)
	if err != nil {
		return err
	}
	resp.Sent = sent
	resp.Message = msg
	return nil
}

func rawPayload(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
