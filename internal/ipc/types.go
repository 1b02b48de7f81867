package ipc

import (
	"encoding/json"
	"errors"

	"workerhub/internal/daemon"
	"workerhub/internal/hub"
	"workerhub/internal/rpc"
	"workerhub/internal/session"
	"workerhub/internal/supervisor"
	"workerhub/internal/transport"
)

// Fault codes carried in responses.
const (
	CodeNotRunning      = "not_running"
	CodeStopping        = "stopping"
	CodeUnknownKind     = "unknown_kind"
	CodeUnknownChannel  = "unknown_channel"
	CodeRemote          = "remote"
	CodeWorkerExited    = "worker_exited"
	CodeSessionClosed   = "session_closed"
	CodeSessionNotFound = "session_not_found"
	CodeTimeout         = "timeout"
	CodeBusy            = "busy"
	CodeInternal        = "internal"
)

// Fault is a failure reported inside a response.
type Fault struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (f *Fault) Error() string {
	return f.Message
}

// Is maps fault codes back to the hub's sentinel errors.
func (f *Fault) Is(target error) bool {
	switch f.Code {
	case CodeNotRunning:
		return target == supervisor.ErrNotRunning
	case CodeStopping:
		return target == supervisor.ErrStopping
	case CodeUnknownKind:
		return target == hub.ErrUnknownKind
	case CodeUnknownChannel:
		return target == hub.ErrUnknownChannel
	case CodeWorkerExited:
		return target == supervisor.ErrWorkerExited
	case CodeSessionClosed:
		return target == session.ErrClosed
	case CodeSessionNotFound:
		return target == session.ErrNotFound
	case CodeBusy:
		return target == transport.ErrFull
	}
	return false
}

// Err returns the fault as an error, or nil when none is set.
func (f Fault) Err() error {
	if f.Code == "" {
		return nil
	}
	return &f
}

func newFault(err error) Fault {
	if err == nil {
		return Fault{}
	}
	var remote *rpc.RemoteError
	code := CodeInternal
	switch {
	case errors.Is(err, supervisor.ErrNotRunning):
		code = CodeNotRunning
	case errors.Is(err, supervisor.ErrStopping):
		code = CodeStopping
	case errors.Is(err, hub.ErrUnknownKind):
		code = CodeUnknownKind
	case errors.Is(err, hub.ErrUnknownChannel):
		code = CodeUnknownChannel
	case errors.Is(err, supervisor.ErrWorkerExited):
		code = CodeWorkerExited
	case errors.Is(err, session.ErrClosed):
		code = CodeSessionClosed
	case errors.Is(err, session.ErrNotFound):
		code = CodeSessionNotFound
	case errors.As(err, &remote):
		code = CodeRemote
	case isTimeout(err):
		code = CodeTimeout
	case errors.Is(err, transport.ErrFull):
		code = CodeBusy
	}
	return Fault{Code: code, Message: err.Error()}
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse is the daemon and hub snapshot.
type StatusResponse struct {
	daemon.Status
}

// WorkerRequest names one worker kind.
type WorkerRequest struct {
	Kind string `json:"kind"`
}

// WorkerResponse reports the worker state after a start or stop.
type WorkerResponse struct {
	Worker supervisor.Status `json:"worker"`
	Fault  Fault             `json:"fault"`
}

// AllRequest targets every worker kind.
type AllRequest struct{}

// AllResponse reports every worker after StartAll or StopAll.
type AllResponse struct {
	Workers []supervisor.Status `json:"workers"`
	Fault   Fault               `json:"fault"`
}

// CallRequest issues a correlated request to a worker.
type CallRequest struct {
	Kind      string          `json:"kind"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Scope     string          `json:"scope,omitempty"`
	TimeoutMs int             `json:"timeoutMs,omitempty"`
}

// CallResponse carries the worker's result.
type CallResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Fault  Fault           `json:"fault"`
}

// SendRequest delivers an uncorrelated command.
type SendRequest struct {
	Kind    string          `json:"kind"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Scope   string          `json:"scope,omitempty"`
}

// SendResponse reports delivery.
type SendResponse struct {
	Fault Fault `json:"fault"`
}

// OpenSessionRequest creates a display target.
type OpenSessionRequest struct {
	Label   string `json:"label"`
	Primary bool   `json:"primary"`
}

// OpenSessionResponse identifies the new session.
type OpenSessionResponse struct {
	ID      string `json:"id"`
	Primary bool   `json:"primary"`
}

// SessionRequest names a session.
type SessionRequest struct {
	Session string `json:"session"`
}

// SessionResponse reports a session operation.
type SessionResponse struct {
	Fault Fault `json:"fault"`
}

// SubscribeRequest registers or unregisters a session on a channel and scope.
type SubscribeRequest struct {
	Session string `json:"session"`
	Channel string `json:"channel"`
	Scope   string `json:"scope,omitempty"`
}

// PollRequest reads a session mailbox.
type PollRequest struct {
	Session string `json:"session"`
	Since   uint64 `json:"since"`
	Limit   int    `json:"limit,omitempty"`
	WaitMs  int    `json:"waitMs,omitempty"`
}

// PollResponse carries mailbox messages and the next cursor.
type PollResponse struct {
	Messages []session.Message `json:"messages"`
	Next     uint64            `json:"next"`
	Fault    Fault             `json:"fault"`
}

// TestNotificationRequest triggers a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification result.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
