package protocol

import (
	"encoding/json"
	"fmt"
)

// Reserved inbound message types.
const (
	TypeInit     = "init"
	TypeShutdown = "shutdown"
)

// Reserved outbound message types.
const (
	TypeReady     = "ready"
	TypeError     = "error"
	TypeRPCResult = "rpcResult"
	TypeRPCError  = "rpcError"
	TypeLifecycle = "lifecycle"
)

// Envelope is the single message shape crossing a worker channel in either direction.
type Envelope struct {
	Type    string          `json:"type" msgpack:"type"`
	ID      uint64          `json:"id,omitempty" msgpack:"id,omitempty"`
	Scope   string          `json:"scope,omitempty" msgpack:"scope,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty" msgpack:"payload,omitempty"`
	Result  json.RawMessage `json:"result,omitempty" msgpack:"result,omitempty"`
	Error   string          `json:"error,omitempty" msgpack:"error,omitempty"`
}

// IsReply reports whether the envelope settles a correlated request.
func (e Envelope) IsReply() bool {
	return e.Type == TypeRPCResult || e.Type == TypeRPCError
}

// NewMessage builds an envelope of the given type with payload marshaled as JSON.
// A nil payload leaves the Payload field empty.
func NewMessage(typ string, payload any) (Envelope, error) {
	env := Envelope{Type: typ}
	if payload == nil {
		return env, nil
	}
	raw, err := marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	env.Payload = raw
	return env, nil
}

// NewPush builds an outbound push envelope, optionally scoped.
func NewPush(typ, scope string, payload any) (Envelope, error) {
	env, err := NewMessage(typ, payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Scope = scope
	return env, nil
}

// Reply builds an rpcResult echoing the request id.
func Reply(id uint64, result any) (Envelope, error) {
	env := Envelope{Type: TypeRPCResult, ID: id}
	raw, err := marshal(result)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode result for id %d: %w", id, err)
	}
	env.Result = raw
	return env, nil
}

// ReplyError builds an rpcError echoing the request id.
func ReplyError(id uint64, message string) Envelope {
	return Envelope{Type: TypeRPCError, ID: id, Error: message}
}

// Fault builds a non-fatal outbound error report.
func Fault(message string) Envelope {
	return Envelope{Type: TypeError, Error: message}
}

// Decode unmarshals a raw payload or result into T. An empty input yields the zero value.
func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %T: %w", out, err)
	}
	return out, nil
}

func marshal(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
