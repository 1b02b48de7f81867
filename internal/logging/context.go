package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldWorkerKind is the standardized key for worker kind names (metrics, search, ...).
	FieldWorkerKind = "worker_kind"
	// FieldHandleID identifies one running instance of a worker kind.
	FieldHandleID = "handle_id"
	// FieldCorrelationID is the standardized key for RPC correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldChannel is the standardized key for push channel identifiers.
	FieldChannel = "channel"
	// FieldScope is the standardized key for push scopes.
	FieldScope = "scope"
	// FieldSessionID is the standardized key for display target sessions.
	FieldSessionID = "session_id"
	// FieldMessageType is the standardized key for envelope types.
	FieldMessageType = "message_type"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint carries the suggested next step for an operator.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
)

type contextKey int

const (
	workerKindKey contextKey = iota
	sessionIDKey
	requestIDKey
)

// WithWorkerKind tags ctx with a worker kind for log enrichment.
func WithWorkerKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, workerKindKey, kind)
}

// WithSessionID tags ctx with the session that issued a request.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// WithRequestID tags ctx with an IPC request identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if kind, ok := ctx.Value(workerKindKey).(string); ok && kind != "" {
		fields = append(fields, slog.String(FieldWorkerKind, kind))
	}
	if id, ok := ctx.Value(sessionIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldSessionID, id))
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String("request_id", id))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
