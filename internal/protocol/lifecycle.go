package protocol

// LifecycleStatus is the status carried by a lifecycle event.
type LifecycleStatus string

const (
	StatusStarted LifecycleStatus = "started"
	StatusStopped LifecycleStatus = "stopped"
	StatusError   LifecycleStatus = "error"
)

// LifecycleEvent reports a worker state transition. Events are not retried or persisted.
type LifecycleEvent struct {
	Kind    string          `json:"kind" msgpack:"kind"`
	Status  LifecycleStatus `json:"status" msgpack:"status"`
	Message string          `json:"message,omitempty" msgpack:"message,omitempty"`
}

// Severity classifies toast notifications.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Rank orders severities from success (0) to error (3). Unknown values rank as info.
func (s Severity) Rank() int {
	switch s {
	case SeveritySuccess:
		return 0
	case SeverityWarning:
		return 2
	case SeverityError:
		return 3
	default:
		return 1
	}
}

// Toast is a short human-readable notification for the primary display target.
type Toast struct {
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	TimeoutMs int      `json:"timeoutMs,omitempty"`
}

// FaultReport is delivered on a kind's fault channel for non-fatal worker errors.
type FaultReport struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
