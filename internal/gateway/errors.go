package gateway

import "fmt"

// ProtocolError is raised by a plugin when the backend rejected the request
// or was unreachable. It carries the backend's human-readable message and the
// full raw response for audit.
type ProtocolError struct {
	Gateway     string
	Message     string
	RawResponse map[string]any
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Gateway, e.Message)
}

// ValidationError marks a structurally invalid plugin response. It never
// reaches callers directly; the orchestration layer converts it into a failed
// transaction plus a payment error.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "gateway response invalid: " + e.Reason
}
