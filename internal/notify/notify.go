package notify

import "context"

// Event types emitted by the engine.
const (
	TypeAssignmentEscalated = "assignment_escalated"
	TypeEscalatedToYou      = "escalation_received"
	TypeQueueEscalated      = "queue_entry_escalated"
	TypeAssignmentAssigned  = "assignment_assigned"
	TypeReminder            = "assignment_reminder"
	TypeBulkCompleted       = "bulk_job_completed"
)

// Event is a structured notification handed to the external dispatcher.
type Event struct {
	UserID      string         `json:"user_id"`
	Type        string         `json:"type"`
	Message     string         `json:"message"`
	ReferenceID string         `json:"reference_id"`
	Data        map[string]any `json:"data,omitempty"`
}

// Dispatcher delivers events to users, best effort. Delivery failures
// never roll back the mutation that produced the event; callers log
// and continue.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Event) error
}
