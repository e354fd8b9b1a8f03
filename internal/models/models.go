package models

import "time"

// Assignment statuses. Terminal states are completed and cancelled.
const (
	StatusQueued     = "queued"
	StatusAssigned   = "assigned"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Priorities, highest first when ordering queue entries.
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// Escalation reasons accepted by the lifecycle manager.
const (
	ReasonManual             = "manual"
	ReasonSLABreach          = "sla_breach"
	ReasonCapacityExhaustion = "capacity_exhaustion"
)

// Bulk job statuses.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Bulk job operation kinds.
const (
	OpSendReminder = "send_reminder"
	OpEscalate     = "escalate"
)

type Assignment struct {
	ID                    string     `json:"id"`
	WorkItemType          string     `json:"work_item_type"`
	WorkItemID            string     `json:"work_item_id"`
	AssigneeID            *string    `json:"assignee_id"`
	AssignedBy            string     `json:"assigned_by,omitempty"`
	Priority              string     `json:"priority"`
	Status                string     `json:"status"`
	RequiredSkills        []string   `json:"required_skills,omitempty"`
	AssignedAt            time.Time  `json:"assigned_at"`
	SLADeadline           time.Time  `json:"sla_deadline"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	EscalatedAt           *time.Time `json:"escalated_at,omitempty"`
	EscalationRecipientID *string    `json:"escalation_recipient_id,omitempty"`
	LastReminderSentAt    *time.Time `json:"last_reminder_sent_at,omitempty"`
}

// Terminal reports whether the assignment reached a final state.
func (a Assignment) Terminal() bool {
	return a.Status == StatusCompleted || a.Status == StatusCancelled
}

// EscalationEvent is the audit record of one escalation. Exactly one of
// AssignmentID and QueueEntryID is set. Immutable after creation except
// for the acknowledgement fields.
type EscalationEvent struct {
	ID             string     `json:"id"`
	AssignmentID   *string    `json:"assignment_id,omitempty"`
	QueueEntryID   *string    `json:"queue_entry_id,omitempty"`
	EscalatedFrom  string     `json:"escalated_from"`
	EscalatedTo    string     `json:"escalated_to"`
	Reason         string     `json:"reason"`
	Notes          string     `json:"notes,omitempty"`
	EscalatedAt    time.Time  `json:"escalated_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

type StaffProfile struct {
	UserID            string    `json:"user_id"`
	FullName          string    `json:"full_name"`
	UnitID            string    `json:"unit_id"`
	Role              string    `json:"role"`
	Skills            []string  `json:"skills"`
	WIPLimit          int       `json:"wip_limit"`
	ReportsTo         *string   `json:"reports_to,omitempty"`
	EscalationChainID *string   `json:"escalation_chain_id,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type OrganizationalUnit struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	WIPLimit int    `json:"wip_limit"`
}

type AssignmentQueueEntry struct {
	ID             string    `json:"id"`
	WorkItemType   string    `json:"work_item_type"`
	WorkItemID     string    `json:"work_item_id"`
	RequiredSkills []string  `json:"required_skills"`
	Priority       string    `json:"priority"`
	Attempts       int       `json:"attempts"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// Item outcomes recorded by the bulk job processor. Skipped is a
// non-failing outcome (e.g. "no assignee").
const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

type BulkItemResult struct {
	AssignmentID string `json:"assignment_id"`
	Outcome      string `json:"outcome"`
	Reason       string `json:"reason,omitempty"`
}

type BulkJob struct {
	ID          string           `json:"id"`
	Operation   string           `json:"operation"`
	RequestedBy string           `json:"requested_by"`
	TargetIDs   []string         `json:"target_ids"`
	Status      string           `json:"status"`
	Total       int              `json:"total"`
	Succeeded   int              `json:"succeeded"`
	Failed      int              `json:"failed"`
	Skipped     int              `json:"skipped"`
	Results     []BulkItemResult `json:"results"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Processed is the number of items with a recorded outcome.
func (j BulkJob) Processed() int {
	return j.Succeeded + j.Failed + j.Skipped
}

// Run is the audit record of one auto-assignment sweep.
type Run struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Status     string     `json:"status"`
	Summary    []byte     `json:"summary"`
}

// PriorityRank maps a priority to its ordering weight, urgent highest.
// Unknown priorities rank below low.
func PriorityRank(p string) int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// ValidReason reports whether reason is a recognized escalation reason.
func ValidReason(reason string) bool {
	switch reason {
	case ReasonManual, ReasonSLABreach, ReasonCapacityExhaustion:
		return true
	}
	return false
}

// ValidPriority reports whether p is a recognized priority.
func ValidPriority(p string) bool {
	return PriorityRank(p) > 0
}
