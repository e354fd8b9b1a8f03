package db

import (
	"context"
	"errors"
	"time"

	"github.com/intl_dossier/backend/internal/models"
)

var (
	// ErrNotFound is returned for any missing record.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateEscalation is returned when an unacknowledged
	// escalation already exists for the target. Backed by a partial
	// unique index in Postgres; the memory store checks explicitly.
	ErrDuplicateEscalation = errors.New("duplicate unacknowledged escalation")

	// ErrTerminalState is returned when a status update targets an
	// assignment already completed or cancelled. Enforced inside the
	// store so concurrent transitions cannot both win.
	ErrTerminalState = errors.New("assignment already in terminal state")
)

// Store is the persistence contract for the engine. Postgres is the
// production implementation; Memory backs tests and DB-less runs.
type Store interface {
	Ping(ctx context.Context) error
	Close()

	UpsertStaff(ctx context.Context, staff []models.StaffProfile) (int64, error)
	UpsertUnits(ctx context.Context, units []models.OrganizationalUnit) (int64, error)
	GetStaff(ctx context.Context, userID string) (models.StaffProfile, error)
	ListStaff(ctx context.Context, unitID, skill string) ([]models.StaffProfile, error)
	ListUnits(ctx context.Context) ([]models.OrganizationalUnit, error)

	CreateAssignment(ctx context.Context, a models.Assignment) error
	GetAssignment(ctx context.Context, id string) (models.Assignment, error)
	ListAssignmentsByAssignee(ctx context.Context, userID string, statuses []string) ([]models.Assignment, error)
	UpdateAssignmentStatus(ctx context.Context, id, status string, completedAt *time.Time) error
	MarkEscalated(ctx context.Context, id string, at time.Time, recipientID string) error
	MarkReminderSent(ctx context.Context, id string, at time.Time) error
	OpenAssignmentCounts(ctx context.Context) (map[string]int, error)

	InsertEscalation(ctx context.Context, e models.EscalationEvent) error
	GetEscalation(ctx context.Context, id string) (models.EscalationEvent, error)
	AcknowledgeEscalation(ctx context.Context, id, notes string, at time.Time) (models.EscalationEvent, error)

	Enqueue(ctx context.Context, e models.AssignmentQueueEntry) error
	GetQueueEntry(ctx context.Context, id string) (models.AssignmentQueueEntry, error)
	ListQueue(ctx context.Context) ([]models.AssignmentQueueEntry, error)
	IncrementQueueAttempts(ctx context.Context, id string) (int, error)
	RemoveQueueEntry(ctx context.Context, id string) error

	CreateBulkJob(ctx context.Context, j models.BulkJob) error
	GetBulkJob(ctx context.Context, id string) (models.BulkJob, error)
	StartBulkJob(ctx context.Context, id string, at time.Time) error
	RecordBulkItem(ctx context.Context, jobID string, item models.BulkItemResult) error
	FinishBulkJob(ctx context.Context, id, status string, at time.Time) error

	CreateRun(ctx context.Context, status string) (string, error)
	FinishRun(ctx context.Context, runID, status string, summary []byte) error
	GetLatestRun(ctx context.Context) (models.Run, error)
}
