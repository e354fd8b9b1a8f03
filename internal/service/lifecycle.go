package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/intl_dossier/backend/internal/db"
	"github.com/intl_dossier/backend/internal/hierarchy"
	"github.com/intl_dossier/backend/internal/models"
	"github.com/intl_dossier/backend/internal/notify"
	"github.com/intl_dossier/backend/internal/sla"
)

// SLAWindow is the deadline window granted to a newly assigned work
// item, by priority.
func SLAWindow(priority string) time.Duration {
	switch priority {
	case models.PriorityUrgent:
		return 8 * time.Hour
	case models.PriorityHigh:
		return 24 * time.Hour
	case models.PriorityLow:
		return 120 * time.Hour
	default:
		return 48 * time.Hour
	}
}

// LifecycleService owns the assignment state machine. All mutations of
// assignment and escalation records go through here.
type LifecycleService struct {
	Store    db.Store
	Resolver hierarchy.Resolver
	Notifier notify.Dispatcher
	Logger   zerolog.Logger
	Now      sla.Clock
	AdminID  string
}

func (s *LifecycleService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Escalate routes an assignment to the assignee's supervisor, creating
// the audit event and notifying both parties. The duplicate check is
// enforced by the store's uniqueness constraint, not a lock.
func (s *LifecycleService) Escalate(ctx context.Context, assignmentID, actorID, reason, notes string) (models.EscalationEvent, error) {
	if !models.ValidReason(reason) {
		return models.EscalationEvent{}, ErrInvalidReason
	}

	a, err := s.Store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return models.EscalationEvent{}, err
	}

	recipient := s.AdminID
	if a.AssigneeID != nil {
		recipient, err = s.Resolver.Recipient(ctx, *a.AssigneeID, s.AdminID)
		if err != nil {
			return models.EscalationEvent{}, err
		}
	}

	now := s.now()
	event := models.EscalationEvent{
		ID:            uuid.NewString(),
		AssignmentID:  &a.ID,
		EscalatedFrom: actorID,
		EscalatedTo:   recipient,
		Reason:        reason,
		Notes:         notes,
		EscalatedAt:   now,
	}

	if err := s.Store.InsertEscalation(ctx, event); err != nil {
		if errors.Is(err, db.ErrDuplicateEscalation) {
			return models.EscalationEvent{}, ErrAlreadyEscalated
		}
		return models.EscalationEvent{}, err
	}
	if err := s.Store.MarkEscalated(ctx, a.ID, now, recipient); err != nil {
		return models.EscalationEvent{}, err
	}

	if a.AssigneeID != nil {
		s.dispatch(ctx, notify.Event{
			UserID:      *a.AssigneeID,
			Type:        notify.TypeAssignmentEscalated,
			Message:     fmt.Sprintf("Your assignment %s #%s was escalated to a supervisor", a.WorkItemType, a.WorkItemID),
			ReferenceID: a.ID,
			Data:        map[string]any{"escalation_id": event.ID, "reason": reason},
		})
	}
	s.dispatch(ctx, notify.Event{
		UserID:      recipient,
		Type:        notify.TypeEscalatedToYou,
		Message:     fmt.Sprintf("An assignment (%s #%s, priority %s) was escalated to you", a.WorkItemType, a.WorkItemID, a.Priority),
		ReferenceID: a.ID,
		Data:        map[string]any{"escalation_id": event.ID, "reason": reason},
	})

	return event, nil
}

// EscalateQueueEntry escalates a still-unassigned work item to the
// configured admin, typically after auto-assignment capacity
// exhaustion.
func (s *LifecycleService) EscalateQueueEntry(ctx context.Context, entryID, actorID, reason, notes string) (models.EscalationEvent, error) {
	if !models.ValidReason(reason) {
		return models.EscalationEvent{}, ErrInvalidReason
	}

	e, err := s.Store.GetQueueEntry(ctx, entryID)
	if err != nil {
		return models.EscalationEvent{}, err
	}

	now := s.now()
	event := models.EscalationEvent{
		ID:            uuid.NewString(),
		QueueEntryID:  &e.ID,
		EscalatedFrom: actorID,
		EscalatedTo:   s.AdminID,
		Reason:        reason,
		Notes:         notes,
		EscalatedAt:   now,
	}

	if err := s.Store.InsertEscalation(ctx, event); err != nil {
		if errors.Is(err, db.ErrDuplicateEscalation) {
			return models.EscalationEvent{}, ErrAlreadyEscalated
		}
		return models.EscalationEvent{}, err
	}

	s.dispatch(ctx, notify.Event{
		UserID:      s.AdminID,
		Type:        notify.TypeQueueEscalated,
		Message:     fmt.Sprintf("Queued work item %s #%s was escalated (%s)", e.WorkItemType, e.WorkItemID, reason),
		ReferenceID: e.ID,
		Data:        map[string]any{"escalation_id": event.ID, "attempts": e.Attempts},
	})

	return event, nil
}

// AcknowledgeEscalation stamps acknowledged_at and stores the notes. A
// repeat acknowledgement overwrites notes rather than failing.
func (s *LifecycleService) AcknowledgeEscalation(ctx context.Context, escalationID, notes string) (models.EscalationEvent, error) {
	return s.Store.AcknowledgeEscalation(ctx, escalationID, notes, s.now())
}

func (s *LifecycleService) Complete(ctx context.Context, assignmentID string) (models.Assignment, error) {
	return s.finish(ctx, assignmentID, models.StatusCompleted)
}

func (s *LifecycleService) Cancel(ctx context.Context, assignmentID string) (models.Assignment, error) {
	return s.finish(ctx, assignmentID, models.StatusCancelled)
}

// finish transitions an assignment into a terminal state. The store
// enforces the forward-only rule, so racing transitions cannot both
// succeed.
func (s *LifecycleService) finish(ctx context.Context, assignmentID, status string) (models.Assignment, error) {
	a, err := s.Store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return models.Assignment{}, err
	}

	now := s.now()
	if err := s.Store.UpdateAssignmentStatus(ctx, a.ID, status, &now); err != nil {
		if errors.Is(err, db.ErrTerminalState) {
			return models.Assignment{}, ErrAlreadyTerminal
		}
		return models.Assignment{}, err
	}
	a.Status = status
	a.CompletedAt = &now
	return a, nil
}

// AssignmentWithSLA is an assignment annotated with derived SLA fields
// at read time.
type AssignmentWithSLA struct {
	models.Assignment
	SLA sla.Snapshot `json:"sla"`
}

// ListMine returns a user's assignments sorted by ascending SLA
// deadline. Completed and cancelled assignments are excluded unless
// includeCompleted is set or an explicit status filter names them.
func (s *LifecycleService) ListMine(ctx context.Context, userID string, statuses []string, includeCompleted bool) ([]AssignmentWithSLA, error) {
	filter := statuses
	if len(filter) == 0 && !includeCompleted {
		filter = []string{models.StatusQueued, models.StatusAssigned, models.StatusInProgress}
	}

	items, err := s.Store.ListAssignmentsByAssignee(ctx, userID, filter)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]AssignmentWithSLA, 0, len(items))
	for _, a := range items {
		out = append(out, AssignmentWithSLA{
			Assignment: a,
			SLA:        sla.Compute(a.AssignedAt, a.SLADeadline, now),
		})
	}
	return out, nil
}

// IntakeRequest describes a work item entering the system, either
// pre-assigned or bound for the waiting queue.
type IntakeRequest struct {
	WorkItemType   string
	WorkItemID     string
	AssigneeID     *string
	AssignedBy     string
	Priority       string
	RequiredSkills []string
}

// Intake creates an assignment when an assignee is given, otherwise
// enqueues the work item for auto-assignment. Returns whichever record
// was created.
func (s *LifecycleService) Intake(ctx context.Context, req IntakeRequest) (*models.Assignment, *models.AssignmentQueueEntry, error) {
	if !models.ValidPriority(req.Priority) {
		return nil, nil, ErrValidation
	}
	if req.WorkItemType == "" || req.WorkItemID == "" {
		return nil, nil, ErrValidation
	}

	now := s.now()
	if req.AssigneeID != nil && *req.AssigneeID != "" {
		a := models.Assignment{
			ID:             uuid.NewString(),
			WorkItemType:   req.WorkItemType,
			WorkItemID:     req.WorkItemID,
			AssigneeID:     req.AssigneeID,
			AssignedBy:     req.AssignedBy,
			Priority:       req.Priority,
			Status:         models.StatusAssigned,
			RequiredSkills: req.RequiredSkills,
			AssignedAt:     now,
			SLADeadline:    now.Add(SLAWindow(req.Priority)),
		}
		if err := s.Store.CreateAssignment(ctx, a); err != nil {
			return nil, nil, err
		}
		s.dispatch(ctx, notify.Event{
			UserID:      *req.AssigneeID,
			Type:        notify.TypeAssignmentAssigned,
			Message:     fmt.Sprintf("You were assigned %s #%s (priority %s)", a.WorkItemType, a.WorkItemID, a.Priority),
			ReferenceID: a.ID,
		})
		return &a, nil, nil
	}

	e := models.AssignmentQueueEntry{
		ID:             uuid.NewString(),
		WorkItemType:   req.WorkItemType,
		WorkItemID:     req.WorkItemID,
		RequiredSkills: req.RequiredSkills,
		Priority:       req.Priority,
		EnqueuedAt:     now,
	}
	if err := s.Store.Enqueue(ctx, e); err != nil {
		return nil, nil, err
	}
	return nil, &e, nil
}

// dispatch delivers a notification best effort. Failures are logged
// and never roll back the mutation that produced the event.
func (s *LifecycleService) dispatch(ctx context.Context, e notify.Event) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Dispatch(ctx, e); err != nil {
		s.Logger.Warn().Err(err).Str("user_id", e.UserID).Str("type", e.Type).Msg("notification dispatch failed")
	}
}
