package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/intl_dossier/backend/internal/db"
	"github.com/intl_dossier/backend/internal/models"
	"github.com/intl_dossier/backend/internal/notify"
	"github.com/intl_dossier/backend/internal/sla"
)

// MaxBulkItems caps the number of targets per bulk job.
const MaxBulkItems = 100

// BulkService runs batched operations over assignments asynchronously.
// Submit returns immediately; clients poll Get for progress.
type BulkService struct {
	Store     db.Store
	Lifecycle *LifecycleService
	Notifier  notify.Dispatcher
	Logger    zerolog.Logger
	Now       sla.Clock
}

func (s *BulkService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Submit validates and enqueues a bulk job, then processes it in the
// background. The returned job is in the queued state.
func (s *BulkService) Submit(ctx context.Context, operation, requestedBy string, targetIDs []string) (models.BulkJob, error) {
	switch operation {
	case models.OpSendReminder, models.OpEscalate:
	default:
		return models.BulkJob{}, ErrUnknownOperation
	}
	if len(targetIDs) == 0 || len(targetIDs) > MaxBulkItems {
		return models.BulkJob{}, ErrValidation
	}

	job := models.BulkJob{
		ID:          uuid.NewString(),
		Operation:   operation,
		RequestedBy: requestedBy,
		TargetIDs:   targetIDs,
		Status:      models.JobQueued,
		Total:       len(targetIDs),
		CreatedAt:   s.now(),
	}
	if err := s.Store.CreateBulkJob(ctx, job); err != nil {
		return models.BulkJob{}, err
	}

	go s.run(context.Background(), job)
	return job, nil
}

// Get returns the job with its current progress counters and per-item
// results.
func (s *BulkService) Get(ctx context.Context, id string) (models.BulkJob, error) {
	return s.Store.GetBulkJob(ctx, id)
}

// run processes every target and records an outcome per item. A failed
// item never aborts the job; only a store error marks the whole job
// failed.
func (s *BulkService) run(ctx context.Context, job models.BulkJob) {
	if err := s.Store.StartBulkJob(ctx, job.ID, s.now()); err != nil {
		s.Logger.Error().Err(err).Str("job_id", job.ID).Msg("start bulk job failed")
		return
	}

	for _, targetID := range job.TargetIDs {
		item := s.processItem(ctx, job.Operation, job.RequestedBy, targetID)
		if err := s.Store.RecordBulkItem(ctx, job.ID, item); err != nil {
			s.Logger.Error().Err(err).Str("job_id", job.ID).Msg("record bulk item failed")
			s.finish(ctx, job.ID, models.JobFailed)
			return
		}
	}

	s.finish(ctx, job.ID, models.JobCompleted)

	if s.Notifier != nil {
		final, err := s.Store.GetBulkJob(ctx, job.ID)
		if err != nil {
			s.Logger.Error().Err(err).Str("job_id", job.ID).Msg("load finished bulk job failed")
			return
		}
		err = s.Notifier.Dispatch(ctx, notify.Event{
			UserID:      job.RequestedBy,
			Type:        notify.TypeBulkCompleted,
			Message:     fmt.Sprintf("Bulk %s finished: %d succeeded, %d failed, %d skipped", job.Operation, final.Succeeded, final.Failed, final.Skipped),
			ReferenceID: job.ID,
		})
		if err != nil {
			s.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("notification dispatch failed")
		}
	}
}

func (s *BulkService) finish(ctx context.Context, jobID, status string) {
	if err := s.Store.FinishBulkJob(ctx, jobID, status, s.now()); err != nil {
		s.Logger.Error().Err(err).Str("job_id", jobID).Msg("finish bulk job failed")
	}
}

func (s *BulkService) processItem(ctx context.Context, operation, requestedBy, targetID string) models.BulkItemResult {
	result := models.BulkItemResult{AssignmentID: targetID}

	switch operation {
	case models.OpSendReminder:
		a, err := s.Store.GetAssignment(ctx, targetID)
		if err != nil {
			result.Outcome = models.OutcomeFailed
			result.Reason = itemReason(err)
			return result
		}
		if a.Terminal() {
			result.Outcome = models.OutcomeSkipped
			result.Reason = "assignment already " + a.Status
			return result
		}
		if a.AssigneeID == nil {
			result.Outcome = models.OutcomeSkipped
			result.Reason = "no assignee"
			return result
		}
		if s.Notifier != nil {
			err := s.Notifier.Dispatch(ctx, notify.Event{
				UserID:      *a.AssigneeID,
				Type:        notify.TypeReminder,
				Message:     fmt.Sprintf("Reminder: %s #%s is due %s", a.WorkItemType, a.WorkItemID, a.SLADeadline.Format(time.RFC3339)),
				ReferenceID: a.ID,
			})
			if err != nil {
				result.Outcome = models.OutcomeFailed
				result.Reason = "notification dispatch failed"
				return result
			}
		}
		if err := s.Store.MarkReminderSent(ctx, a.ID, s.now()); err != nil {
			result.Outcome = models.OutcomeFailed
			result.Reason = itemReason(err)
			return result
		}
		result.Outcome = models.OutcomeSuccess
		return result

	case models.OpEscalate:
		_, err := s.Lifecycle.Escalate(ctx, targetID, requestedBy, models.ReasonManual, "bulk escalation")
		switch {
		case err == nil:
			result.Outcome = models.OutcomeSuccess
		case errors.Is(err, ErrAlreadyEscalated):
			result.Outcome = models.OutcomeSkipped
			result.Reason = "already escalated"
		default:
			result.Outcome = models.OutcomeFailed
			result.Reason = itemReason(err)
		}
		return result
	}

	result.Outcome = models.OutcomeFailed
	result.Reason = "unknown operation"
	return result
}

func itemReason(err error) string {
	if errors.Is(err, db.ErrNotFound) {
		return "assignment not found"
	}
	return err.Error()
}
