package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/intl_dossier/backend/internal/db"
	"github.com/intl_dossier/backend/internal/hierarchy"
	"github.com/intl_dossier/backend/internal/models"
	"github.com/intl_dossier/backend/internal/notify"
)

func newBulkFixture(t *testing.T) (*BulkService, *db.Memory, *notify.MockDispatcher) {
	t.Helper()
	store := db.NewMemory()
	mock := &notify.MockDispatcher{}
	lifecycle := &LifecycleService{
		Store:    store,
		Resolver: hierarchy.NewResolver(store),
		Notifier: mock,
		Logger:   zerolog.Nop(),
		Now:      fixedClock,
		AdminID:  "admin-1",
	}
	svc := &BulkService{
		Store:     store,
		Lifecycle: lifecycle,
		Notifier:  mock,
		Logger:    zerolog.Nop(),
		Now:       fixedClock,
	}
	return svc, store, mock
}

// submitAndRun creates the job synchronously so tests observe the final
// state without sleeping.
func submitAndRun(t *testing.T, svc *BulkService, operation, requestedBy string, targets []string) models.BulkJob {
	t.Helper()
	job := models.BulkJob{
		ID: "job-1", Operation: operation, RequestedBy: requestedBy,
		TargetIDs: targets, Status: models.JobQueued,
		Total: len(targets), CreatedAt: testTime,
	}
	if err := svc.Store.CreateBulkJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	svc.run(context.Background(), job)

	final, err := svc.Store.GetBulkJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return final
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _ := newBulkFixture(t)

	_, err := svc.Submit(context.Background(), "archive", "admin-1", []string{"a-1"})
	if !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}

	_, err = svc.Submit(context.Background(), models.OpSendReminder, "admin-1", nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty targets, got %v", err)
	}

	big := make([]string, MaxBulkItems+1)
	for i := range big {
		big[i] = "a"
	}
	_, err = svc.Submit(context.Background(), models.OpSendReminder, "admin-1", big)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for oversized batch, got %v", err)
	}
}

func TestBulkRemindersMixedOutcomes(t *testing.T) {
	svc, store, mock := newBulkFixture(t)
	seedAssignment(t, store, "a-active", ref("officer-1"), models.StatusAssigned)
	seedAssignment(t, store, "a-done", ref("officer-1"), models.StatusCompleted)
	seedAssignment(t, store, "a-orphan", nil, models.StatusQueued)

	job := submitAndRun(t, svc, models.OpSendReminder, "admin-1",
		[]string{"a-active", "a-done", "a-orphan", "a-missing"})

	if job.Status != models.JobCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if job.Succeeded != 1 || job.Failed != 1 || job.Skipped != 2 {
		t.Fatalf("unexpected counters: %d/%d/%d", job.Succeeded, job.Failed, job.Skipped)
	}
	if job.Processed() != job.Total {
		t.Fatalf("processed %d != total %d", job.Processed(), job.Total)
	}

	byID := map[string]models.BulkItemResult{}
	for _, r := range job.Results {
		byID[r.AssignmentID] = r
	}
	if byID["a-active"].Outcome != models.OutcomeSuccess {
		t.Fatalf("a-active: %+v", byID["a-active"])
	}
	if byID["a-done"].Outcome != models.OutcomeSkipped {
		t.Fatalf("a-done: %+v", byID["a-done"])
	}
	if byID["a-orphan"].Outcome != models.OutcomeSkipped || byID["a-orphan"].Reason != "no assignee" {
		t.Fatalf("a-orphan: %+v", byID["a-orphan"])
	}
	if byID["a-missing"].Outcome != models.OutcomeFailed || byID["a-missing"].Reason != "assignment not found" {
		t.Fatalf("a-missing: %+v", byID["a-missing"])
	}

	a, err := store.GetAssignment(context.Background(), "a-active")
	if err != nil {
		t.Fatalf("get assignment: %v", err)
	}
	if a.LastReminderSentAt == nil {
		t.Fatal("expected last_reminder_sent_at stamped")
	}

	events := mock.Events()
	var reminders, summaries int
	for _, e := range events {
		switch e.Type {
		case notify.TypeReminder:
			reminders++
		case notify.TypeBulkCompleted:
			summaries++
			if e.UserID != "admin-1" {
				t.Fatalf("summary sent to %s", e.UserID)
			}
		}
	}
	if reminders != 1 || summaries != 1 {
		t.Fatalf("expected 1 reminder and 1 summary, got %d/%d", reminders, summaries)
	}
}

func TestBulkRemindersUnassignedTargetsSkipped(t *testing.T) {
	svc, store, _ := newBulkFixture(t)
	seedAssignment(t, store, "a-1", ref("officer-1"), models.StatusAssigned)
	seedAssignment(t, store, "a-2", ref("officer-1"), models.StatusAssigned)
	seedAssignment(t, store, "a-3", ref("officer-1"), models.StatusInProgress)
	seedAssignment(t, store, "a-4", nil, models.StatusQueued)
	seedAssignment(t, store, "a-5", nil, models.StatusQueued)

	job := submitAndRun(t, svc, models.OpSendReminder, "admin-1",
		[]string{"a-1", "a-2", "a-3", "a-4", "a-5"})

	if job.Succeeded != 3 || job.Failed != 0 || job.Skipped != 2 {
		t.Fatalf("expected 3/0/2, got %d/%d/%d", job.Succeeded, job.Failed, job.Skipped)
	}
	if job.Processed() != 5 {
		t.Fatalf("expected 5 processed, got %d", job.Processed())
	}
}

func TestBulkEscalateSkipsAlreadyEscalated(t *testing.T) {
	svc, store, _ := newBulkFixture(t)
	_, err := store.UpsertStaff(context.Background(), []models.StaffProfile{
		{UserID: "officer-1", UnitID: "unit-a", WIPLimit: 5, ReportsTo: ref("lead-1")},
		{UserID: "lead-1", UnitID: "unit-a", WIPLimit: 8},
	})
	if err != nil {
		t.Fatalf("seed staff: %v", err)
	}
	seedAssignment(t, store, "a-1", ref("officer-1"), models.StatusAssigned)
	seedAssignment(t, store, "a-2", ref("officer-1"), models.StatusAssigned)

	if _, err := svc.Lifecycle.Escalate(context.Background(), "a-2", "officer-1", models.ReasonManual, ""); err != nil {
		t.Fatalf("pre-escalate: %v", err)
	}

	job := submitAndRun(t, svc, models.OpEscalate, "admin-1", []string{"a-1", "a-2"})
	if job.Succeeded != 1 || job.Skipped != 1 || job.Failed != 0 {
		t.Fatalf("unexpected counters: %d/%d/%d", job.Succeeded, job.Skipped, job.Failed)
	}

	byID := map[string]models.BulkItemResult{}
	for _, r := range job.Results {
		byID[r.AssignmentID] = r
	}
	if byID["a-2"].Reason != "already escalated" {
		t.Fatalf("a-2: %+v", byID["a-2"])
	}
}

func TestBulkJobLifecycleTimestamps(t *testing.T) {
	svc, store, _ := newBulkFixture(t)
	seedAssignment(t, store, "a-1", ref("officer-1"), models.StatusAssigned)

	job := submitAndRun(t, svc, models.OpSendReminder, "admin-1", []string{"a-1"})
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatalf("expected start and completion timestamps: %+v", job)
	}

	// Submit path leaves the job queued until the goroutine starts it.
	queued, err := svc.Submit(context.Background(), models.OpSendReminder, "admin-1", []string{"a-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if queued.Status != models.JobQueued || queued.Total != 1 {
		t.Fatalf("unexpected queued job: %+v", queued)
	}
	if _, err := store.GetBulkJob(context.Background(), queued.ID); err != nil {
		t.Fatalf("queued job not persisted: %v", err)
	}
}
