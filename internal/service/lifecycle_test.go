package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/intl_dossier/backend/internal/db"
	"github.com/intl_dossier/backend/internal/hierarchy"
	"github.com/intl_dossier/backend/internal/models"
	"github.com/intl_dossier/backend/internal/notify"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testTime }

func ref(s string) *string { return &s }

func newLifecycleFixture(t *testing.T) (*LifecycleService, *db.Memory, *notify.MockDispatcher) {
	t.Helper()
	store := db.NewMemory()
	mock := &notify.MockDispatcher{}
	svc := &LifecycleService{
		Store:    store,
		Resolver: hierarchy.NewResolver(store),
		Notifier: mock,
		Logger:   zerolog.Nop(),
		Now:      fixedClock,
		AdminID:  "admin-1",
	}
	return svc, store, mock
}

func seedStaff(t *testing.T, store *db.Memory) {
	t.Helper()
	_, err := store.UpsertStaff(context.Background(), []models.StaffProfile{
		{UserID: "officer-1", FullName: "Nadia Osei", UnitID: "unit-a", Role: "officer", Skills: []string{"bilateral"}, WIPLimit: 5, ReportsTo: ref("lead-1")},
		{UserID: "lead-1", FullName: "Tomas Berg", UnitID: "unit-a", Role: "lead", WIPLimit: 8, ReportsTo: ref("director-1")},
		{UserID: "director-1", FullName: "Ava Lindqvist", UnitID: "unit-a", Role: "director", WIPLimit: 10},
	})
	if err != nil {
		t.Fatalf("seed staff: %v", err)
	}
}

func seedAssignment(t *testing.T, store *db.Memory, id string, assignee *string, status string) models.Assignment {
	t.Helper()
	a := models.Assignment{
		ID:           id,
		WorkItemType: "dossier",
		WorkItemID:   "d-100",
		AssigneeID:   assignee,
		Priority:     models.PriorityHigh,
		Status:       status,
		AssignedAt:   testTime.Add(-6 * time.Hour),
		SLADeadline:  testTime.Add(18 * time.Hour),
	}
	if err := store.CreateAssignment(context.Background(), a); err != nil {
		t.Fatalf("seed assignment: %v", err)
	}
	return a
}

func TestEscalateRoutesToSupervisor(t *testing.T) {
	svc, store, mock := newLifecycleFixture(t)
	seedStaff(t, store)
	seedAssignment(t, store, "a-1", ref("officer-1"), models.StatusAssigned)

	event, err := svc.Escalate(context.Background(), "a-1", "officer-1", models.ReasonManual, "need guidance")
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if event.EscalatedTo != "lead-1" {
		t.Fatalf("expected recipient lead-1, got %s", event.EscalatedTo)
	}

	a, err := store.GetAssignment(context.Background(), "a-1")
	if err != nil {
		t.Fatalf("get assignment: %v", err)
	}
	if a.EscalatedAt == nil || !a.EscalatedAt.Equal(testTime) {
		t.Fatalf("expected escalated_at %v, got %v", testTime, a.EscalatedAt)
	}
	if a.EscalationRecipientID == nil || *a.EscalationRecipientID != "lead-1" {
		t.Fatalf("expected recipient lead-1 on assignment, got %v", a.EscalationRecipientID)
	}

	events := mock.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(events))
	}
	if events[0].UserID != "officer-1" || events[0].Type != notify.TypeAssignmentEscalated {
		t.Fatalf("unexpected first notification: %+v", events[0])
	}
	if events[1].UserID != "lead-1" || events[1].Type != notify.TypeEscalatedToYou {
		t.Fatalf("unexpected second notification: %+v", events[1])
	}
}

func TestEscalateDuplicateRejected(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	seedStaff(t, store)
	seedAssignment(t, store, "a-1", ref("officer-1"), models.StatusAssigned)

	if _, err := svc.Escalate(context.Background(), "a-1", "officer-1", models.ReasonManual, ""); err != nil {
		t.Fatalf("first escalate: %v", err)
	}
	_, err := svc.Escalate(context.Background(), "a-1", "officer-1", models.ReasonManual, "")
	if !errors.Is(err, ErrAlreadyEscalated) {
		t.Fatalf("expected ErrAlreadyEscalated, got %v", err)
	}
}

func TestEscalateAfterAcknowledgeAllowed(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	seedStaff(t, store)
	seedAssignment(t, store, "a-1", ref("officer-1"), models.StatusAssigned)

	event, err := svc.Escalate(context.Background(), "a-1", "officer-1", models.ReasonManual, "")
	if err != nil {
		t.Fatalf("first escalate: %v", err)
	}
	ack, err := svc.AcknowledgeEscalation(context.Background(), event.ID, "handled")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if ack.AcknowledgedAt == nil || ack.Notes != "handled" {
		t.Fatalf("unexpected acknowledged event: %+v", ack)
	}

	if _, err := svc.Escalate(context.Background(), "a-1", "officer-1", models.ReasonSLABreach, ""); err != nil {
		t.Fatalf("second escalate after ack: %v", err)
	}
}

func TestEscalateInvalidReason(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	seedStaff(t, store)
	seedAssignment(t, store, "a-1", ref("officer-1"), models.StatusAssigned)

	_, err := svc.Escalate(context.Background(), "a-1", "officer-1", "because", "")
	if !errors.Is(err, ErrInvalidReason) {
		t.Fatalf("expected ErrInvalidReason, got %v", err)
	}
}

func TestEscalateUnknownAssignment(t *testing.T) {
	svc, _, _ := newLifecycleFixture(t)

	_, err := svc.Escalate(context.Background(), "missing", "officer-1", models.ReasonManual, "")
	if !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEscalateCircularHierarchy(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	_, err := store.UpsertStaff(context.Background(), []models.StaffProfile{
		{UserID: "u-a", UnitID: "unit-a", WIPLimit: 5, ReportsTo: ref("u-b")},
		{UserID: "u-b", UnitID: "unit-a", WIPLimit: 5, ReportsTo: ref("u-a")},
	})
	if err != nil {
		t.Fatalf("seed staff: %v", err)
	}
	seedAssignment(t, store, "a-1", ref("u-a"), models.StatusAssigned)

	_, err = svc.Escalate(context.Background(), "a-1", "u-a", models.ReasonManual, "")
	if !errors.Is(err, hierarchy.ErrCircular) {
		t.Fatalf("expected ErrCircular, got %v", err)
	}
}

func TestEscalateTopOfHierarchyFallsBackToAdmin(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	seedStaff(t, store)
	seedAssignment(t, store, "a-1", ref("director-1"), models.StatusAssigned)

	event, err := svc.Escalate(context.Background(), "a-1", "director-1", models.ReasonManual, "")
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if event.EscalatedTo != "admin-1" {
		t.Fatalf("expected fallback admin-1, got %s", event.EscalatedTo)
	}
}

func TestEscalateQueueEntry(t *testing.T) {
	svc, store, mock := newLifecycleFixture(t)
	entry := models.AssignmentQueueEntry{
		ID: "q-1", WorkItemType: "dossier", WorkItemID: "d-9",
		Priority: models.PriorityUrgent, EnqueuedAt: testTime,
	}
	if err := store.Enqueue(context.Background(), entry); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	event, err := svc.EscalateQueueEntry(context.Background(), "q-1", "system", models.ReasonCapacityExhaustion, "")
	if err != nil {
		t.Fatalf("escalate queue entry: %v", err)
	}
	if event.QueueEntryID == nil || *event.QueueEntryID != "q-1" {
		t.Fatalf("expected queue entry reference, got %+v", event)
	}
	if event.EscalatedTo != "admin-1" {
		t.Fatalf("expected admin recipient, got %s", event.EscalatedTo)
	}
	events := mock.Events()
	if len(events) != 1 || events[0].Type != notify.TypeQueueEscalated {
		t.Fatalf("unexpected notifications: %+v", events)
	}
}

func TestCompleteAndTerminalGuard(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	seedAssignment(t, store, "a-1", ref("officer-1"), models.StatusInProgress)

	a, err := svc.Complete(context.Background(), "a-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if a.Status != models.StatusCompleted || a.CompletedAt == nil {
		t.Fatalf("unexpected completed assignment: %+v", a)
	}

	_, err = svc.Cancel(context.Background(), "a-1")
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestListMineAnnotatesSLAAndSorts(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)
	breached := models.Assignment{
		ID: "a-late", WorkItemType: "dossier", WorkItemID: "d-1",
		AssigneeID: ref("officer-1"), Priority: models.PriorityHigh,
		Status:     models.StatusAssigned,
		AssignedAt: testTime.Add(-50 * time.Hour), SLADeadline: testTime.Add(-2 * time.Hour),
	}
	healthy := models.Assignment{
		ID: "a-fresh", WorkItemType: "dossier", WorkItemID: "d-2",
		AssigneeID: ref("officer-1"), Priority: models.PriorityNormal,
		Status:     models.StatusAssigned,
		AssignedAt: testTime.Add(-1 * time.Hour), SLADeadline: testTime.Add(47 * time.Hour),
	}
	done := models.Assignment{
		ID: "a-done", WorkItemType: "dossier", WorkItemID: "d-3",
		AssigneeID: ref("officer-1"), Priority: models.PriorityLow,
		Status:     models.StatusCompleted,
		AssignedAt: testTime.Add(-10 * time.Hour), SLADeadline: testTime.Add(110 * time.Hour),
	}
	for _, a := range []models.Assignment{breached, healthy, done} {
		if err := store.CreateAssignment(context.Background(), a); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	items, err := svc.ListMine(context.Background(), "officer-1", nil, false)
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 active assignments, got %d", len(items))
	}
	if items[0].ID != "a-late" || items[1].ID != "a-fresh" {
		t.Fatalf("wrong order: %s, %s", items[0].ID, items[1].ID)
	}
	if items[0].SLA.Status != "breached" {
		t.Fatalf("expected breached, got %s", items[0].SLA.Status)
	}
	if items[1].SLA.Status != "ok" {
		t.Fatalf("expected ok, got %s", items[1].SLA.Status)
	}

	all, err := svc.ListMine(context.Background(), "officer-1", nil, true)
	if err != nil {
		t.Fatalf("list mine all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 with include_completed, got %d", len(all))
	}
}

func TestIntakePreAssigned(t *testing.T) {
	svc, store, mock := newLifecycleFixture(t)
	seedStaff(t, store)

	a, entry, err := svc.Intake(context.Background(), IntakeRequest{
		WorkItemType: "dossier", WorkItemID: "d-42",
		AssigneeID: ref("officer-1"), AssignedBy: "admin-1",
		Priority: models.PriorityUrgent,
	})
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected no queue entry, got %+v", entry)
	}
	if a.Status != models.StatusAssigned {
		t.Fatalf("expected assigned, got %s", a.Status)
	}
	if want := testTime.Add(8 * time.Hour); !a.SLADeadline.Equal(want) {
		t.Fatalf("expected urgent deadline %v, got %v", want, a.SLADeadline)
	}
	if events := mock.Events(); len(events) != 1 || events[0].Type != notify.TypeAssignmentAssigned {
		t.Fatalf("unexpected notifications: %+v", events)
	}
}

func TestIntakeQueuesWithoutAssignee(t *testing.T) {
	svc, store, _ := newLifecycleFixture(t)

	a, entry, err := svc.Intake(context.Background(), IntakeRequest{
		WorkItemType: "dossier", WorkItemID: "d-43",
		Priority: models.PriorityNormal, RequiredSkills: []string{"bilateral"},
	})
	if err != nil {
		t.Fatalf("intake: %v", err)
	}
	if a != nil {
		t.Fatalf("expected no assignment, got %+v", a)
	}
	if entry == nil || entry.Priority != models.PriorityNormal {
		t.Fatalf("unexpected queue entry: %+v", entry)
	}

	queued, err := store.ListQueue(context.Background())
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != entry.ID {
		t.Fatalf("entry not persisted: %+v", queued)
	}
}

func TestIntakeRejectsBadPriority(t *testing.T) {
	svc, _, _ := newLifecycleFixture(t)

	_, _, err := svc.Intake(context.Background(), IntakeRequest{
		WorkItemType: "dossier", WorkItemID: "d-44", Priority: "critical",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
