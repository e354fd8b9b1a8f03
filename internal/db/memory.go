package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/intl_dossier/backend/internal/models"
)

// Memory is a mutex-guarded in-memory Store. It backs unit tests and
// DB-less runs (DATABASE_URL empty) and enforces the same uniqueness
// and ordering semantics as the Postgres schema.
type Memory struct {
	mu          sync.Mutex
	staff       map[string]models.StaffProfile
	units       map[string]models.OrganizationalUnit
	assignments map[string]models.Assignment
	escalations map[string]models.EscalationEvent
	queue       map[string]models.AssignmentQueueEntry
	jobs        map[string]models.BulkJob
	runs        []models.Run
}

func NewMemory() *Memory {
	return &Memory{
		staff:       map[string]models.StaffProfile{},
		units:       map[string]models.OrganizationalUnit{},
		assignments: map[string]models.Assignment{},
		escalations: map[string]models.EscalationEvent{},
		queue:       map[string]models.AssignmentQueueEntry{},
		jobs:        map[string]models.BulkJob{},
	}
}

func (s *Memory) Ping(context.Context) error { return nil }
func (s *Memory) Close()                     {}

func (s *Memory) UpsertStaff(_ context.Context, staff []models.StaffProfile) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range staff {
		s.staff[p.UserID] = p
	}
	return int64(len(staff)), nil
}

func (s *Memory) UpsertUnits(_ context.Context, units []models.OrganizationalUnit) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range units {
		s.units[u.ID] = u
	}
	return int64(len(units)), nil
}

func (s *Memory) GetStaff(_ context.Context, userID string) (models.StaffProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.staff[userID]
	if !ok {
		return models.StaffProfile{}, ErrNotFound
	}
	return p, nil
}

func (s *Memory) ListStaff(_ context.Context, unitID, skill string) ([]models.StaffProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StaffProfile
	for _, p := range s.staff {
		if unitID != "" && p.UnitID != unitID {
			continue
		}
		if skill != "" && !contains(p.Skills, skill) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Memory) ListUnits(context.Context) ([]models.OrganizationalUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OrganizationalUnit
	for _, u := range s.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) CreateAssignment(_ context.Context, a models.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[a.ID] = a
	return nil
}

func (s *Memory) GetAssignment(_ context.Context, id string) (models.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return models.Assignment{}, ErrNotFound
	}
	return a, nil
}

func (s *Memory) ListAssignmentsByAssignee(_ context.Context, userID string, statuses []string) ([]models.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Assignment
	for _, a := range s.assignments {
		if a.AssigneeID == nil || *a.AssigneeID != userID {
			continue
		}
		if len(statuses) > 0 && !contains(statuses, a.Status) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SLADeadline.Equal(out[j].SLADeadline) {
			return out[i].ID < out[j].ID
		}
		return out[i].SLADeadline.Before(out[j].SLADeadline)
	})
	return out, nil
}

func (s *Memory) UpdateAssignmentStatus(_ context.Context, id, status string, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return ErrNotFound
	}
	if a.Terminal() {
		return ErrTerminalState
	}
	a.Status = status
	a.CompletedAt = completedAt
	s.assignments[id] = a
	return nil
}

func (s *Memory) MarkEscalated(_ context.Context, id string, at time.Time, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return ErrNotFound
	}
	a.EscalatedAt = &at
	a.EscalationRecipientID = &recipientID
	s.assignments[id] = a
	return nil
}

func (s *Memory) MarkReminderSent(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return ErrNotFound
	}
	a.LastReminderSentAt = &at
	s.assignments[id] = a
	return nil
}

func (s *Memory) OpenAssignmentCounts(context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{}
	for _, a := range s.assignments {
		if a.AssigneeID == nil {
			continue
		}
		if a.Status == models.StatusAssigned || a.Status == models.StatusInProgress {
			out[*a.AssigneeID]++
		}
	}
	return out, nil
}

func (s *Memory) InsertEscalation(_ context.Context, e models.EscalationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.escalations {
		if existing.AcknowledgedAt != nil {
			continue
		}
		if e.AssignmentID != nil && existing.AssignmentID != nil && *existing.AssignmentID == *e.AssignmentID {
			return ErrDuplicateEscalation
		}
		if e.QueueEntryID != nil && existing.QueueEntryID != nil && *existing.QueueEntryID == *e.QueueEntryID {
			return ErrDuplicateEscalation
		}
	}
	s.escalations[e.ID] = e
	return nil
}

func (s *Memory) GetEscalation(_ context.Context, id string) (models.EscalationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escalations[id]
	if !ok {
		return models.EscalationEvent{}, ErrNotFound
	}
	return e, nil
}

func (s *Memory) AcknowledgeEscalation(_ context.Context, id, notes string, at time.Time) (models.EscalationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escalations[id]
	if !ok {
		return models.EscalationEvent{}, ErrNotFound
	}
	e.AcknowledgedAt = &at
	e.Notes = notes
	s.escalations[id] = e
	return e, nil
}

func (s *Memory) Enqueue(_ context.Context, e models.AssignmentQueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue[e.ID] = e
	return nil
}

func (s *Memory) GetQueueEntry(_ context.Context, id string) (models.AssignmentQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.queue[id]
	if !ok {
		return models.AssignmentQueueEntry{}, ErrNotFound
	}
	return e, nil
}

func (s *Memory) ListQueue(context.Context) ([]models.AssignmentQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AssignmentQueueEntry
	for _, e := range s.queue {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := models.PriorityRank(out[i].Priority), models.PriorityRank(out[j].Priority)
		if ri != rj {
			return ri > rj
		}
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Memory) IncrementQueueAttempts(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.queue[id]
	if !ok {
		return 0, ErrNotFound
	}
	e.Attempts++
	s.queue[id] = e
	return e.Attempts, nil
}

func (s *Memory) RemoveQueueEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queue[id]; !ok {
		return ErrNotFound
	}
	delete(s.queue, id)
	return nil
}

func (s *Memory) CreateBulkJob(_ context.Context, j models.BulkJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}

func (s *Memory) GetBulkJob(_ context.Context, id string) (models.BulkJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return models.BulkJob{}, ErrNotFound
	}
	j.Results = append([]models.BulkItemResult(nil), j.Results...)
	return j, nil
}

func (s *Memory) StartBulkJob(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = models.JobProcessing
	j.StartedAt = &at
	s.jobs[id] = j
	return nil
}

func (s *Memory) RecordBulkItem(_ context.Context, jobID string, item models.BulkItemResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	switch item.Outcome {
	case models.OutcomeSuccess:
		j.Succeeded++
	case models.OutcomeSkipped:
		j.Skipped++
	default:
		j.Failed++
	}
	j.Results = append(j.Results, item)
	s.jobs[jobID] = j
	return nil
}

func (s *Memory) FinishBulkJob(_ context.Context, id, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = status
	j.CompletedAt = &at
	s.jobs[id] = j
	return nil
}

func (s *Memory) CreateRun(_ context.Context, status string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := models.Run{ID: uuid.NewString(), Status: status, StartedAt: time.Now().UTC()}
	s.runs = append(s.runs, r)
	return r.ID, nil
}

func (s *Memory) FinishRun(_ context.Context, runID, status string, summary []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == runID {
			now := time.Now().UTC()
			s.runs[i].Status = status
			s.runs[i].Summary = summary
			s.runs[i].FinishedAt = &now
			return nil
		}
	}
	return ErrNotFound
}

func (s *Memory) GetLatestRun(context.Context) (models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) == 0 {
		return models.Run{}, ErrNotFound
	}
	return s.runs[len(s.runs)-1], nil
}

func contains(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
