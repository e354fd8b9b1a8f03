package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/intl_dossier/backend/internal/db"
	"github.com/intl_dossier/backend/internal/models"
	"github.com/intl_dossier/backend/internal/notify"
	"github.com/intl_dossier/backend/internal/sla"
)

// DefaultMaxAttempts is how many sweeps a queue entry survives without
// a match before it is flagged for escalation.
const DefaultMaxAttempts = 3

// RunSummary is the outcome of one auto-assignment sweep, persisted as
// the run's summary payload.
type RunSummary struct {
	RunID     string   `json:"run_id"`
	Swept     int      `json:"swept"`
	Assigned  int      `json:"assigned"`
	Deferred  int      `json:"deferred"`
	Exhausted []string `json:"exhausted,omitempty"`
}

// AutoAssignService drains the waiting queue against staff capacity.
// Sweeps are serialized by the caller; the service itself holds no
// locks beyond what the store provides.
type AutoAssignService struct {
	Store       db.Store
	Notifier    notify.Dispatcher
	Logger      zerolog.Logger
	Now         sla.Clock
	MaxAttempts int
}

func (s *AutoAssignService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *AutoAssignService) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return DefaultMaxAttempts
}

// ProcessQueue runs one sweep: queue entries in priority order, each
// matched against eligible staff. Entries that exhaust their attempt
// budget are reported back for capacity escalation rather than being
// retried forever.
func (s *AutoAssignService) ProcessQueue(ctx context.Context) (RunSummary, error) {
	runID, err := s.Store.CreateRun(ctx, "running")
	if err != nil {
		return RunSummary{}, err
	}
	summary := RunSummary{RunID: runID}

	entries, err := s.Store.ListQueue(ctx)
	if err != nil {
		s.finishRun(ctx, runID, "failed", summary)
		return summary, err
	}
	staff, err := s.Store.ListStaff(ctx, "", "")
	if err != nil {
		s.finishRun(ctx, runID, "failed", summary)
		return summary, err
	}
	units, err := s.Store.ListUnits(ctx)
	if err != nil {
		s.finishRun(ctx, runID, "failed", summary)
		return summary, err
	}
	loads, err := s.Store.OpenAssignmentCounts(ctx)
	if err != nil {
		s.finishRun(ctx, runID, "failed", summary)
		return summary, err
	}

	unitLimits := make(map[string]int, len(units))
	for _, u := range units {
		unitLimits[u.ID] = u.WIPLimit
	}
	unitLoads := make(map[string]int)
	for _, p := range staff {
		unitLoads[p.UnitID] += loads[p.UserID]
	}

	summary.Swept = len(entries)
	for _, entry := range entries {
		// An entry that already spent its attempt budget is an
		// operator problem, not a matching problem.
		if entry.Attempts >= s.maxAttempts() {
			summary.Exhausted = append(summary.Exhausted, entry.ID)
			continue
		}

		candidate, ok := SelectCandidate(entry, staff, loads, unitLimits, unitLoads)
		if !ok {
			attempts, err := s.Store.IncrementQueueAttempts(ctx, entry.ID)
			if err != nil {
				s.Logger.Error().Err(err).Str("entry_id", entry.ID).Msg("increment queue attempts failed")
				continue
			}
			if attempts >= s.maxAttempts() {
				summary.Exhausted = append(summary.Exhausted, entry.ID)
			} else {
				summary.Deferred++
			}
			continue
		}

		now := s.now()
		a := models.Assignment{
			ID:             uuid.NewString(),
			WorkItemType:   entry.WorkItemType,
			WorkItemID:     entry.WorkItemID,
			AssigneeID:     &candidate.UserID,
			AssignedBy:     "auto",
			Priority:       entry.Priority,
			Status:         models.StatusAssigned,
			RequiredSkills: entry.RequiredSkills,
			AssignedAt:     now,
			SLADeadline:    now.Add(SLAWindow(entry.Priority)),
		}
		if err := s.Store.CreateAssignment(ctx, a); err != nil {
			s.Logger.Error().Err(err).Str("entry_id", entry.ID).Msg("create assignment failed")
			continue
		}
		if err := s.Store.RemoveQueueEntry(ctx, entry.ID); err != nil {
			s.Logger.Error().Err(err).Str("entry_id", entry.ID).Msg("remove queue entry failed")
		}

		loads[candidate.UserID]++
		unitLoads[candidate.UnitID]++
		summary.Assigned++

		if s.Notifier != nil {
			err := s.Notifier.Dispatch(ctx, notify.Event{
				UserID:      candidate.UserID,
				Type:        notify.TypeAssignmentAssigned,
				Message:     fmt.Sprintf("You were assigned %s #%s (priority %s)", a.WorkItemType, a.WorkItemID, a.Priority),
				ReferenceID: a.ID,
			})
			if err != nil {
				s.Logger.Warn().Err(err).Str("user_id", candidate.UserID).Msg("notification dispatch failed")
			}
		}
	}

	s.finishRun(ctx, runID, "completed", summary)
	return summary, nil
}

func (s *AutoAssignService) finishRun(ctx context.Context, runID, status string, summary RunSummary) {
	payload, err := json.Marshal(summary)
	if err != nil {
		payload = []byte("{}")
	}
	if err := s.Store.FinishRun(ctx, runID, status, payload); err != nil {
		s.Logger.Error().Err(err).Str("run_id", runID).Msg("finish run failed")
	}
}

// SelectCandidate picks the staff member for a queue entry, or reports
// that nobody is eligible. Eligibility: every required skill held, a
// positive personal WIP limit with spare capacity, and the unit under
// its own limit when one is set. Ties break on most spare capacity,
// then lowest load, then lowest user id for determinism.
func SelectCandidate(entry models.AssignmentQueueEntry, staff []models.StaffProfile, loads map[string]int, unitLimits, unitLoads map[string]int) (models.StaffProfile, bool) {
	var best models.StaffProfile
	found := false

	for _, p := range staff {
		if p.WIPLimit <= 0 {
			continue
		}
		load := loads[p.UserID]
		if load >= p.WIPLimit {
			continue
		}
		if !hasSkills(p.Skills, entry.RequiredSkills) {
			continue
		}
		if limit, ok := unitLimits[p.UnitID]; ok && limit > 0 && unitLoads[p.UnitID] >= limit {
			continue
		}

		if !found {
			best, found = p, true
			continue
		}
		bestSpare := best.WIPLimit - loads[best.UserID]
		spare := p.WIPLimit - load
		switch {
		case spare > bestSpare:
			best = p
		case spare == bestSpare && load < loads[best.UserID]:
			best = p
		case spare == bestSpare && load == loads[best.UserID] && p.UserID < best.UserID:
			best = p
		}
	}
	return best, found
}

func hasSkills(have, want []string) bool {
	for _, w := range want {
		ok := false
		for _, h := range have {
			if h == w {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
