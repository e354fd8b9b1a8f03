package sla

import "time"

// Statuses derived from elapsed time versus the deadline.
const (
	StatusOK       = "ok"
	StatusWarning  = "warning"
	StatusBreached = "breached"
)

// WarningThreshold is the elapsed fraction of the SLA window at which
// an assignment moves from ok to warning.
const WarningThreshold = 0.75

// Clock supplies the current time. Injected so that status computation
// is deterministic in tests.
type Clock func() time.Time

// Snapshot carries the derived SLA fields attached to an assignment on
// read. Never persisted.
type Snapshot struct {
	TimeRemainingSeconds int64  `json:"time_remaining_seconds"`
	PercentElapsed       int    `json:"percentage_elapsed"`
	Status               string `json:"sla_status"`
}

// Compute derives the SLA snapshot for the window assignedAt..deadline
// at the instant now. TimeRemainingSeconds is negative once the
// deadline has passed.
func Compute(assignedAt, deadline, now time.Time) Snapshot {
	remaining := deadline.Sub(now)
	total := deadline.Sub(assignedAt)
	elapsed := now.Sub(assignedAt)

	var frac float64
	if total > 0 {
		frac = float64(elapsed) / float64(total)
	} else {
		// Degenerate window; treat as fully elapsed.
		frac = 1
	}

	status := StatusOK
	switch {
	case !now.Before(deadline):
		status = StatusBreached
	case frac >= WarningThreshold:
		status = StatusWarning
	}

	pct := int(frac * 100)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}

	return Snapshot{
		TimeRemainingSeconds: int64(remaining / time.Second),
		PercentElapsed:       pct,
		Status:               status,
	}
}
