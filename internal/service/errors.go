package service

import "errors"

var (
	// ErrInvalidReason rejects escalation reasons outside the
	// recognized enum.
	ErrInvalidReason = errors.New("invalid escalation reason")

	// ErrAlreadyEscalated reports an existing unacknowledged
	// escalation for the target. Surfaced as a conflict.
	ErrAlreadyEscalated = errors.New("already escalated")

	// ErrAlreadyTerminal rejects transitions out of completed or
	// cancelled.
	ErrAlreadyTerminal = errors.New("assignment already in terminal state")

	// ErrValidation covers malformed inputs such as an out-of-range
	// bulk target list or an unknown priority.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownOperation rejects bulk operation kinds the processor
	// does not implement.
	ErrUnknownOperation = errors.New("unknown bulk operation")
)
