package hierarchy

import (
	"context"
	"errors"

	"github.com/intl_dossier/backend/internal/models"
)

// MaxDepth caps the reports_to walk. A chain longer than this is
// indistinguishable from a cycle and is treated as the same
// configuration fault.
const MaxDepth = 10

var (
	// ErrCircular is returned when the reports_to walk revisits a user
	// or exceeds MaxDepth. Data-integrity fault, never retried.
	ErrCircular = errors.New("circular organizational hierarchy")

	// ErrNotInHierarchy is returned when the starting user has no
	// directory entry at all.
	ErrNotInHierarchy = errors.New("user not in organizational hierarchy")
)

// Directory is the subset of the staff store the resolver needs.
// Implementations return ErrNotFound-style errors for unknown users;
// the resolver only cares whether the lookup succeeded.
type Directory interface {
	GetStaff(ctx context.Context, userID string) (models.StaffProfile, error)
}

type Resolver struct {
	Dir      Directory
	MaxDepth int
}

func NewResolver(dir Directory) Resolver {
	return Resolver{Dir: dir, MaxDepth: MaxDepth}
}

// Path returns the ordered escalation candidates for userID, nearest
// first. The walk starts at the profile's escalation_chain_id override
// when set, otherwise at its reports_to edge. A user at the top of the
// hierarchy yields an empty path. A hop that leaves the directory
// terminates the path.
func (r Resolver) Path(ctx context.Context, userID string) ([]string, error) {
	maxDepth := r.MaxDepth
	if maxDepth <= 0 {
		maxDepth = MaxDepth
	}

	profile, err := r.Dir.GetStaff(ctx, userID)
	if err != nil {
		return nil, ErrNotInHierarchy
	}

	visited := map[string]bool{userID: true}
	var path []string

	next := ""
	if profile.EscalationChainID != nil && *profile.EscalationChainID != "" {
		next = *profile.EscalationChainID
	} else if profile.ReportsTo != nil {
		next = *profile.ReportsTo
	}

	for next != "" {
		if len(path) >= maxDepth {
			return nil, ErrCircular
		}
		if visited[next] {
			return nil, ErrCircular
		}
		visited[next] = true
		path = append(path, next)

		hop, err := r.Dir.GetStaff(ctx, next)
		if err != nil {
			// The recipient exists as an edge target but has no
			// profile of its own; treat as top of hierarchy.
			break
		}
		if hop.ReportsTo == nil {
			break
		}
		next = *hop.ReportsTo
	}

	return path, nil
}

// Recipient resolves the single escalation recipient for userID: the
// first entry of the path, falling back to fallbackAdmin when the user
// has nobody above them.
func (r Resolver) Recipient(ctx context.Context, userID, fallbackAdmin string) (string, error) {
	path, err := r.Path(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(path) == 0 {
		return fallbackAdmin, nil
	}
	return path[0], nil
}
