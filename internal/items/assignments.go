package items

import (
	"context"
	"errors"
	"fmt"

	"toolforge/internal/state"
	"toolforge/internal/types"
)

// Assignment records live alongside a per-lane claim marker. The marker's
// presence is what "busy lane" means; clearing it is the one-shot guard
// that prevents a reclaimed assignment from being reclaimed twice.

// WriteAssignment stores a lane's claim: the assignment record plus the
// claim marker.
func (r *Repo) WriteAssignment(ctx context.Context, a *types.Assignment) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid assignment: %w", err)
	}
	fields := map[string]string{
		"tool":        a.Tool,
		"category":    a.Category,
		"assigned_at": types.FormatTime(a.AssignedAt),
	}
	if err := r.store.SetFields(ctx, state.AssignmentKey(a.Lane), fields); err != nil {
		return fmt.Errorf("failed to write assignment for %s: %w", a.Lane, err)
	}
	if err := r.store.Set(ctx, state.LaneClaimKey(a.Lane), a.Tool); err != nil {
		return fmt.Errorf("failed to mark lane %s busy: %w", a.Lane, err)
	}
	return nil
}

// GetAssignment returns the lane's current assignment, or nil if the lane
// holds no active claim.
func (r *Repo) GetAssignment(ctx context.Context, lane string) (*types.Assignment, error) {
	busy, err := r.LaneBusy(ctx, lane)
	if err != nil {
		return nil, err
	}
	if !busy {
		return nil, nil
	}
	fields, err := r.store.GetAll(ctx, state.AssignmentKey(lane))
	if err != nil {
		return nil, fmt.Errorf("failed to read assignment for %s: %w", lane, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	assignedAt, err := types.ParseTime(fields["assigned_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt assignment record for %s: %w", lane, err)
	}
	return &types.Assignment{
		Tool:       fields["tool"],
		Lane:       lane,
		Category:   fields["category"],
		AssignedAt: assignedAt,
	}, nil
}

// ClearAssignment removes the lane's claim marker and assignment record.
// Returns true only if the marker existed: a second clear finds nothing
// and reports false, so callers can make reclamation exactly-once.
func (r *Repo) ClearAssignment(ctx context.Context, lane string) (bool, error) {
	existed, err := r.store.Delete(ctx, state.LaneClaimKey(lane))
	if err != nil {
		return false, fmt.Errorf("failed to clear claim marker for %s: %w", lane, err)
	}
	if _, err := r.store.Delete(ctx, state.AssignmentKey(lane)); err != nil {
		return existed, fmt.Errorf("failed to clear assignment record for %s: %w", lane, err)
	}
	return existed, nil
}

// LaneBusy reports whether the lane holds an active claim
func (r *Repo) LaneBusy(ctx context.Context, lane string) (bool, error) {
	_, err := r.store.Get(ctx, state.LaneClaimKey(lane))
	if errors.Is(err, state.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check lane %s: %w", lane, err)
	}
	return true, nil
}
