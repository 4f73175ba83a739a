package items

import (
	"context"
	"fmt"

	"toolforge/internal/state"
	"toolforge/internal/types"
)

// RecordBlocker parks a tool on an external obstacle: the blocker record
// plus membership in the blocked set the orchestrator scans.
func (r *Repo) RecordBlocker(ctx context.Context, b *types.Blocker) error {
	if b.Tool == "" {
		return fmt.Errorf("blocker has no tool")
	}
	fields := map[string]string{
		"reason":      b.Reason,
		"detected_at": types.FormatTime(b.DetectedAt),
	}
	if err := r.store.SetFields(ctx, state.BlockerKey(b.Tool), fields); err != nil {
		return fmt.Errorf("failed to record blocker for %s: %w", b.Tool, err)
	}
	if err := r.store.AddToSet(ctx, state.SetBlocked, b.Tool); err != nil {
		return fmt.Errorf("failed to add %s to blocked set: %w", b.Tool, err)
	}
	return nil
}

// GetBlocker returns the blocker record for a tool, or nil if none exists
func (r *Repo) GetBlocker(ctx context.Context, tool string) (*types.Blocker, error) {
	fields, err := r.store.GetAll(ctx, state.BlockerKey(tool))
	if err != nil {
		return nil, fmt.Errorf("failed to read blocker for %s: %w", tool, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	detectedAt, _ := types.ParseTime(fields["detected_at"])
	return &types.Blocker{
		Tool:       tool,
		Reason:     fields["reason"],
		DetectedAt: detectedAt,
	}, nil
}

// ClearBlocker removes the blocker record and the blocked-set membership
func (r *Repo) ClearBlocker(ctx context.Context, tool string) error {
	if err := r.store.RemoveFromSet(ctx, state.SetBlocked, tool); err != nil {
		return fmt.Errorf("failed to remove %s from blocked set: %w", tool, err)
	}
	if _, err := r.store.Delete(ctx, state.BlockerKey(tool)); err != nil {
		return fmt.Errorf("failed to delete blocker record for %s: %w", tool, err)
	}
	return nil
}

// BlockedTools lists the names of every tool currently parked on a blocker
func (r *Repo) BlockedTools(ctx context.Context) ([]string, error) {
	members, err := r.store.SetMembers(ctx, state.SetBlocked)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked tools: %w", err)
	}
	return members, nil
}
