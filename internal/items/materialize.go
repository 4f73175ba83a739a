package items

import (
	"context"
	"fmt"
	"time"

	"toolforge/internal/catalog"
	"toolforge/internal/state"
	"toolforge/internal/types"
)

// Materialize creates a store record for every catalog entry that does not
// already have one and pushes the new records onto the pending queue.
// Tools a prior run already drove to completion are skipped, which is what
// makes initialization idempotent across restarts: re-running never resets
// finished work and never duplicates queue entries for work in flight.
//
// Returns the number of records created.
func (r *Repo) Materialize(ctx context.Context, cat *catalog.Catalog) (int, error) {
	created := 0
	for _, entry := range cat.Entries {
		status, err := r.Status(ctx, entry.Name)
		if err != nil {
			return created, fmt.Errorf("failed to check %s during materialization: %w", entry.Name, err)
		}
		if status != "" {
			// Record exists from a prior run; leave it wherever it is
			// in the pipeline.
			continue
		}

		tool := &types.Tool{
			Name:      entry.Name,
			Category:  entry.Category,
			Status:    types.StatusPending,
			CreatedAt: time.Now(),
		}
		if err := r.Init(ctx, tool); err != nil {
			return created, err
		}
		if err := r.store.PushQueue(ctx, state.QueuePending, entry.Name); err != nil {
			return created, fmt.Errorf("failed to enqueue %s: %w", entry.Name, err)
		}
		created++
	}
	return created, nil
}
