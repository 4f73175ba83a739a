// Package metrics computes the aggregate pipeline snapshot and keeps a
// bounded hourly history of it.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"toolforge/internal/items"
	"toolforge/internal/state"
	"toolforge/internal/types"
)

// Collector recomputes the snapshot from the tool records. The records are
// the source of truth; counters are advisory and never used for the
// completion decision.
type Collector struct {
	store          state.Store
	repo           *items.Repo
	retentionHours int
}

// NewCollector creates a collector. retentionHours bounds how many hourly
// history buckets survive pruning; zero or less keeps the default of 72.
func NewCollector(store state.Store, retentionHours int) *Collector {
	if retentionHours <= 0 {
		retentionHours = 72
	}
	return &Collector{
		store:          store,
		repo:           items.NewRepo(store),
		retentionHours: retentionHours,
	}
}

// Collect counts every tool record by status. Total is the number of
// materialized records, which equals the catalog size; completion is
// Completed == Total exactly.
func (c *Collector) Collect(ctx context.Context) (*types.Snapshot, error) {
	tools, err := c.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool records: %w", err)
	}

	snap := &types.Snapshot{
		Total:   len(tools),
		TakenAt: time.Now(),
	}
	for _, tool := range tools {
		switch tool.Status {
		case types.StatusCompleted:
			snap.Completed++
		case types.StatusFailed:
			snap.Failed++
		case types.StatusBlocked:
			snap.Blocked++
		case types.StatusPending, types.StatusQueued:
			snap.Pending++
		default:
			snap.InProgress++
		}
	}
	return snap, nil
}

// Publish writes the snapshot to its well-known key and records it in the
// current hour's history bucket, pruning buckets past retention.
func (c *Collector) Publish(ctx context.Context, snap *types.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := c.store.Set(ctx, state.KeySnapshot, string(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	hour := snap.TakenAt.UTC().Format(hourLayout)
	if err := c.store.Set(ctx, state.HistoryKey(hour), string(data)); err != nil {
		return fmt.Errorf("failed to write history bucket: %w", err)
	}
	return c.prune(ctx, snap.TakenAt)
}

// Load reads the last published snapshot. Returns nil without error when
// none has been published yet.
func Load(ctx context.Context, store state.Store) (*types.Snapshot, error) {
	raw, err := store.Get(ctx, state.KeySnapshot)
	if errors.Is(err, state.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap types.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

// History returns the retained hourly snapshots, oldest first
func (c *Collector) History(ctx context.Context) ([]*types.Snapshot, error) {
	keys, err := c.store.Scan(ctx, state.HistoryKeyPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to scan history: %w", err)
	}
	sort.Strings(keys)

	snaps := make([]*types.Snapshot, 0, len(keys))
	for _, key := range keys {
		raw, err := c.store.Get(ctx, key)
		if errors.Is(err, state.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		var snap types.Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			continue // a malformed bucket is not worth failing the sweep
		}
		snaps = append(snaps, &snap)
	}
	return snaps, nil
}

// prune deletes history buckets older than the retention window
func (c *Collector) prune(ctx context.Context, now time.Time) error {
	keys, err := c.store.Scan(ctx, state.HistoryKeyPattern)
	if err != nil {
		return fmt.Errorf("failed to scan history: %w", err)
	}

	cutoff := now.UTC().Add(-time.Duration(c.retentionHours) * time.Hour)
	for _, key := range keys {
		hour := key[len("metrics:history:"):]
		t, err := time.Parse(hourLayout, hour)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			if _, err := c.store.Delete(ctx, key); err != nil {
				return fmt.Errorf("failed to prune %s: %w", key, err)
			}
		}
	}
	return nil
}

// hourLayout is lexicographically sortable, so Scan results order by time
const hourLayout = "2006-01-02T15"
