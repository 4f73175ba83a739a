// Package orchestrator implements the coordinator cycle: the single loop
// that materializes the catalog, hands work to lanes, remediates blockers,
// reclaims stuck claims and decides completion.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"toolforge/internal/catalog"
	"toolforge/internal/config"
	"toolforge/internal/items"
	"toolforge/internal/metrics"
	"toolforge/internal/state"
	"toolforge/internal/types"
)

// Orchestrator owns the coordination cycle. Exactly one orchestrator runs
// per deployment; the heartbeat marker advertises which.
type Orchestrator struct {
	store     state.Store
	repo      *items.Repo
	collector *metrics.Collector
	cfg       *config.Config
	lanes     []string
	rules     []Rule
	breaker   *state.CircuitBreaker

	// instanceID identifies this orchestrator process in the heartbeat
	// marker, so an operator can tell which instance is live.
	instanceID string

	// nextLane rotates assignment start across cycles so lane-1 does not
	// soak up every burst.
	nextLane int
}

// CycleResult summarizes one orchestration cycle
type CycleResult struct {
	Snapshot  *types.Snapshot
	Assigned  int
	Resolved  int
	Merged    int
	Reclaimed int
	Done      bool
}

// New creates an orchestrator. Rules come from cfg.RulesPath when set,
// otherwise the built-in table.
func New(store state.Store, cfg *config.Config) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	rules := DefaultRules()
	if cfg.RulesPath != "" {
		loaded, err := LoadRules(cfg.RulesPath)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}

	return &Orchestrator{
		store:      store,
		repo:       items.NewRepo(store),
		collector:  metrics.NewCollector(store, cfg.HistoryRetentionHours),
		cfg:        cfg,
		lanes:      cfg.LaneIDs(),
		rules:      rules,
		breaker:    state.NewCircuitBreaker(5, 2, 30*time.Second),
		instanceID: uuid.New().String(),
	}, nil
}

// Bootstrap loads the catalog and materializes any missing tool records.
// Idempotent: records that already exist are left untouched, so a restart
// resumes mid-run instead of resetting progress.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	cat, err := catalog.Load(o.cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	created, err := o.repo.Materialize(ctx, cat)
	if err != nil {
		return fmt.Errorf("failed to materialize catalog: %w", err)
	}
	fmt.Printf("Orchestrator: catalog %s has %d tools (%d newly materialized)\n",
		o.cfg.CatalogPath, cat.Size(), created)
	return nil
}

// Run executes orchestration cycles until the catalog completes or the
// context is canceled. Cycle errors trip the circuit breaker rather than
// exiting; a run survives a store outage and resumes.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Bootstrap(ctx); err != nil {
		return err
	}
	fmt.Printf("Orchestrator: started (%d lanes, poll=%s, self_heal=%s)\n",
		len(o.lanes), o.cfg.PollInterval, o.cfg.SelfHealTimeout)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := o.breaker.Allow(); err != nil {
			fmt.Fprintf(os.Stderr, "Orchestrator: skipping cycle: %v\n", err)
			continue
		}

		result, err := o.Cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.breaker.RecordFailure()
			fmt.Fprintf(os.Stderr, "Orchestrator: cycle error: %v\n", err)
			continue
		}
		o.breaker.RecordSuccess()

		if result.Done {
			fmt.Printf("Orchestrator: all %d tools completed\n", result.Snapshot.Total)
			return nil
		}
	}
}

// Cycle runs the seven coordination steps once: assess, assign, monitor,
// resolve blockers, process reviewed work, publish metrics, self-heal.
func (o *Orchestrator) Cycle(ctx context.Context) (*CycleResult, error) {
	result := &CycleResult{}

	snap, err := o.collector.Collect(ctx)
	if err != nil {
		return nil, err
	}
	result.Snapshot = snap
	if snap.Done() {
		result.Done = true
		o.heartbeat(ctx)
		if err := o.collector.Publish(ctx, snap); err != nil {
			fmt.Fprintf(os.Stderr, "Orchestrator: warning: failed to publish final snapshot: %v\n", err)
		}
		return result, nil
	}

	result.Assigned, err = o.assignWork(ctx)
	if err != nil {
		return nil, err
	}

	o.monitorLanes(ctx)

	result.Resolved, err = o.resolveBlockers(ctx)
	if err != nil {
		return nil, err
	}

	result.Merged, err = o.processReviewed(ctx)
	if err != nil {
		return nil, err
	}

	// Republish after this cycle's mutations so observers see fresh counts
	snap, err = o.collector.Collect(ctx)
	if err != nil {
		return nil, err
	}
	result.Snapshot = snap
	if err := o.collector.Publish(ctx, snap); err != nil {
		return nil, err
	}
	o.heartbeat(ctx)

	result.Reclaimed, err = o.selfHeal(ctx)
	if err != nil {
		return nil, err
	}

	fmt.Printf("Orchestrator: cycle done: %d/%d completed, %d assigned, %d resolved, %d merged, %d reclaimed\n",
		snap.Completed, snap.Total, result.Assigned, result.Resolved, result.Merged, result.Reclaimed)
	result.Done = snap.Done()
	return result, nil
}

// assignWork hands at most one pending tool to each idle lane, starting
// from a rotating cursor.
func (o *Orchestrator) assignWork(ctx context.Context) (int, error) {
	assigned := 0
	for i := 0; i < len(o.lanes); i++ {
		lane := o.lanes[(o.nextLane+i)%len(o.lanes)]

		busy, err := o.repo.LaneBusy(ctx, lane)
		if err != nil {
			return assigned, err
		}
		if busy {
			continue
		}

		name, err := o.store.PopQueue(ctx, state.QueuePending)
		if errors.Is(err, state.ErrEmpty) {
			break
		}
		if err != nil {
			return assigned, err
		}

		if err := o.assign(ctx, lane, name); err != nil {
			fmt.Fprintf(os.Stderr, "Orchestrator: error assigning %s to %s: %v\n", name, lane, err)
			continue
		}
		assigned++
	}
	o.nextLane = (o.nextLane + 1) % len(o.lanes)
	return assigned, nil
}

func (o *Orchestrator) assign(ctx context.Context, lane, name string) error {
	tool, err := o.repo.Get(ctx, name)
	if err != nil {
		return err
	}

	// A stale queue entry for a tool that already moved on is dropped here
	if err := o.repo.Transition(ctx, name, types.StatusPending, types.StatusQueued); err != nil {
		return err
	}

	if err := o.repo.WriteAssignment(ctx, &types.Assignment{
		Tool:       name,
		Lane:       lane,
		Category:   tool.Category,
		AssignedAt: time.Now(),
	}); err != nil {
		return err
	}
	if err := o.store.PushQueue(ctx, state.LaneQueue(lane), name); err != nil {
		return err
	}
	fmt.Printf("Orchestrator: assigned %s to %s\n", name, lane)
	return nil
}

// monitorLanes logs each busy lane's progress. Observational only; the
// lease check in selfHeal is what acts on stuck work.
func (o *Orchestrator) monitorLanes(ctx context.Context) {
	for _, lane := range o.lanes {
		a, err := o.repo.GetAssignment(ctx, lane)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Orchestrator: warning: failed to read %s assignment: %v\n", lane, err)
			continue
		}
		if a == nil {
			continue
		}
		tool, err := o.repo.Get(ctx, a.Tool)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Orchestrator: warning: %s claims unknown tool %s\n", lane, a.Tool)
			continue
		}
		fmt.Printf("Orchestrator: %s working %s (%s, %d%%, held %s)\n",
			lane, tool.Name, tool.Status, tool.Progress, time.Since(a.AssignedAt).Round(time.Second))
	}
}

// resolveBlockers walks the blocked set and applies the first matching
// remediation rule to each tool.
func (o *Orchestrator) resolveBlockers(ctx context.Context) (int, error) {
	blocked, err := o.repo.BlockedTools(ctx)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, name := range blocked {
		blocker, err := o.repo.GetBlocker(ctx, name)
		if err != nil {
			return resolved, err
		}
		reason := ""
		if blocker != nil {
			reason = blocker.Reason
		}

		rule, ok := matchRule(o.rules, reason)
		if !ok || rule.Action == ActionWait {
			continue
		}

		if err := o.remediate(ctx, name, reason, rule); err != nil {
			fmt.Fprintf(os.Stderr, "Orchestrator: error resolving blocker on %s: %v\n", name, err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

// remediate applies one rule: optionally flip the tool to mock mode, then
// clear the blocker and requeue.
func (o *Orchestrator) remediate(ctx context.Context, name, reason string, rule Rule) error {
	if rule.Action == ActionMock {
		if err := o.repo.SetMockMode(ctx, name, true); err != nil {
			return err
		}
	}

	if err := o.repo.ClearBlocker(ctx, name); err != nil {
		return err
	}
	if err := o.repo.ClearError(ctx, name); err != nil {
		return err
	}

	// Blocked is the only legal source here; anything else means someone
	// already moved the tool and the requeue is dropped.
	if err := o.repo.Transition(ctx, name, types.StatusBlocked, types.StatusPending); err != nil {
		if errors.Is(err, items.ErrPrecondition) {
			return nil
		}
		return err
	}
	if err := o.store.PushQueue(ctx, state.QueueOverflow, name); err != nil {
		return err
	}

	fmt.Printf("Orchestrator: resolved blocker on %s via rule %s (%s): %s\n", name, rule.Name, rule.Action, reason)
	return nil
}

// processReviewed drains the review queue: final bookkeeping for tools the
// documentation stage completed.
func (o *Orchestrator) processReviewed(ctx context.Context) (int, error) {
	merged := 0
	for {
		name, err := o.store.PopQueue(ctx, state.QueueReview)
		if errors.Is(err, state.ErrEmpty) {
			return merged, nil
		}
		if err != nil {
			return merged, err
		}

		tool, err := o.repo.Get(ctx, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Orchestrator: warning: reviewed tool %s has no record: %v\n", name, err)
			continue
		}
		if tool.Status != types.StatusCompleted {
			// The record is authoritative; a stray review entry is dropped
			continue
		}

		if tool.AssignedLane != "" {
			// The lane claim normally clears when development finishes;
			// this is the backstop for a lane that died after publishing.
			// Only a claim still naming this tool may be cleared: the lane
			// may already hold a fresh assignment.
			a, err := o.repo.GetAssignment(ctx, tool.AssignedLane)
			if err == nil && a != nil && a.Tool == name {
				if _, err := o.repo.ClearAssignment(ctx, tool.AssignedLane); err != nil {
					fmt.Fprintf(os.Stderr, "Orchestrator: warning: failed to clear claim for %s: %v\n", tool.AssignedLane, err)
				}
			}
			if err := o.repo.SetLane(ctx, name, ""); err != nil {
				fmt.Fprintf(os.Stderr, "Orchestrator: warning: failed to clear lane on %s: %v\n", name, err)
			}
		}
		fmt.Printf("Orchestrator: merged %s (%s)\n", name, tool.Category)
		merged++
	}
}

// selfHeal reclaims assignments held past the lease. The claim-marker
// delete is the exactly-once guard: only the caller that observed the
// marker existing performs the requeue, so a concurrently finishing lane
// cannot cause a duplicate.
func (o *Orchestrator) selfHeal(ctx context.Context) (int, error) {
	reclaimed := 0
	for _, lane := range o.lanes {
		a, err := o.repo.GetAssignment(ctx, lane)
		if err != nil {
			return reclaimed, err
		}
		if a == nil {
			continue
		}
		if time.Since(a.AssignedAt) <= o.cfg.SelfHealTimeout {
			continue
		}

		existed, err := o.repo.ClearAssignment(ctx, lane)
		if err != nil {
			return reclaimed, err
		}
		if !existed {
			continue // the lane finished in the window between read and clear
		}

		if err := o.reclaim(ctx, lane, a.Tool); err != nil {
			fmt.Fprintf(os.Stderr, "Orchestrator: error reclaiming %s from %s: %v\n", a.Tool, lane, err)
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

// reclaim resets a stuck tool to pending and requeues it. Tools that
// already moved past development keep their progress; only the claim is
// released.
func (o *Orchestrator) reclaim(ctx context.Context, lane, name string) error {
	status, err := o.repo.Status(ctx, name)
	if err != nil {
		return err
	}

	switch status {
	case types.StatusQueued, types.StatusAssigned, types.StatusInProgress:
	default:
		fmt.Printf("Orchestrator: released stale claim on %s (%s, status %s)\n", name, lane, status)
		return nil
	}

	if err := o.repo.RecordError(ctx, name, types.KindStuckAssignment,
		fmt.Sprintf("reclaimed from %s after %s lease expired", lane, o.cfg.SelfHealTimeout)); err != nil {
		return err
	}
	if err := o.repo.SetLane(ctx, name, ""); err != nil {
		return err
	}
	if err := o.repo.Transition(ctx, name, status, types.StatusPending); err != nil {
		if errors.Is(err, items.ErrPrecondition) {
			return nil
		}
		return err
	}
	if err := o.store.PushQueue(ctx, state.QueuePending, name); err != nil {
		return err
	}
	fmt.Printf("Orchestrator: reclaimed %s from %s after lease expiry\n", name, lane)
	return nil
}

// heartbeat refreshes the orchestrator liveness marker with this
// instance's identity and the refresh time.
func (o *Orchestrator) heartbeat(ctx context.Context) {
	value := fmt.Sprintf("%s %s", o.instanceID, types.FormatTime(time.Now()))
	if err := o.store.SetWithTTL(ctx, state.KeyOrchestratorHeartbeat, value, o.cfg.HeartbeatTTL); err != nil {
		fmt.Fprintf(os.Stderr, "Orchestrator: warning: failed to refresh heartbeat: %v\n", err)
	}
}
