// Package worker implements the lane agent: the loop that claims one
// assignment at a time and drives it through the development stage.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"toolforge/internal/catalog"
	"toolforge/internal/collab"
	"toolforge/internal/config"
	"toolforge/internal/items"
	"toolforge/internal/state"
	"toolforge/internal/types"
)

// Progress checkpoints reported after each development phase. Monotonically
// increasing so the orchestrator's monitor step can see movement.
const (
	progressSpecLoaded     = 10
	progressImplGenerated  = 30
	progressTestsGenerated = 50
	progressFilesWritten   = 70
	progressFormatted      = 80
	progressMarkedReview   = 90
	progressDone           = 100
)

// Worker is one lane's agent. It pulls assignments from its own queue
// first, falls back to the global overflow queue, and sleeps when both are
// empty. All coordination with the rest of the pipeline goes through the
// shared store.
type Worker struct {
	store      state.Store
	repo       *items.Repo
	collabs    collab.Set
	mockSet    collab.Set
	lane       string
	specDir    string
	autoFix    bool
	maxRetries int
	idleSleep  time.Duration
}

// Config holds worker configuration
type Config struct {
	Lane          string
	Store         state.Store
	Collaborators collab.Set
	SpecDir       string
	AutoFix       bool
	MaxRetries    int
	IdleSleep     time.Duration
	GeneratorRPS  float64
}

// ConfigFromShared builds a worker Config for one lane from the shared
// configuration surface.
func ConfigFromShared(shared *config.Config, lane string, store state.Store, collabs collab.Set) *Config {
	return &Config{
		Lane:          lane,
		Store:         store,
		Collaborators: collabs,
		SpecDir:       shared.SpecDir,
		AutoFix:       shared.AutoFix,
		MaxRetries:    shared.MaxRetries,
		IdleSleep:     shared.WorkerIdleSleep,
		GeneratorRPS:  shared.GeneratorRPS,
	}
}

// New creates a worker for one lane
func New(cfg *Config) (*Worker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Lane == "" {
		return nil, fmt.Errorf("lane is required")
	}
	if cfg.Collaborators.Generator == nil || cfg.Collaborators.TestGenerator == nil || cfg.Collaborators.Writer == nil {
		return nil, fmt.Errorf("generator, test generator and writer collaborators are required")
	}
	idleSleep := cfg.IdleSleep
	if idleSleep <= 0 {
		idleSleep = 2 * time.Second
	}

	collabs := cfg.Collaborators
	collabs.Generator = collab.Throttle(collabs.Generator, cfg.GeneratorRPS)

	return &Worker{
		store:      cfg.Store,
		repo:       items.NewRepo(cfg.Store),
		collabs:    collabs,
		mockSet:    collab.MockSet(collabs.Writer),
		lane:       cfg.Lane,
		specDir:    cfg.SpecDir,
		autoFix:    cfg.AutoFix,
		maxRetries: cfg.MaxRetries,
		idleSleep:  idleSleep,
	}, nil
}

// Run executes the lane loop until the context is canceled. Per-item
// errors are logged and the loop continues; only context cancellation
// stops a lane.
func (w *Worker) Run(ctx context.Context) error {
	fmt.Printf("Worker %s: started (auto_fix=%t, max_retries=%d)\n", w.lane, w.autoFix, w.maxRetries)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name, err := w.claimNext(ctx)
		if errors.Is(err, state.ErrEmpty) {
			continue // BPop already waited out the idle sleep
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(os.Stderr, "Worker %s: error claiming work: %v\n", w.lane, err)
			continue
		}

		if err := w.Process(ctx, name); err != nil {
			// Process records failures on the item itself; an error here
			// means even that bookkeeping failed.
			fmt.Fprintf(os.Stderr, "Worker %s: error processing %s: %v\n", w.lane, name, err)
		}
	}
}

// claimNext pops the lane's own queue (blocking up to the idle sleep),
// then the global overflow queue. Queue pop atomicity is the single-claim
// guarantee: no other lane can receive the same element.
func (w *Worker) claimNext(ctx context.Context) (string, error) {
	name, err := w.store.BPopQueue(ctx, state.LaneQueue(w.lane), w.idleSleep)
	if err == nil {
		return name, nil
	}
	if !errors.Is(err, state.ErrEmpty) {
		return "", err
	}

	name, err = w.store.PopQueue(ctx, state.QueueOverflow)
	if err != nil {
		return "", err
	}

	// Overflow items carry no assignment record yet; claim it for this
	// lane so self-heal has a lease to measure against.
	a := &types.Assignment{
		Tool:       name,
		Lane:       w.lane,
		Category:   mustCategory(ctx, w.repo, name),
		AssignedAt: time.Now(),
	}
	if err := w.repo.WriteAssignment(ctx, a); err != nil {
		return "", fmt.Errorf("failed to claim overflow item %s: %w", name, err)
	}
	return name, nil
}

// Process drives one tool through the development phases. Exported so the
// orchestrator tests can run a lane synchronously.
func (w *Worker) Process(ctx context.Context, name string) error {
	tool, err := w.repo.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load claimed tool %s: %w", name, err)
	}

	if err := w.markClaimed(ctx, tool); err != nil {
		return err
	}

	if err := w.develop(ctx, tool); err != nil {
		return w.handleFailure(ctx, tool, err)
	}

	// Lane is free again; development output now belongs to the quality
	// gate.
	if _, err := w.repo.ClearAssignment(ctx, w.lane); err != nil {
		fmt.Fprintf(os.Stderr, "Worker %s: warning: failed to release claim: %v\n", w.lane, err)
	}
	return nil
}

// markClaimed walks the tool to in_progress. Requeued overflow items
// arrive as pending and pass through queued on the way.
func (w *Worker) markClaimed(ctx context.Context, tool *types.Tool) error {
	if tool.Status == types.StatusPending {
		if err := w.repo.Transition(ctx, tool.Name, types.StatusPending, types.StatusQueued); err != nil {
			return err
		}
		tool.Status = types.StatusQueued
	}
	if tool.Status == types.StatusQueued {
		if err := w.repo.Transition(ctx, tool.Name, types.StatusQueued, types.StatusAssigned); err != nil {
			return err
		}
		tool.Status = types.StatusAssigned
	}
	if err := w.repo.SetLane(ctx, tool.Name, w.lane); err != nil {
		return err
	}
	if err := w.repo.Transition(ctx, tool.Name, types.StatusAssigned, types.StatusInProgress); err != nil {
		return err
	}
	tool.Status = types.StatusInProgress
	return nil
}

// develop runs the checkpointed phase sequence
func (w *Worker) develop(ctx context.Context, tool *types.Tool) error {
	set := w.collabs
	if tool.MockMode {
		set = w.mockSet
	}

	spec, err := catalog.LoadSpec(w.specDir, tool.Name)
	if err != nil {
		return err
	}
	w.checkpoint(ctx, tool.Name, progressSpecLoaded)

	req := collab.Request{
		Tool:     tool.Name,
		Category: tool.Category,
		Spec:     spec,
		MockMode: tool.MockMode,
	}

	impl, err := set.Generator.GenerateImplementation(ctx, req)
	if err != nil {
		return err
	}
	w.checkpoint(ctx, tool.Name, progressImplGenerated)

	tests, err := set.TestGenerator.GenerateTests(ctx, req, impl)
	if err != nil {
		return err
	}
	w.checkpoint(ctx, tool.Name, progressTestsGenerated)

	implPath, testPath, err := set.Writer.WriteTool(ctx, tool.Name, tool.Category, impl, tests)
	if err != nil {
		return err
	}
	w.checkpoint(ctx, tool.Name, progressFilesWritten)

	// Formatting failure is cosmetic, never fatal
	if set.Formatter != nil {
		for _, path := range []string{implPath, testPath} {
			if err := set.Formatter.Format(ctx, path); err != nil {
				fmt.Fprintf(os.Stderr, "Worker %s: warning: format %s: %v\n", w.lane, path, err)
			}
		}
	}
	w.checkpoint(ctx, tool.Name, progressFormatted)

	if err := w.repo.Transition(ctx, tool.Name, types.StatusInProgress, types.StatusNeedsReview); err != nil {
		return err
	}
	if err := w.repo.ClearError(ctx, tool.Name); err != nil {
		fmt.Fprintf(os.Stderr, "Worker %s: warning: failed to clear error on %s: %v\n", w.lane, tool.Name, err)
	}
	w.checkpoint(ctx, tool.Name, progressMarkedReview)

	if err := w.store.Publish(ctx, state.ChannelDevComplete, tool.Name); err != nil {
		// The event is a latency optimization; the quality gate's
		// reconciliation sweep will find the item regardless.
		fmt.Fprintf(os.Stderr, "Worker %s: warning: failed to publish dev-complete for %s: %v\n", w.lane, tool.Name, err)
	}
	w.checkpoint(ctx, tool.Name, progressDone)

	fmt.Printf("Worker %s: %s development complete\n", w.lane, tool.Name)
	return nil
}

// handleFailure routes a development error: blockers park the tool,
// missing or invalid specs fail permanently, everything else follows the
// auto-fix retry policy up to the ceiling.
func (w *Worker) handleFailure(ctx context.Context, tool *types.Tool, devErr error) error {
	defer func() {
		if _, err := w.repo.ClearAssignment(ctx, w.lane); err != nil {
			fmt.Fprintf(os.Stderr, "Worker %s: warning: failed to release claim: %v\n", w.lane, err)
		}
	}()

	if be, ok := collab.AsBlocker(devErr); ok {
		return w.park(ctx, tool, be)
	}

	kind := classify(devErr)
	if err := w.repo.RecordError(ctx, tool.Name, kind, devErr.Error()); err != nil {
		return err
	}

	retriable := kind == types.KindGeneration || kind == types.KindProcessing
	if retriable && w.autoFix && tool.RetryCount < w.maxRetries {
		count, err := w.repo.IncrRetry(ctx, tool.Name)
		if err != nil {
			return err
		}
		if err := w.repo.ForceStatus(ctx, tool.Name, types.StatusPending); err != nil {
			return err
		}
		if err := w.store.PushQueue(ctx, state.QueueOverflow, tool.Name); err != nil {
			return fmt.Errorf("failed to requeue %s: %w", tool.Name, err)
		}
		fmt.Printf("Worker %s: %s failed, requeued for retry %d/%d: %v\n",
			w.lane, tool.Name, count, w.maxRetries, devErr)
		return nil
	}

	if err := w.repo.ForceStatus(ctx, tool.Name, types.StatusFailed); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Worker %s: %s permanently failed (%s): %v\n", w.lane, tool.Name, kind, devErr)
	return nil
}

// park records a blocker and moves the tool into the blocked side-state
// for the orchestrator's rule table to remediate.
func (w *Worker) park(ctx context.Context, tool *types.Tool, be *collab.BlockerError) error {
	if err := w.repo.RecordBlocker(ctx, &types.Blocker{
		Tool:       tool.Name,
		Reason:     be.Reason,
		DetectedAt: time.Now(),
	}); err != nil {
		return err
	}
	if err := w.repo.RecordError(ctx, tool.Name, types.KindBlocker, be.Reason); err != nil {
		return err
	}
	if err := w.repo.ForceStatus(ctx, tool.Name, types.StatusBlocked); err != nil {
		return err
	}
	fmt.Printf("Worker %s: %s blocked: %s\n", w.lane, tool.Name, be.Reason)
	return nil
}

// checkpoint writes a progress percentage; purely observational, so
// failures are logged and ignored.
func (w *Worker) checkpoint(ctx context.Context, name string, pct int) {
	if err := w.repo.SetProgress(ctx, name, pct); err != nil {
		fmt.Fprintf(os.Stderr, "Worker %s: warning: failed to checkpoint %s at %d%%: %v\n", w.lane, name, pct, err)
	}
}

// classify maps a development error to its recorded kind
func classify(err error) string {
	if errors.Is(err, catalog.ErrSpecNotFound) {
		return types.KindSpecNotFound
	}
	if errors.Is(err, catalog.ErrSpecInvalid) {
		return types.KindValidation
	}
	var ge *collab.GenerationError
	if errors.As(err, &ge) {
		return types.KindGeneration
	}
	return types.KindProcessing
}

func mustCategory(ctx context.Context, repo *items.Repo, name string) string {
	tool, err := repo.Get(ctx, name)
	if err != nil {
		return ""
	}
	return tool.Category
}
