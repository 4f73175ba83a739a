// Package advancer runs the post-development pipeline stages. Each stage
// watches for tools in its precondition status, runs a verdict check, and
// moves the tool forward or sideways through the shared transition
// function.
package advancer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"toolforge/internal/items"
	"toolforge/internal/state"
	"toolforge/internal/types"
)

// Verdict is the outcome of one stage check
type Verdict struct {
	Pass   bool
	Detail string
}

// Stage declares one pipeline stage. The engine is generic; everything
// stage-specific lives here.
type Stage struct {
	Name string

	// Precondition is the only status the stage will act on. Anything
	// else observed at check time is dropped, which makes the event path
	// and the sweep safe to race.
	Precondition types.Status
	OnPass       types.Status
	OnFail       types.Status

	// Trigger is the channel whose messages name tools to check
	// immediately. The periodic sweep backstops lost messages.
	Trigger string

	// Emits, when set, is published with the tool name after a pass
	Emits string

	// ReviewQueue, when set, receives the tool name after a pass so the
	// orchestrator's review step can do final bookkeeping.
	ReviewQueue string

	// PassCounter, when set, is incremented once per pass
	PassCounter string
	// FailCounter, when set, is incremented once per fail
	FailCounter string

	// FailKind is the error kind recorded on a failing tool
	FailKind string

	// RequeueOnFail pushes a failed tool back onto the overflow queue
	// for another development pass. ResetRetryOnRequeue zeroes the retry
	// counter first, so gate failures restart the retry budget.
	RequeueOnFail       bool
	ResetRetryOnRequeue bool

	// Check produces the verdict. An error leaves the tool untouched in
	// its precondition status for the next sweep.
	Check func(ctx context.Context, tool *types.Tool) (Verdict, error)
}

// Advancer drives one stage over the shared store
type Advancer struct {
	store state.Store
	repo  *items.Repo
	stage Stage
	poll  time.Duration
	wait  time.Duration
}

// New creates an advancer for the given stage. poll is the reconciliation
// sweep interval; wait bounds each event-channel receive.
func New(store state.Store, stage Stage, poll, wait time.Duration) (*Advancer, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if stage.Check == nil {
		return nil, fmt.Errorf("stage %s has no check", stage.Name)
	}
	if poll <= 0 {
		poll = 5 * time.Second
	}
	if wait <= 0 {
		wait = time.Second
	}
	return &Advancer{
		store: store,
		repo:  items.NewRepo(store),
		stage: stage,
		poll:  poll,
		wait:  wait,
	}, nil
}

// Run executes the event loop and the reconciliation sweep until the
// context is canceled. Both paths funnel into Advance, whose precondition
// check makes double delivery harmless.
func (a *Advancer) Run(ctx context.Context) error {
	fmt.Printf("Advancer %s: started (poll=%s)\n", a.stage.Name, a.poll)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.eventLoop(ctx) })
	g.Go(func() error { return a.sweepLoop(ctx) })
	return g.Wait()
}

func (a *Advancer) eventLoop(ctx context.Context) error {
	if a.stage.Trigger == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	sub, err := a.store.Subscribe(ctx, a.stage.Trigger)
	if err != nil {
		// The sweep still advances everything, just slower
		fmt.Fprintf(os.Stderr, "Advancer %s: warning: subscribe failed, sweep-only mode: %v\n", a.stage.Name, err)
		<-ctx.Done()
		return ctx.Err()
	}
	defer sub.Close()

	for {
		name, err := sub.Next(ctx, a.wait)
		if errors.Is(err, state.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(os.Stderr, "Advancer %s: error receiving event: %v\n", a.stage.Name, err)
			continue
		}
		if err := a.Advance(ctx, name); err != nil {
			fmt.Fprintf(os.Stderr, "Advancer %s: error advancing %s: %v\n", a.stage.Name, name, err)
		}
	}
}

func (a *Advancer) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Sweep(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Advancer %s: sweep error: %v\n", a.stage.Name, err)
			}
		}
	}
}

// Sweep checks every tool currently sitting in the stage's precondition
// status. This is the backstop for events lost while nobody was
// subscribed.
func (a *Advancer) Sweep(ctx context.Context) error {
	tools, err := a.repo.ListByStatus(ctx, a.stage.Precondition)
	if err != nil {
		return err
	}
	for _, tool := range tools {
		if err := a.Advance(ctx, tool.Name); err != nil {
			fmt.Fprintf(os.Stderr, "Advancer %s: error advancing %s: %v\n", a.stage.Name, tool.Name, err)
		}
	}
	return nil
}

// Advance runs the stage check on one tool. Idempotent: a tool no longer
// in the precondition status is dropped without effect, so concurrent
// deliveries of the same name collapse to one advancement.
func (a *Advancer) Advance(ctx context.Context, name string) error {
	tool, err := a.repo.Get(ctx, name)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Advancer %s: warning: event for unknown tool %s\n", a.stage.Name, name)
			return nil
		}
		return err
	}
	if tool.Status != a.stage.Precondition {
		return nil // already handled, or not ready yet
	}

	verdict, err := a.stage.Check(ctx, tool)
	if err != nil {
		return fmt.Errorf("%s check failed for %s: %w", a.stage.Name, name, err)
	}

	if verdict.Pass {
		return a.pass(ctx, tool, verdict)
	}
	return a.fail(ctx, tool, verdict)
}

func (a *Advancer) pass(ctx context.Context, tool *types.Tool, verdict Verdict) error {
	err := a.repo.Transition(ctx, tool.Name, a.stage.Precondition, a.stage.OnPass)
	if errors.Is(err, items.ErrPrecondition) {
		return nil // lost the race to another checker
	}
	if err != nil {
		return err
	}

	if a.stage.PassCounter != "" {
		if _, err := a.store.Incr(ctx, a.stage.PassCounter, 1); err != nil {
			fmt.Fprintf(os.Stderr, "Advancer %s: warning: failed to count pass: %v\n", a.stage.Name, err)
		}
	}
	if a.stage.Emits != "" {
		if err := a.store.Publish(ctx, a.stage.Emits, tool.Name); err != nil {
			fmt.Fprintf(os.Stderr, "Advancer %s: warning: failed to publish for %s: %v\n", a.stage.Name, tool.Name, err)
		}
	}
	if a.stage.ReviewQueue != "" {
		if err := a.store.PushQueue(ctx, a.stage.ReviewQueue, tool.Name); err != nil {
			fmt.Fprintf(os.Stderr, "Advancer %s: warning: failed to enqueue %s for review: %v\n", a.stage.Name, tool.Name, err)
		}
	}
	fmt.Printf("Advancer %s: %s passed -> %s\n", a.stage.Name, tool.Name, a.stage.OnPass)
	return nil
}

func (a *Advancer) fail(ctx context.Context, tool *types.Tool, verdict Verdict) error {
	err := a.repo.Transition(ctx, tool.Name, a.stage.Precondition, a.stage.OnFail)
	if errors.Is(err, items.ErrPrecondition) {
		return nil
	}
	if err != nil {
		return err
	}

	kind := a.stage.FailKind
	if kind == "" {
		kind = types.KindQualityGate
	}
	if err := a.repo.RecordError(ctx, tool.Name, kind, verdict.Detail); err != nil {
		fmt.Fprintf(os.Stderr, "Advancer %s: warning: failed to record failure on %s: %v\n", a.stage.Name, tool.Name, err)
	}
	if a.stage.FailCounter != "" {
		if _, err := a.store.Incr(ctx, a.stage.FailCounter, 1); err != nil {
			fmt.Fprintf(os.Stderr, "Advancer %s: warning: failed to count fail: %v\n", a.stage.Name, err)
		}
	}

	fmt.Printf("Advancer %s: %s failed -> %s: %s\n", a.stage.Name, tool.Name, a.stage.OnFail, verdict.Detail)

	if !a.stage.RequeueOnFail {
		return nil
	}
	if a.stage.ResetRetryOnRequeue {
		if err := a.repo.ResetRetry(ctx, tool.Name); err != nil {
			fmt.Fprintf(os.Stderr, "Advancer %s: warning: failed to reset retries on %s: %v\n", a.stage.Name, tool.Name, err)
		}
	}
	if err := a.repo.Transition(ctx, tool.Name, a.stage.OnFail, types.StatusPending); err != nil {
		return fmt.Errorf("failed to requeue %s: %w", tool.Name, err)
	}
	if err := a.store.PushQueue(ctx, state.QueueOverflow, tool.Name); err != nil {
		return fmt.Errorf("failed to requeue %s: %w", tool.Name, err)
	}
	fmt.Printf("Advancer %s: %s requeued for another development pass\n", a.stage.Name, tool.Name)
	return nil
}
