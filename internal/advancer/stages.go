package advancer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"toolforge/internal/collab"
	"toolforge/internal/state"
	"toolforge/internal/types"
)

// NewQualityGate builds the stage that runs a tool's generated tests and
// enforces the coverage floor. Failures send the tool back through
// development with a fresh retry budget.
func NewQualityGate(store state.Store, runner collab.TestRunner, minCoverage float64, poll, wait time.Duration) (*Advancer, error) {
	if runner == nil {
		return nil, fmt.Errorf("test runner is required")
	}
	stage := Stage{
		Name:                "quality-gate",
		Precondition:        types.StatusNeedsReview,
		OnPass:              types.StatusTested,
		OnFail:              types.StatusTestFailed,
		Trigger:             state.ChannelDevComplete,
		Emits:               state.ChannelTested,
		FailKind:            types.KindQualityGate,
		RequeueOnFail:       true,
		ResetRetryOnRequeue: true,
		Check: func(ctx context.Context, tool *types.Tool) (Verdict, error) {
			report, err := runner.Run(ctx, tool.Name, tool.Category)
			if err != nil {
				return Verdict{}, err
			}
			if !report.Passed {
				return Verdict{Detail: failureDetail(report)}, nil
			}
			if report.Coverage < minCoverage {
				return Verdict{Detail: fmt.Sprintf("coverage %.1f%% below minimum %.1f%%", report.Coverage, minCoverage)}, nil
			}
			return Verdict{Pass: true}, nil
		},
	}
	return New(store, stage, poll, wait)
}

// NewDocumentation builds the stage that generates documentation for
// tested tools and declares them complete. Documentation failures are
// counted but never requeued; a doc_failed tool waits for manual
// attention.
func NewDocumentation(store state.Store, docs collab.DocGenerator, poll, wait time.Duration) (*Advancer, error) {
	if docs == nil {
		return nil, fmt.Errorf("doc generator is required")
	}
	stage := Stage{
		Name:         "documentation",
		Precondition: types.StatusTested,
		OnPass:       types.StatusCompleted,
		OnFail:       types.StatusDocFailed,
		Trigger:      state.ChannelTested,
		Emits:        state.ChannelToolComplete,
		ReviewQueue:  state.QueueReview,
		PassCounter:  state.CounterCompleted,
		FailCounter:  state.CounterDocFailures,
		FailKind:     types.KindProcessing,
		Check: func(ctx context.Context, tool *types.Tool) (Verdict, error) {
			report, err := docs.Generate(ctx, tool.Name, tool.Category)
			if err != nil {
				return Verdict{}, err
			}
			if !report.Generated {
				return Verdict{Detail: "documentation generation produced no output"}, nil
			}
			return Verdict{Pass: true}, nil
		},
	}
	return New(store, stage, poll, wait)
}

func failureDetail(report *collab.TestReport) string {
	if len(report.Errors) == 0 {
		return "tests failed"
	}
	return "tests failed: " + strings.Join(report.Errors, "; ")
}
