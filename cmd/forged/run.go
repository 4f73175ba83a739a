package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"toolforge/internal/advancer"
	"toolforge/internal/collab"
	"toolforge/internal/orchestrator"
	"toolforge/internal/state"
)

var runMockGate bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every role in one process",
	Long: `Host the orchestrator, all worker lanes, the quality gate and the
documenter in a single process. With --memory this needs no Redis at all,
which makes it the quickest way to drive a catalog end to end locally.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRole("Pipeline", runAll)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runMockGate, "mock-gate", false, "pass every tool through the quality gate without running pytest")
	rootCmd.AddCommand(runCmd)
}

func runAll(ctx context.Context, store state.Store) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	orch, err := orchestrator.New(store, cfg)
	if err != nil {
		return err
	}

	var runner collab.TestRunner = collab.NewExecTestRunner(cfg.OutputDir)
	if runMockGate {
		runner = collab.MockTestRunner{Passed: true, Coverage: 100}
	}
	gate, err := advancer.NewQualityGate(store, runner, cfg.MinCoverage, cfg.PollInterval, cfg.EventWait)
	if err != nil {
		return err
	}

	docs := collab.NewMarkdownDocGenerator(cfg.SpecDir, "docs")
	documenter, err := advancer.NewDocumentation(store, docs, cfg.PollInterval, cfg.EventWait)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Orchestrator completion is pipeline completion; stop the rest
		defer cancel()
		return orch.Run(gctx)
	})
	g.Go(func() error { return gate.Run(gctx) })
	g.Go(func() error { return documenter.Run(gctx) })
	g.Go(func() error { return runLanes(gctx, store, cfg, cfg.LaneIDs()) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
