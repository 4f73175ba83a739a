package main

import (
	"context"

	"github.com/spf13/cobra"

	"toolforge/internal/advancer"
	"toolforge/internal/collab"
	"toolforge/internal/state"
)

var testerMock bool

var testerCmd = &cobra.Command{
	Use:   "tester",
	Short: "Run the quality gate",
	Long: `Watch for tools finishing development, run their generated tests under
coverage, and advance or reject them. Rejected tools go back through
development with the failure reason attached.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRole("Quality gate", func(ctx context.Context, store state.Store) error {
			var runner collab.TestRunner = collab.NewExecTestRunner(cfg.OutputDir)
			if testerMock {
				runner = collab.MockTestRunner{Passed: true, Coverage: 100}
			}
			gate, err := advancer.NewQualityGate(store, runner, cfg.MinCoverage, cfg.PollInterval, cfg.EventWait)
			if err != nil {
				return err
			}
			return gate.Run(ctx)
		})
	},
}

func init() {
	testerCmd.Flags().BoolVar(&testerMock, "mock", false, "pass every tool without running pytest")
	rootCmd.AddCommand(testerCmd)
}
