package main

import (
	"context"

	"github.com/spf13/cobra"

	"toolforge/internal/orchestrator"
	"toolforge/internal/state"
)

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate",
	Short: "Run the coordinator cycle",
	Long: `Materialize the catalog into the store and run orchestration cycles:
assign pending tools to idle lanes, resolve blockers, reclaim stuck
assignments, and exit when every catalog tool has completed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRole("Orchestrator", func(ctx context.Context, store state.Store) error {
			orch, err := orchestrator.New(store, cfg)
			if err != nil {
				return err
			}
			return orch.Run(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(orchestrateCmd)
}
