package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"toolforge/internal/collab"
	"toolforge/internal/config"
	"toolforge/internal/state"
	"toolforge/internal/worker"
)

var workerLane string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run worker lanes",
	Long: `Run the development lanes. With --lane, runs a single named lane;
otherwise runs the full configured lane set in this process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRole("Worker", func(ctx context.Context, store state.Store) error {
			lanes := cfg.LaneIDs()
			if workerLane != "" {
				lanes = []string{workerLane}
			}
			return runLanes(ctx, store, cfg, lanes)
		})
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerLane, "lane", "", "run only this lane (e.g. lane-2)")
	rootCmd.AddCommand(workerCmd)
}

// runLanes runs one worker goroutine per lane until the context is
// canceled.
func runLanes(ctx context.Context, store state.Store, cfg *config.Config, lanes []string) error {
	collabs := developmentSet(cfg)

	g, ctx := errgroup.WithContext(ctx)
	for _, lane := range lanes {
		w, err := worker.New(worker.ConfigFromShared(cfg, lane, store, collabs))
		if err != nil {
			return fmt.Errorf("failed to create worker for %s: %w", lane, err)
		}
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}

// developmentSet builds the development collaborators. The shipped
// generator set is the deterministic mock engine writing real files; the
// formatter is black when available.
func developmentSet(cfg *config.Config) collab.Set {
	set := collab.MockSet(collab.NewDirWriter(cfg.OutputDir))
	set.Formatter = collab.NewExecFormatter()
	return set
}
