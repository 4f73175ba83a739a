package main

import (
	"context"

	"github.com/spf13/cobra"

	"toolforge/internal/advancer"
	"toolforge/internal/collab"
	"toolforge/internal/state"
)

var documenterDir string

var documenterCmd = &cobra.Command{
	Use:   "documenter",
	Short: "Run the documentation stage",
	Long: `Watch for tools passing the quality gate, render their documentation
pages from the spec files, and mark them completed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRole("Documenter", func(ctx context.Context, store state.Store) error {
			docs := collab.NewMarkdownDocGenerator(cfg.SpecDir, documenterDir)
			stage, err := advancer.NewDocumentation(store, docs, cfg.PollInterval, cfg.EventWait)
			if err != nil {
				return err
			}
			return stage.Run(ctx)
		})
	},
}

func init() {
	documenterCmd.Flags().StringVar(&documenterDir, "docs", "docs", "directory for generated documentation")
	rootCmd.AddCommand(documenterCmd)
}
