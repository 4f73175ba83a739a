package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"toolforge/internal/items"
	"toolforge/internal/metrics"
	"toolforge/internal/state"
	"toolforge/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline status",
	Long:  `Display the latest metrics snapshot, lane claims, blocked tools, and orchestrator liveness.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		store, err := connectStore(ctx)
		if err != nil {
			return fmt.Errorf("failed to connect to store: %w", err)
		}
		defer store.Close()

		printStatus(ctx, store)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func printStatus(ctx context.Context, store state.Store) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== Tool Pipeline Status ==="))

	// Orchestrator liveness
	heartbeat, err := store.Get(ctx, state.KeyOrchestratorHeartbeat)
	switch {
	case err == nil:
		parts := strings.SplitN(heartbeat, " ", 2)
		fmt.Printf("%s %s %s\n", green("●"), "Orchestrator live", gray(parts[0]))
	default:
		fmt.Printf("%s %s\n", red("○"), "No orchestrator heartbeat")
	}
	fmt.Println()

	// Snapshot
	snap, err := metrics.Load(ctx, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load snapshot: %v\n", err)
		return
	}
	fmt.Printf("%s\n", yellow("Progress:"))
	if snap == nil {
		fmt.Printf("  %s\n", gray("No snapshot published yet"))
	} else {
		fmt.Printf("  Completed:   %s / %d\n", green(fmt.Sprintf("%d", snap.Completed)), snap.Total)
		fmt.Printf("  In progress: %d\n", snap.InProgress)
		fmt.Printf("  Pending:     %d\n", snap.Pending)
		if snap.Blocked > 0 {
			fmt.Printf("  Blocked:     %s\n", yellow(fmt.Sprintf("%d", snap.Blocked)))
		}
		if snap.Failed > 0 {
			fmt.Printf("  Failed:      %s\n", red(fmt.Sprintf("%d", snap.Failed)))
		}
		fmt.Printf("  %s\n", gray("as of "+snap.TakenAt.Format(time.RFC3339)))
	}
	fmt.Println()

	repo := items.NewRepo(store)

	// Lane claims
	fmt.Printf("%s\n", yellow("Lanes:"))
	for _, lane := range cfg.LaneIDs() {
		a, err := repo.GetAssignment(ctx, lane)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  Error reading %s: %v\n", lane, err)
			continue
		}
		if a == nil {
			fmt.Printf("  %s %s %s\n", gray("○"), lane, gray("idle"))
			continue
		}
		tool, err := repo.Get(ctx, a.Tool)
		detail := ""
		if err == nil {
			detail = fmt.Sprintf("(%s, %d%%)", tool.Status, tool.Progress)
		}
		fmt.Printf("  %s %s working %s %s held %s\n",
			green("●"), lane, a.Tool, detail, time.Since(a.AssignedAt).Round(time.Second))
	}
	fmt.Println()

	// Blocked tools
	blocked, err := repo.BlockedTools(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to list blocked tools: %v\n", err)
		return
	}
	if len(blocked) > 0 {
		fmt.Printf("%s\n", yellow("Blocked:"))
		for _, name := range blocked {
			blocker, err := repo.GetBlocker(ctx, name)
			reason := ""
			if err == nil && blocker != nil {
				reason = blocker.Reason
			}
			fmt.Printf("  %s %s %s\n", red("!"), name, gray(reason))
		}
		fmt.Println()
	}

	// Failed tools with their recorded errors
	failed, err := repo.ListByStatus(ctx, types.StatusFailed)
	if err == nil && len(failed) > 0 {
		fmt.Printf("%s\n", yellow("Failed:"))
		for _, tool := range failed {
			fmt.Printf("  %s %s %s\n", red("✗"), tool.Name, gray(tool.Error.String()))
		}
		fmt.Println()
	}
}
