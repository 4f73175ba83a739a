// forged is the tool-pipeline daemon. Each subcommand runs one role
// (orchestrate, worker, tester, documenter) against the shared store, or
// all of them in one process (run). All roles coordinate exclusively
// through the store, so roles can be spread across machines.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"toolforge/internal/config"
	"toolforge/internal/state"
)

var (
	cfg       *config.Config
	useMemory bool
)

var rootCmd = &cobra.Command{
	Use:   "forged",
	Short: "Distributed tool-pipeline coordinator",
	Long: `forged drives a catalog of tools through development, quality gate and
documentation stages over a shared Redis store. Run each role as its own
process, or everything together with 'forged run'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.FromEnv()
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&useMemory, "memory", false,
		"use an in-process store instead of Redis (single-process runs only)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// connectStore opens the shared store. Redis connectivity is verified with
// the bounded startup retry; failure here is fatal.
func connectStore(ctx context.Context) (state.Store, error) {
	if useMemory {
		return state.NewMemory(), nil
	}
	cc := state.DefaultConnectConfig(cfg.StoreAddr)
	cc.Redis.Password = cfg.StorePassword
	cc.Redis.DB = cfg.StoreDB
	if cfg.ConnectAttempts > 0 {
		cc.MaxAttempts = cfg.ConnectAttempts
	}
	if cfg.ConnectBackoff > 0 {
		cc.Backoff = cfg.ConnectBackoff
	}
	return state.Connect(ctx, cc)
}

// signalContext returns a context canceled on SIGINT/SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runRole is the shared scaffolding for the daemon subcommands: connect,
// run the role until signaled, report how it ended.
func runRole(name string, role func(ctx context.Context, store state.Store) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	store, err := connectStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to store: %w", err)
	}
	defer store.Close()

	err = role(ctx, store)
	if err == nil {
		fmt.Printf("%s finished\n", name)
		return nil
	}
	if ctx.Err() != nil {
		fmt.Printf("\n%s stopped\n", name)
		return nil
	}
	return err
}
