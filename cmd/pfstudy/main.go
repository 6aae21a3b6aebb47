package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pfstudy",
		Short: "Probabilistic load flow and dynamic studies for power networks",
		Long: `pfstudy runs Monte Carlo load-flow studies against a simulation engine.

Every sample scales all loads by one normally distributed factor, re-solves
the load flow (retrying with fresh draws until it converges) and records the
voltage of every bus. Results go to CSV files and to a local run history that
the analyze, cluster and runs commands read back.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("root", ".", "Project root directory")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newMonteCarloCmd(),
		newAnalyzeCmd(),
		newClusterCmd(),
		newEMTCmd(),
		newFFTCmd(),
		newShortCircuitCmd(),
		newRunsCmd(),
		newMCPServerCmd(),
		newBridgeCmd(),
	)
	return rootCmd
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	notifySignals(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
