package main

import (
	"context"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pfstudy/internal/results"
	"github.com/nvandessel/pfstudy/internal/runner"
	"github.com/nvandessel/pfstudy/internal/store"
)

const defaultResultFile = "results/voltages.csv"

// addInputFlags registers the flags selecting a result set.
func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().String("run", "", "Read a recorded run (ID or unique prefix) instead of a CSV file")
}

// loadTable reads the result set named by --run, or the CSV file in args
// (defaulting to the montecarlo output path).
func loadTable(ctx context.Context, cmd *cobra.Command, args []string) (*results.Table, string, error) {
	root, _ := cmd.Flags().GetString("root")
	runID, _ := cmd.Flags().GetString("run")

	if runID != "" {
		if len(args) > 0 {
			return nil, "", fmt.Errorf("--run and a CSV file are mutually exclusive")
		}
		st, err := store.Open(store.LocalPath(root))
		if err != nil {
			return nil, "", fmt.Errorf("failed to open run history: %w", err)
		}
		defer st.Close()
		run, err := st.GetRun(ctx, runID)
		if err != nil {
			return nil, "", err
		}
		samples, err := st.Samples(ctx, run.ID)
		if err != nil {
			return nil, "", err
		}
		return runner.Table(samples), "run " + run.ID, nil
	}

	path := defaultResultFile
	if len(args) > 0 {
		path = args[0]
	}
	path = resolvePath(path, root)
	t, err := results.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return t, path, nil
}

// jsonFloat maps non-finite values to null.
func jsonFloat(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
