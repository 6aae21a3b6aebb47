package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nvandessel/pfstudy/internal/runner"
	"github.com/nvandessel/pfstudy/internal/store"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the local run history",
		Long: `List, show, export and delete recorded Monte Carlo runs.

Runs are stored in .pfstudy/pfstudy.db under the project root. Run IDs may be
abbreviated to any unique prefix.

Examples:
  pfstudy runs list
  pfstudy runs show 3f2a
  pfstudy runs export 3f2a -o results/3f2a.csv
  pfstudy runs delete 3f2a`,
	}
	cmd.AddCommand(
		newRunsListCmd(),
		newRunsShowCmd(),
		newRunsExportCmd(),
		newRunsDeleteCmd(),
	)
	return cmd
}

func openRunStore(cmd *cobra.Command) (*store.SQLiteStore, error) {
	root, _ := cmd.Flags().GetString("root")
	st, err := store.Open(store.LocalPath(root))
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	return st, nil
}

func newRunsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")

			st, err := openRunStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut {
				if runs == nil {
					runs = []store.Run{}
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{"runs": runs, "count": len(runs)})
			}

			w := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(w, "No runs recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tSTATUS\tSAMPLES\tSTD DEV\tPOLICY\tPROJECT")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%g\t%s\t%s\n",
					shortID(r.ID), r.CreatedAt.Local().Format(time.DateTime), statusColor(r.Status),
					r.Recorded, r.Samples, r.StdDev, r.Policy, r.Project)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			st, err := openRunStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			r, err := st.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), r)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Run %s\n", color.New(color.Bold).Sprint(r.ID))
			fmt.Fprintf(w, "  Status:       %s\n", statusColor(r.Status))
			if r.Error != "" {
				fmt.Fprintf(w, "  Error:        %s\n", r.Error)
			}
			fmt.Fprintf(w, "  Project:      %s\n", r.Project)
			fmt.Fprintf(w, "  Engine:       %s\n", r.Engine)
			fmt.Fprintf(w, "  Load flow:    %s\n", r.LoadFlow)
			fmt.Fprintf(w, "  Samples:      %d recorded of %d requested\n", r.Recorded, r.Samples)
			fmt.Fprintf(w, "  Converged:    %d\n", r.Converged)
			fmt.Fprintf(w, "  Exhausted:    %d\n", r.Exhausted)
			fmt.Fprintf(w, "  Std dev:      %g\n", r.StdDev)
			fmt.Fprintf(w, "  Max attempts: %d\n", r.MaxAttempts)
			fmt.Fprintf(w, "  Policy:       %s\n", r.Policy)
			fmt.Fprintf(w, "  Seed:         %d\n", r.Seed)
			fmt.Fprintf(w, "  Created:      %s\n", r.CreatedAt.Local().Format(time.DateTime))
			if r.FinishedAt != nil {
				fmt.Fprintf(w, "  Finished:     %s (%s)\n", r.FinishedAt.Local().Format(time.DateTime),
					r.FinishedAt.Sub(r.CreatedAt).Round(time.Millisecond))
			}
			return nil
		},
	}
}

func newRunsExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Write a run's samples as a result CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			root, _ := cmd.Flags().GetString("root")
			outPath, _ := cmd.Flags().GetString("output")

			st, err := openRunStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			r, err := st.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = fmt.Sprintf("results/run_%s.csv", shortID(r.ID))
			}
			outPath = resolvePath(outPath, root)
			out, closeOut, err := createOutput(cmd, outPath)
			if err != nil {
				return err
			}
			defer closeOut()

			n, err := runner.Export(cmd.Context(), st, r.ID, out)
			if err != nil {
				return fmt.Errorf("export run %s: %w", r.ID, err)
			}
			if err := closeOut(); err != nil {
				return err
			}

			if outPath == "-" {
				return nil
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"run_id": r.ID, "rows": n, "output": outPath})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d samples of run %s written to %s\n",
				color.GreenString("✓"), n, shortID(r.ID), outPath)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "CSV path, '-' for stdout (default results/run_<id>.csv)")
	return cmd
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its samples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			st, err := openRunStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			r, err := st.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := st.DeleteRun(cmd.Context(), r.ID); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"status": "deleted", "run_id": r.ID})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", r.ID)
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func statusColor(status string) string {
	switch status {
	case store.StatusCompleted:
		return color.GreenString(status)
	case store.StatusFailed:
		return color.RedString(status)
	case store.StatusCancelled, store.StatusRunning:
		return color.YellowString(status)
	default:
		return status
	}
}
