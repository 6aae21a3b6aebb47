package main

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nvandessel/pfstudy/internal/analysis"
	"github.com/nvandessel/pfstudy/internal/results"
)

type busStats struct {
	Bus    string   `json:"bus"`
	Count  int      `json:"count"`
	Mean   *float64 `json:"mean"`
	Std    *float64 `json:"std"`
	Min    *float64 `json:"min"`
	Q25    *float64 `json:"q25"`
	Median *float64 `json:"median"`
	Q75    *float64 `json:"q75"`
	Max    *float64 `json:"max"`
}

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [results.csv]",
		Short: "Summarize bus voltages of a Monte Carlo result",
		Long: `Print per-bus statistics (count, mean, std, min, quartiles, max) of a
result file or recorded run, and list the buses whose voltage ever exceeds
the threshold. NaN voltages of non-converged samples are left out of each
bus's statistics.

Examples:
  pfstudy analyze                          # results/voltages.csv
  pfstudy analyze --run 3f2a --threshold 1.05
  pfstudy analyze --histogram Bus_230kV_7 --bins 20`,
		Args: cobra.MaximumNArgs(1),
		RunE: runAnalyze,
	}
	addInputFlags(cmd)
	cmd.Flags().Float64("threshold", 0, "Voltage threshold in p.u. (default from config)")
	cmd.Flags().String("histogram", "", "Print a histogram of one bus")
	cmd.Flags().Int("bins", 0, "Histogram bins (default from config)")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	histBus, _ := cmd.Flags().GetString("histogram")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	threshold := cfg.Analysis.Threshold
	if cmd.Flags().Changed("threshold") {
		threshold, _ = cmd.Flags().GetFloat64("threshold")
	}
	bins := cfg.Analysis.Bins
	if cmd.Flags().Changed("bins") {
		bins, _ = cmd.Flags().GetInt("bins")
	}

	table, source, err := loadTable(cmd.Context(), cmd, args)
	if err != nil {
		return err
	}
	if len(table.Columns) == 0 {
		return fmt.Errorf("%s has no bus columns", source)
	}

	complete := table.Complete()
	summaries := analysis.Describe(table)
	exceeding := analysis.Exceeding(table, threshold)
	if exceeding == nil {
		exceeding = []string{}
	}

	var hist *analysis.Histogram
	if histBus != "" {
		hist, err = analysis.NewHistogram(table, histBus, bins)
		if err != nil {
			return err
		}
	}

	if jsonOut {
		stats := make([]busStats, 0, len(summaries))
		for _, s := range summaries {
			stats = append(stats, busStats{
				Bus: s.Bus, Count: s.Count,
				Mean: jsonFloat(s.Mean), Std: jsonFloat(s.Std),
				Min: jsonFloat(s.Min), Q25: jsonFloat(s.Q25), Median: jsonFloat(s.Median),
				Q75: jsonFloat(s.Q75), Max: jsonFloat(s.Max),
			})
		}
		out := map[string]any{
			"source":    source,
			"rows":      len(table.Rows),
			"complete":  len(complete.Rows),
			"threshold": threshold,
			"buses":     stats,
			"exceeding": exceeding,
		}
		if hist != nil {
			out["histogram"] = hist
		}
		return writeJSON(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	bold := color.New(color.Bold).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	fmt.Fprintf(w, "%s (%d samples, %d complete)\n\n", bold(source), len(table.Rows), len(complete.Rows))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "bus\tcount\tmean\tstd\tmin\t25%\t50%\t75%\tmax\t")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n", s.Bus, s.Count,
			results.FormatFloat(s.Mean), results.FormatFloat(s.Std), results.FormatFloat(s.Min),
			results.FormatFloat(s.Q25), results.FormatFloat(s.Median), results.FormatFloat(s.Q75),
			results.FormatFloat(s.Max))
	}
	tw.Flush()
	fmt.Fprintln(w)

	if len(exceeding) == 0 {
		fmt.Fprintf(w, "%s No bus exceeds %g p.u.\n", green("✓"), threshold)
	} else {
		fmt.Fprintf(w, "%s Buses above %g p.u.: %s\n", red("!"), threshold, strings.Join(exceeding, ", "))
	}

	if hist != nil {
		fmt.Fprintln(w)
		printHistogram(cmd, hist)
	}
	return nil
}

const histogramWidth = 40

func printHistogram(cmd *cobra.Command, h *analysis.Histogram) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Histogram of %s:\n", h.Bus)
	peak := slices.Max(h.Counts)
	for i, c := range h.Counts {
		bar := 0
		if peak > 0 {
			bar = int(c / peak * histogramWidth)
		}
		fmt.Fprintf(w, "  [%.4f, %.4f) %6.0f %s\n", h.Edges[i], h.Edges[i+1], c, strings.Repeat("█", bar))
	}
}
