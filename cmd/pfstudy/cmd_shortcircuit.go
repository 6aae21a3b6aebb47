package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nvandessel/pfstudy/internal/dynamic"
	"github.com/nvandessel/pfstudy/internal/engine"
	"github.com/nvandessel/pfstudy/internal/results"
)

func newShortCircuitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "shortcircuit",
		Aliases: []string{"sc"},
		Short:   "Fault every bus in turn and record a machine's response",
		Long: `Run one RMS simulation per bus with a three-phase short circuit on that
bus, and record a machine signal (by default the electrical frequency of G1).
Each fault is cleared after --duration seconds and deleted before the next
bus. Columns of the result are t followed by one column per faulted bus.

Examples:
  pfstudy shortcircuit
  pfstudy shortcircuit --machine G3 --variable s:speed --duration 0.1`,
		RunE: runShortCircuit,
	}
	cmd.Flags().String("machine", "", "Machine to record (default from config)")
	cmd.Flags().String("variable", "", "Machine variable, e.g. s:fe, s:speed (default from config)")
	cmd.Flags().Float64("fault-time", 0, "Fault time in seconds (default from config)")
	cmd.Flags().Float64("duration", 0, "Fault duration in seconds (default from config)")
	cmd.Flags().Float64("step", 0, "RMS step in seconds (default from config)")
	cmd.Flags().Float64("end", 0, "RMS end time in seconds (default from config)")
	cmd.Flags().StringP("output", "o", "results/shortcircuit.csv", "Response CSV path, '-' for stdout")
	return cmd
}

func runShortCircuit(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	root, _ := cmd.Flags().GetString("root")
	outPath, _ := cmd.Flags().GetString("output")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d := cfg.Dynamic
	opts := dynamic.SweepOptions{
		Machine:   d.Machine,
		Variable:  d.Variable,
		FaultTime: d.FaultTime,
		Duration:  d.FaultDuration,
		Step:      d.RMSStep,
		End:       d.RMSEnd,
	}
	flags := cmd.Flags()
	if flags.Changed("machine") {
		opts.Machine, _ = flags.GetString("machine")
	}
	if flags.Changed("variable") {
		opts.Variable, _ = flags.GetString("variable")
	}
	if flags.Changed("fault-time") {
		opts.FaultTime, _ = flags.GetFloat64("fault-time")
	}
	if flags.Changed("duration") {
		opts.Duration, _ = flags.GetFloat64("duration")
	}
	if flags.Changed("step") {
		opts.Step, _ = flags.GetFloat64("step")
	}
	if flags.Changed("end") {
		opts.End, _ = flags.GetFloat64("end")
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	eng, err := activeEngine(ctx, cfg, root)
	if err != nil {
		return err
	}
	defer eng.Close()

	sweep, err := dynamic.NewStudy(eng, newLogger(cmd, cfg)).ShortCircuitSweep(ctx, opts)
	if err != nil {
		return err
	}
	if len(sweep) == 0 {
		return fmt.Errorf("network has no buses to fault")
	}

	names := make([]string, len(sweep))
	series := make([]engine.Series, len(sweep))
	for i, r := range sweep {
		names[i], series[i] = r.Bus, r.Response
	}

	outPath = resolvePath(outPath, root)
	out, closeOut, err := createOutput(cmd, outPath)
	if err != nil {
		return err
	}
	defer closeOut()
	if err := results.WriteSeries(out, names, series); err != nil {
		return fmt.Errorf("failed to write responses: %w", err)
	}
	if err := closeOut(); err != nil {
		return err
	}

	if outPath == "-" {
		return nil
	}
	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"machine":  opts.Machine,
			"variable": opts.Variable,
			"buses":    names,
			"output":   outPath,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s of %s for %d faulted buses written to %s\n",
		color.GreenString("✓"), opts.Variable, opts.Machine, len(names), outPath)
	return nil
}
