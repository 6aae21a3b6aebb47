package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nvandessel/pfstudy/internal/dynamic"
	"github.com/nvandessel/pfstudy/internal/results"
)

func newEMTCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emt",
		Short: "Record the phase voltages of a bus in an EMT simulation",
		Long: `Run an electromagnetic-transient simulation and write the three
phase-to-phase voltages of one bus as columns t, ula, ulb, ulc.

Examples:
  pfstudy emt                                   # configured bus and grid
  pfstudy emt --bus Bus_230kV_7 --end 0.1 -o results/emt_7.csv`,
		RunE: runEMT,
	}
	cmd.Flags().String("bus", "", "Bus to record (default from config)")
	cmd.Flags().Float64("step", 0, "Integration step in seconds (default from config)")
	cmd.Flags().Float64("end", 0, "Simulation end time in seconds (default from config)")
	cmd.Flags().StringP("output", "o", "results/emt.csv", "Waveform CSV path, '-' for stdout")
	return cmd
}

func runEMT(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	root, _ := cmd.Flags().GetString("root")
	outPath, _ := cmd.Flags().GetString("output")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts := dynamic.EMTOptions{
		Bus:  cfg.Dynamic.EMTBus,
		Step: cfg.Dynamic.EMTStep,
		End:  cfg.Dynamic.EMTEnd,
	}
	if cmd.Flags().Changed("bus") {
		opts.Bus, _ = cmd.Flags().GetString("bus")
	}
	if cmd.Flags().Changed("step") {
		opts.Step, _ = cmd.Flags().GetFloat64("step")
	}
	if cmd.Flags().Changed("end") {
		opts.End, _ = cmd.Flags().GetFloat64("end")
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	eng, err := activeEngine(ctx, cfg, root)
	if err != nil {
		return err
	}
	defer eng.Close()

	series, err := dynamic.NewStudy(eng, newLogger(cmd, cfg)).RunEMT(ctx, opts)
	if err != nil {
		return err
	}

	outPath = resolvePath(outPath, root)
	out, closeOut, err := createOutput(cmd, outPath)
	if err != nil {
		return err
	}
	defer closeOut()
	if err := results.WriteSeries(out, dynamic.PhaseColumns, series); err != nil {
		return fmt.Errorf("failed to write waveforms: %w", err)
	}
	if err := closeOut(); err != nil {
		return err
	}

	if outPath == "-" {
		return nil
	}
	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"bus":    opts.Bus,
			"points": series[0].Len(),
			"output": outPath,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d points of %s written to %s\n",
		color.GreenString("✓"), series[0].Len(), opts.Bus, outPath)
	return nil
}
