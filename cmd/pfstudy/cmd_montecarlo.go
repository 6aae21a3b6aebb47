package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nvandessel/pfstudy/internal/config"
	"github.com/nvandessel/pfstudy/internal/engine"
	"github.com/nvandessel/pfstudy/internal/logging"
	"github.com/nvandessel/pfstudy/internal/montecarlo"
	"github.com/nvandessel/pfstudy/internal/runner"
	"github.com/nvandessel/pfstudy/internal/store"
)

func newMonteCarloCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "montecarlo",
		Aliases: []string{"mc"},
		Short:   "Run a Monte Carlo load-flow study",
		Long: `Run a probabilistic load flow on the configured project.

Each sample scales every load by k = 1 + std_dev*z (z standard normal) while
keeping the total P/Q ratio, solves the load flow and records all bus
voltages in p.u. Non-converging samples are redrawn up to --max-attempts
times; what happens afterwards is chosen by --policy:

  nan    keep the sample with NaN voltages (default)
  skip   drop the sample
  abort  stop the run with an error

Base loads are restored when the run ends, also on failure or Ctrl-C.

Examples:
  pfstudy montecarlo                                 # configured defaults
  pfstudy montecarlo --samples 500 --std-dev 0.05
  pfstudy montecarlo --seed 42 -o results/run42.csv
  pfstudy montecarlo --policy skip --load-flow unbalanced`,
		RunE: runMonteCarlo,
	}

	cmd.Flags().Int("samples", 0, "Number of samples (default from config)")
	cmd.Flags().Float64("std-dev", 0, "Standard deviation of the load scale factor (default from config)")
	cmd.Flags().Int("max-attempts", 0, "Solves per sample before giving up (default from config)")
	cmd.Flags().String("policy", "", "Policy for non-converging samples: nan, skip, abort")
	cmd.Flags().String("load-flow", "", "Load-flow mode: balanced, unbalanced, dc")
	cmd.Flags().Uint64("seed", 0, "Random seed (0 = random, reported after the run)")
	cmd.Flags().StringP("output", "o", "results/voltages.csv", "Result CSV path, '-' for stdout")
	cmd.Flags().Bool("no-store", false, "Do not record the run in the local run history")
	cmd.Flags().Bool("quiet", false, "Suppress the progress line")
	cmd.Flags().StringArray("out-of-service", nil, "Element pattern taken out of service for the run (repeatable)")
	cmd.Flags().StringArray("open-switches", nil, "Toggle the switches of elements matching this pattern for the run (repeatable)")
	return cmd
}

func runMonteCarlo(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	root, _ := cmd.Flags().GetString("root")
	outPath, _ := cmd.Flags().GetString("output")
	noStore, _ := cmd.Flags().GetBool("no-store")
	quiet, _ := cmd.Flags().GetBool("quiet")
	outOfService, _ := cmd.Flags().GetStringArray("out-of-service")
	openSwitches, _ := cmd.Flags().GetStringArray("open-switches")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts, seed, err := monteCarloOptions(cmd, cfg)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	eng, err := openEngine(cfg, root)
	if err != nil {
		return err
	}
	defer eng.Close()

	params := runner.Params{
		Engine:     eng,
		EngineKind: cfg.Engine.Kind,
		Project:    projectOf(cfg),
		Options:    opts,
		Seed:       seed,
		Logger:     logger,

		OutOfService: outOfService,
		OpenSwitches: openSwitches,
	}

	if !noStore {
		st, err := store.Open(store.LocalPath(root))
		if err != nil {
			return fmt.Errorf("failed to open run history: %w", err)
		}
		defer st.Close()
		params.Store = st
	}

	tracer := logging.NewTraceLogger(store.LocalPath(root), cfg.Logging.Level)
	defer tracer.Close()
	if tracer != nil {
		params.Tracer = tracer
	}

	outPath = resolvePath(outPath, root)
	out, closeOut, err := createOutput(cmd, outPath)
	if err != nil {
		return err
	}
	defer closeOut()
	params.CSV = out

	if !quiet && !jsonOut && outPath != "-" {
		params.Options.Progress = progressPrinter(cmd.ErrOrStderr(), time.Now())
	}

	rep, err := runner.Run(ctx, params)
	if params.Options.Progress != nil && rep.Emitted+rep.Skipped > 0 {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if err != nil {
		if rep.RunID != "" {
			return fmt.Errorf("run %s: %w", rep.RunID, err)
		}
		return err
	}
	if err := closeOut(); err != nil {
		return fmt.Errorf("failed to close %s: %w", outPath, err)
	}

	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"report": rep,
			"output": outPath,
		})
	}
	if outPath == "-" {
		return nil
	}

	w := cmd.OutOrStdout()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Fprintf(w, "%s %d samples written to %s\n", green("✓"), rep.Emitted, outPath)
	if rep.RunID != "" {
		fmt.Fprintf(w, "  Run:       %s\n", rep.RunID)
	}
	fmt.Fprintf(w, "  Seed:      %d\n", rep.Seed)
	fmt.Fprintf(w, "  Converged: %d\n", rep.Converged)
	if rep.Exhausted > 0 {
		fmt.Fprintf(w, "  %s %d\n", yellow("Exhausted:"), rep.Exhausted)
	}
	if rep.Skipped > 0 {
		fmt.Fprintf(w, "  %s   %d\n", yellow("Skipped:"), rep.Skipped)
	}
	if rep.Toggled > 0 {
		fmt.Fprintf(w, "  Toggled:   %d\n", rep.Toggled)
	}
	fmt.Fprintf(w, "  Buses:     %d\n", len(rep.Buses))
	fmt.Fprintf(w, "  Elapsed:   %s\n", formatElapsed(rep.Elapsed))
	return nil
}

// monteCarloOptions merges command flags over the configured defaults.
func monteCarloOptions(cmd *cobra.Command, cfg *config.Config) (montecarlo.Options, uint64, error) {
	mc := cfg.MonteCarlo
	opts := montecarlo.Options{
		Samples:     mc.Samples,
		StdDev:      mc.StdDev,
		MaxAttempts: mc.MaxAttempts,
	}
	policy, loadFlow, seed := mc.Policy, mc.LoadFlow, mc.Seed

	flags := cmd.Flags()
	if flags.Changed("samples") {
		opts.Samples, _ = flags.GetInt("samples")
	}
	if flags.Changed("std-dev") {
		opts.StdDev, _ = flags.GetFloat64("std-dev")
	}
	if flags.Changed("max-attempts") {
		opts.MaxAttempts, _ = flags.GetInt("max-attempts")
	}
	if flags.Changed("policy") {
		policy, _ = flags.GetString("policy")
	}
	if flags.Changed("load-flow") {
		loadFlow, _ = flags.GetString("load-flow")
	}
	if flags.Changed("seed") {
		seed, _ = flags.GetUint64("seed")
	}

	p, err := montecarlo.ParsePolicy(policy)
	if err != nil {
		return opts, 0, err
	}
	opts.Policy = p
	mode, err := engine.ParseLoadFlowMode(loadFlow)
	if err != nil {
		return opts, 0, err
	}
	opts.Mode = mode
	return opts, seed, opts.Validate()
}

// progressPrinter rewrites one status line per sample.
func progressPrinter(w io.Writer, start time.Time) func(done, total int) {
	return func(done, total int) {
		pct := 100
		if total > 0 {
			pct = done * 100 / total
		}
		fmt.Fprintf(w, "\rSimulation progress: %d %%    Elapsed time: %s", pct, formatElapsed(time.Since(start)))
	}
}

// formatElapsed renders d as h:mm:ss.
func formatElapsed(d time.Duration) string {
	s := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%d:%02d:%02d", s/3600, s/60%60, s%60)
}
