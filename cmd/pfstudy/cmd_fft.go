package main

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nvandessel/pfstudy/internal/dynamic"
	"github.com/nvandessel/pfstudy/internal/engine"
	"github.com/nvandessel/pfstudy/internal/results"
	"github.com/nvandessel/pfstudy/internal/spectrum"
)

type component struct {
	Frequency float64 `json:"frequency"`
	Magnitude float64 `json:"magnitude"`
}

func newFFTCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fft [waveform.csv]",
		Short: "Compute the amplitude spectrum of an EMT waveform",
		Long: `Compute |FFT(x)|/n of one waveform column and list its strongest
components. The waveform must have a fixed time step; pass --step to
resample a variable-step waveform first.

Examples:
  pfstudy fft                                  # results/emt.csv, column ula
  pfstudy fft results/emt.csv --column ulb --top 5
  pfstudy fft --step 1e-4 -o results/spectrum.csv`,
		Args: cobra.MaximumNArgs(1),
		RunE: runFFT,
	}
	cmd.Flags().String("column", dynamic.PhaseColumns[0], "Waveform column")
	cmd.Flags().Float64("step", 0, "Resample step in seconds for variable-step waveforms")
	cmd.Flags().Int("top", 10, "Number of components to list")
	cmd.Flags().StringP("output", "o", "", "Write the positive-frequency spectrum as CSV")
	return cmd
}

func runFFT(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	root, _ := cmd.Flags().GetString("root")
	column, _ := cmd.Flags().GetString("column")
	step, _ := cmd.Flags().GetFloat64("step")
	top, _ := cmd.Flags().GetInt("top")
	outPath, _ := cmd.Flags().GetString("output")

	path := "results/emt.csv"
	if len(args) > 0 {
		path = args[0]
	}
	path = resolvePath(path, root)
	table, err := results.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	t, err := table.Column("t")
	if err != nil {
		return err
	}
	v, err := table.Column(column)
	if err != nil {
		return err
	}

	sp, err := spectrum.Analyze(engine.Series{Time: t, Values: v}, step)
	if errors.Is(err, spectrum.ErrVariableStep) {
		return fmt.Errorf("%w; resample with --step", err)
	}
	if err != nil {
		return err
	}

	var positive []component
	for i, f := range sp.Frequencies {
		if f >= 0 {
			positive = append(positive, component{Frequency: f, Magnitude: sp.Magnitudes[i]})
		}
	}

	if outPath != "" {
		outPath = resolvePath(outPath, root)
		out, closeOut, err := createOutput(cmd, outPath)
		if err != nil {
			return err
		}
		defer closeOut()
		sink := results.NewWriter(out)
		for _, c := range positive {
			if err := sink.Write(map[string]float64{"frequency": c.Frequency, "magnitude": c.Magnitude}); err != nil {
				return err
			}
		}
		if err := sink.Flush(); err != nil {
			return err
		}
		if err := closeOut(); err != nil {
			return err
		}
	}

	strongest := slices.Clone(positive)
	slices.SortStableFunc(strongest, func(a, b component) int {
		return cmp.Compare(b.Magnitude, a.Magnitude)
	})
	if top >= 0 && top < len(strongest) {
		strongest = strongest[:top]
	}
	peakFreq, peakMag := sp.Peak()

	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"source":     path,
			"column":     column,
			"step":       sp.Step,
			"resampled":  sp.Resampled,
			"peak":       component{Frequency: peakFreq, Magnitude: peakMag},
			"components": strongest,
		})
	}
	if outPath == "-" {
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Spectrum of %s in %s (step %g s", column, path, sp.Step)
	if sp.Resampled {
		fmt.Fprint(w, ", resampled")
	}
	fmt.Fprintln(w, ")")
	fmt.Fprintf(w, "Peak: %s\n\n", color.CyanString("%.2f Hz  %.4g", peakFreq, peakMag))
	for _, c := range strongest {
		fmt.Fprintf(w, "  %10.2f Hz  %.6g\n", c.Frequency, c.Magnitude)
	}
	return nil
}
