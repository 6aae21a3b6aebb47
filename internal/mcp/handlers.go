package mcp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/pfstudy/internal/analysis"
	"github.com/nvandessel/pfstudy/internal/engine"
	"github.com/nvandessel/pfstudy/internal/montecarlo"
	"github.com/nvandessel/pfstudy/internal/pathutil"
	"github.com/nvandessel/pfstudy/internal/results"
	"github.com/nvandessel/pfstudy/internal/runner"
)

// Tool names.
const (
	toolMonteCarlo = "pfstudy_montecarlo"
	toolRuns       = "pfstudy_runs"
	toolDescribe   = "pfstudy_describe"
)

// MaxToolSamples caps the samples one tool call may request.
const MaxToolSamples = 20000

const defaultRunsLimit = 20

// registerTools registers all pfstudy MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolMonteCarlo,
		Description: "Run a Monte Carlo load-flow study: scale all loads by a normally distributed factor, solve, and record bus voltages per sample",
	}, s.handleMonteCarlo)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolRuns,
		Description: "List recorded Monte Carlo runs, or show one run by ID",
	}, s.handleRuns)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        toolDescribe,
		Description: "Summarize bus voltages of a recorded run or result CSV: count, mean, std, quartiles, and buses above a threshold",
	}, s.handleDescribe)
}

func (s *Server) handleMonteCarlo(ctx context.Context, req *sdk.CallToolRequest, args MonteCarloInput) (_ *sdk.CallToolResult, _ MonteCarloOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolMonteCarlo, start, retErr, map[string]any{
			"samples": args.Samples, "std_dev": args.StdDev, "max_attempts": args.MaxAttempts,
			"policy": args.Policy, "load_flow": args.LoadFlow, "seed": args.Seed, "output_path": args.OutputPath,
		})
	}()

	if err := s.limits.check(toolMonteCarlo); err != nil {
		return nil, MonteCarloOutput{}, err
	}

	opts, err := s.monteCarloOptions(args)
	if err != nil {
		return nil, MonteCarloOutput{}, err
	}

	var outPath string
	if args.OutputPath != "" {
		outPath, err = s.sandbox.Output(args.OutputPath)
		if err != nil {
			return nil, MonteCarloOutput{}, err
		}
	}

	if !s.runMu.TryLock() {
		return nil, MonteCarloOutput{}, fmt.Errorf("a Monte Carlo run is already in progress")
	}
	defer s.runMu.Unlock()

	eng, err := s.openEngine(ctx)
	if err != nil {
		return nil, MonteCarloOutput{}, fmt.Errorf("failed to open engine: %w", err)
	}
	defer eng.Close()

	params := runner.Params{
		Engine:     eng,
		EngineKind: s.settings.Engine.Kind,
		Project:    s.project(),
		Options:    opts,
		Seed:       args.Seed,
		Store:      s.store,
		Logger:     s.logger,
	}

	var file *os.File
	if outPath != "" {
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			return nil, MonteCarloOutput{}, fmt.Errorf("failed to create output directory: %w", err)
		}
		file, err = os.Create(outPath)
		if err != nil {
			return nil, MonteCarloOutput{}, fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		params.CSV = file
	}

	rep, err := runner.Run(ctx, params)
	if err != nil {
		return nil, MonteCarloOutput{}, fmt.Errorf("run %s: %w", rep.RunID, err)
	}

	samples, err := s.store.Samples(ctx, rep.RunID)
	if err != nil {
		return nil, MonteCarloOutput{}, fmt.Errorf("failed to read back samples: %w", err)
	}
	exceeding := analysis.Exceeding(runner.Table(samples), s.settings.Analysis.Threshold)
	if exceeding == nil {
		exceeding = []string{}
	}

	return nil, MonteCarloOutput{
		RunID:      rep.RunID,
		Seed:       rep.Seed,
		Emitted:    rep.Emitted,
		Converged:  rep.Converged,
		Exhausted:  rep.Exhausted,
		Skipped:    rep.Skipped,
		Exceeding:  exceeding,
		OutputPath: outPath,
		Message: fmt.Sprintf("Run %s: %d samples (%d converged, %d non-converged, %d skipped) in %s",
			rep.RunID, rep.Emitted, rep.Converged, rep.Exhausted, rep.Skipped, rep.Elapsed.Round(time.Millisecond)),
	}, nil
}

// monteCarloOptions merges tool arguments over the configured defaults.
func (s *Server) monteCarloOptions(args MonteCarloInput) (montecarlo.Options, error) {
	mc := s.settings.MonteCarlo
	opts := montecarlo.Options{
		Samples:     mc.Samples,
		StdDev:      mc.StdDev,
		MaxAttempts: mc.MaxAttempts,
	}
	policy, loadFlow := mc.Policy, mc.LoadFlow

	if args.Samples != 0 {
		opts.Samples = args.Samples
	}
	if args.StdDev != 0 {
		opts.StdDev = args.StdDev
	}
	if args.MaxAttempts != 0 {
		opts.MaxAttempts = args.MaxAttempts
	}
	if args.Policy != "" {
		policy = args.Policy
	}
	if args.LoadFlow != "" {
		loadFlow = args.LoadFlow
	}

	if opts.Samples > MaxToolSamples {
		return opts, fmt.Errorf("samples must be at most %d, got %d", MaxToolSamples, opts.Samples)
	}
	p, err := montecarlo.ParsePolicy(policy)
	if err != nil {
		return opts, err
	}
	opts.Policy = p
	mode, err := engine.ParseLoadFlowMode(loadFlow)
	if err != nil {
		return opts, err
	}
	opts.Mode = mode
	return opts, opts.Validate()
}

func (s *Server) project() engine.Project {
	p := s.settings.Project
	return engine.Project{Folder: p.Folder, Name: p.Name, StudyCase: p.StudyCase}
}

func (s *Server) handleRuns(ctx context.Context, req *sdk.CallToolRequest, args RunsInput) (_ *sdk.CallToolResult, _ RunsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolRuns, start, retErr, map[string]any{"run_id": args.RunID, "limit": args.Limit})
	}()

	if err := s.limits.check(toolRuns); err != nil {
		return nil, RunsOutput{}, err
	}

	if args.RunID != "" {
		run, err := s.store.GetRun(ctx, args.RunID)
		if err != nil {
			return nil, RunsOutput{}, err
		}
		return nil, RunsOutput{Runs: []RunItem{runItem(*run)}, Count: 1}, nil
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, RunsOutput{}, fmt.Errorf("failed to list runs: %w", err)
	}
	items := make([]RunItem, 0, len(runs))
	for _, r := range runs {
		items = append(items, runItem(r))
	}
	return nil, RunsOutput{Runs: items, Count: len(items)}, nil
}

func (s *Server) handleDescribe(ctx context.Context, req *sdk.CallToolRequest, args DescribeInput) (_ *sdk.CallToolResult, _ DescribeOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(toolDescribe, start, retErr, map[string]any{
			"run_id": args.RunID, "csv_path": args.CSVPath, "threshold": args.Threshold,
		})
	}()

	if err := s.limits.check(toolDescribe); err != nil {
		return nil, DescribeOutput{}, err
	}

	var table *results.Table
	switch {
	case args.RunID != "" && args.CSVPath != "":
		return nil, DescribeOutput{}, errors.New("run_id and csv_path are mutually exclusive")
	case args.RunID != "":
		samples, err := s.store.Samples(ctx, args.RunID)
		if err != nil {
			return nil, DescribeOutput{}, err
		}
		table = runner.Table(samples)
	case args.CSVPath != "":
		path, err := s.sandbox.Resolve(args.CSVPath)
		if err != nil {
			return nil, DescribeOutput{}, err
		}
		table, err = results.ReadFile(path)
		if err != nil {
			return nil, DescribeOutput{}, fmt.Errorf("failed to read %s: %w", pathutil.Redact(path), err)
		}
	default:
		return nil, DescribeOutput{}, errors.New("one of run_id or csv_path is required")
	}

	threshold := args.Threshold
	if threshold == 0 {
		threshold = s.settings.Analysis.Threshold
	}

	out := DescribeOutput{
		Rows:      len(table.Rows),
		Complete:  len(table.Complete().Rows),
		Buses:     make([]BusSummary, 0, len(table.Columns)),
		Threshold: threshold,
		Exceeding: analysis.Exceeding(table, threshold),
	}
	if out.Exceeding == nil {
		out.Exceeding = []string{}
	}
	for _, sum := range analysis.Describe(table) {
		out.Buses = append(out.Buses, BusSummary{
			Bus:    sum.Bus,
			Count:  sum.Count,
			Mean:   finite(sum.Mean),
			Std:    finite(sum.Std),
			Min:    finite(sum.Min),
			Q25:    finite(sum.Q25),
			Median: finite(sum.Median),
			Q75:    finite(sum.Q75),
			Max:    finite(sum.Max),
		})
	}
	return nil, out, nil
}

// finite returns nil for NaN and infinities, which JSON cannot carry.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
