package mcp

import (
	"time"

	"github.com/nvandessel/pfstudy/internal/store"
)

// MonteCarloInput defines the input for the pfstudy_montecarlo tool. Zero
// values fall back to the configured defaults.
type MonteCarloInput struct {
	Samples     int     `json:"samples,omitempty" jsonschema:"Number of samples to draw"`
	StdDev      float64 `json:"std_dev,omitempty" jsonschema:"Standard deviation of the load scale factor, e.g. 0.1 for 10 percent"`
	MaxAttempts int     `json:"max_attempts,omitempty" jsonschema:"Load-flow attempts per sample before it counts as non-converged"`
	Policy      string  `json:"policy,omitempty" jsonschema:"What to do with non-converged samples: nan, skip or abort"`
	LoadFlow    string  `json:"load_flow,omitempty" jsonschema:"Load-flow formulation: balanced, unbalanced or dc"`
	Seed        uint64  `json:"seed,omitempty" jsonschema:"Random seed; omit for a fresh seed"`
	OutputPath  string  `json:"output_path,omitempty" jsonschema:"CSV file to write, relative to the project root"`
}

// MonteCarloOutput defines the output for the pfstudy_montecarlo tool.
type MonteCarloOutput struct {
	RunID      string   `json:"run_id" jsonschema:"ID of the recorded run"`
	Seed       uint64   `json:"seed" jsonschema:"Seed used, for repeating the run"`
	Emitted    int      `json:"emitted" jsonschema:"Samples produced"`
	Converged  int      `json:"converged"`
	Exhausted  int      `json:"exhausted"`
	Skipped    int      `json:"skipped"`
	Exceeding  []string `json:"exceeding" jsonschema:"Buses above the configured voltage threshold in any sample"`
	OutputPath string   `json:"output_path,omitempty"`
	Message    string   `json:"message" jsonschema:"Human-readable result message"`
}

// RunsInput defines the input for the pfstudy_runs tool.
type RunsInput struct {
	RunID string `json:"run_id,omitempty" jsonschema:"Run ID or unique prefix; omit to list runs"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum runs to list, default 20"`
}

// RunsOutput defines the output for the pfstudy_runs tool.
type RunsOutput struct {
	Runs  []RunItem `json:"runs"`
	Count int       `json:"count"`
}

// RunItem provides a list view of a run.
type RunItem struct {
	ID          string     `json:"id"`
	Project     string     `json:"project"`
	Engine      string     `json:"engine"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Samples     int        `json:"samples"`
	StdDev      float64    `json:"std_dev"`
	MaxAttempts int        `json:"max_attempts"`
	Policy      string     `json:"policy"`
	Seed        uint64     `json:"seed"`
	Recorded    int        `json:"recorded"`
	Converged   int        `json:"converged"`
	Exhausted   int        `json:"exhausted"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func runItem(r store.Run) RunItem {
	return RunItem{
		ID:          r.ID,
		Project:     r.Project,
		Engine:      r.Engine,
		Status:      r.Status,
		Error:       r.Error,
		Samples:     r.Samples,
		StdDev:      r.StdDev,
		MaxAttempts: r.MaxAttempts,
		Policy:      r.Policy,
		Seed:        r.Seed,
		Recorded:    r.Recorded,
		Converged:   r.Converged,
		Exhausted:   r.Exhausted,
		CreatedAt:   r.CreatedAt,
		FinishedAt:  r.FinishedAt,
	}
}

// DescribeInput defines the input for the pfstudy_describe tool. Exactly one
// of RunID and CSVPath is required.
type DescribeInput struct {
	RunID     string  `json:"run_id,omitempty" jsonschema:"Run ID or unique prefix to describe"`
	CSVPath   string  `json:"csv_path,omitempty" jsonschema:"Result CSV to describe, relative to the project root"`
	Threshold float64 `json:"threshold,omitempty" jsonschema:"Voltage threshold in p.u. for the exceeding list"`
}

// DescribeOutput defines the output for the pfstudy_describe tool.
type DescribeOutput struct {
	Rows      int          `json:"rows"`
	Complete  int          `json:"complete" jsonschema:"Rows without NaN cells"`
	Buses     []BusSummary `json:"buses"`
	Threshold float64      `json:"threshold"`
	Exceeding []string     `json:"exceeding"`
}

// BusSummary holds per-bus statistics. Undefined statistics are omitted.
type BusSummary struct {
	Bus    string   `json:"bus"`
	Count  int      `json:"count"`
	Mean   *float64 `json:"mean,omitempty"`
	Std    *float64 `json:"std,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Q25    *float64 `json:"q25,omitempty"`
	Median *float64 `json:"median,omitempty"`
	Q75    *float64 `json:"q75,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}
