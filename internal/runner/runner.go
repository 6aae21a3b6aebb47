// Package runner executes a complete Monte Carlo load-flow study: it
// activates the project, streams samples from the driver into a CSV sink
// and the run history, and records how the run ended.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/nvandessel/pfstudy/internal/engine"
	"github.com/nvandessel/pfstudy/internal/montecarlo"
	"github.com/nvandessel/pfstudy/internal/results"
	"github.com/nvandessel/pfstudy/internal/store"
)

// Params describes one study run.
type Params struct {
	Engine     engine.Engine
	EngineKind string
	Project    engine.Project
	Options    montecarlo.Options

	// Seed seeds the uniform source. 0 draws a fresh seed, which is
	// reported back so the run can be repeated.
	Seed uint64

	// CSV receives one row per emitted sample when non-nil.
	CSV io.Writer

	// Store records the run and its samples when non-nil.
	Store *store.SQLiteStore

	// OutOfService and OpenSwitches are element patterns toggled before the
	// first sample and toggled back when the run ends, so a study can be
	// run on a contingency of the base case.
	OutOfService []string
	OpenSwitches []string

	Logger *slog.Logger
	Tracer montecarlo.Tracer
}

// Report summarizes a finished run.
type Report struct {
	RunID     string        `json:"run_id,omitempty"`
	Seed      uint64        `json:"seed"`
	Requested int           `json:"requested"`
	Emitted   int           `json:"emitted"`
	Converged int           `json:"converged"`
	Exhausted int           `json:"exhausted"`
	Skipped   int           `json:"skipped"`
	Buses     []string      `json:"buses"`
	Toggled   int           `json:"toggled,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Run executes the study. Samples already written to the CSV sink and the
// store are kept when the run fails; the stored run is marked failed or
// cancelled with the error text.
func Run(ctx context.Context, p Params) (rep Report, err error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	rep.Seed = p.Seed
	if rep.Seed == 0 {
		rep.Seed = rand.Uint64()
	}
	rep.Requested = p.Options.Samples

	if err := p.Options.Validate(); err != nil {
		return rep, err
	}
	if err := p.Engine.Activate(ctx, p.Project); err != nil {
		return rep, fmt.Errorf("activate project %s: %w", p.Project.Path(), err)
	}

	revert, n, err := applyContingency(ctx, p)
	defer func() {
		if rerr := revert(); rerr != nil {
			logger.Error("reverting contingency failed", "error", rerr)
			if err == nil {
				err = rerr
			}
		}
	}()
	if err != nil {
		return rep, err
	}
	rep.Toggled = n

	if p.Store != nil {
		run, cerr := p.Store.CreateRun(ctx, store.Run{
			Project:     p.Project.Path(),
			Engine:      p.EngineKind,
			LoadFlow:    p.Options.Mode.String(),
			Samples:     p.Options.Samples,
			StdDev:      p.Options.StdDev,
			MaxAttempts: p.Options.MaxAttempts,
			Policy:      policyName(p.Options.Policy),
			Seed:        rep.Seed,
		})
		if cerr != nil {
			return rep, fmt.Errorf("record run: %w", cerr)
		}
		rep.RunID = run.ID
		defer func() {
			status, msg := store.StatusCompleted, ""
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				status, msg = store.StatusCancelled, err.Error()
			case err != nil:
				status, msg = store.StatusFailed, err.Error()
			}
			if ferr := p.Store.FinishRun(context.WithoutCancel(ctx), rep.RunID, status, msg); ferr != nil {
				logger.Error("recording run status failed", "run", rep.RunID, "error", ferr)
			}
		}()
	}

	var sink *results.Writer
	if p.CSV != nil {
		sink = results.NewWriter(p.CSV)
		defer func() {
			if ferr := sink.Flush(); ferr != nil && err == nil {
				err = fmt.Errorf("flush results: %w", ferr)
			}
		}()
	}

	driver := montecarlo.NewDriver(p.Engine, rand.New(rand.NewPCG(rep.Seed, rep.Seed)),
		montecarlo.WithLogger(logger), montecarlo.WithTracer(p.Tracer))

	logger.Debug("starting Monte Carlo run", "run", rep.RunID, "samples", p.Options.Samples, "seed", rep.Seed)
	defer func() {
		rep.Elapsed = time.Since(start)
		rep.Skipped = rep.Requested - rep.Emitted
		if err != nil {
			rep.Skipped = 0
		}
	}()

	for s, err := range driver.Run(ctx, p.Options) {
		if err != nil {
			return rep, err
		}
		if rep.Buses == nil {
			rep.Buses = s.Voltages.Names()
		}
		rep.Emitted++
		if s.Status == montecarlo.Converged {
			rep.Converged++
		} else {
			rep.Exhausted++
		}

		if sink != nil {
			if err := sink.Write(s.Voltages); err != nil {
				return rep, err
			}
		}
		if p.Store != nil {
			if err := p.Store.RecordSample(ctx, rep.RunID, s); err != nil {
				return rep, err
			}
		}
	}
	return rep, nil
}

type toggleFunc func(context.Context, engine.Network, string) (int, error)

// applyContingency toggles the elements named by the contingency patterns.
// The returned function toggles back every pattern that was applied, even
// after a partial failure.
func applyContingency(ctx context.Context, p Params) (revert func() error, toggled int, err error) {
	type step struct {
		pattern string
		fn      toggleFunc
	}
	var steps []step
	for _, pat := range p.OutOfService {
		steps = append(steps, step{pat, engine.ToggleOutOfService})
	}
	for _, pat := range p.OpenSwitches {
		steps = append(steps, step{pat, engine.ToggleSwitches})
	}

	var applied []step
	revert = func() error {
		var errs []error
		for i := len(applied) - 1; i >= 0; i-- {
			if _, err := applied[i].fn(context.WithoutCancel(ctx), p.Engine, applied[i].pattern); err != nil {
				errs = append(errs, fmt.Errorf("revert %s: %w", applied[i].pattern, err))
			}
		}
		return errors.Join(errs...)
	}
	for _, st := range steps {
		n, err := st.fn(ctx, p.Engine, st.pattern)
		if err != nil {
			return revert, toggled, fmt.Errorf("contingency %s: %w", st.pattern, err)
		}
		if n == 0 {
			return revert, toggled, fmt.Errorf("contingency %s: no matching element", st.pattern)
		}
		applied = append(applied, st)
		toggled += n
	}
	return revert, toggled, nil
}

func policyName(p montecarlo.ExhaustedPolicy) string {
	if p == "" {
		return string(montecarlo.PolicyNaN)
	}
	return string(p)
}

// Table converts stored samples into a result table, one column per bus in
// sorted order.
func Table(samples []montecarlo.Sample) *results.Table {
	t := &results.Table{}
	for _, s := range samples {
		if t.Columns == nil {
			t.Columns = s.Voltages.Names()
		}
		row := make([]float64, len(t.Columns))
		for i, bus := range t.Columns {
			v, ok := s.Voltages[bus]
			if !ok {
				v = math.NaN()
			}
			row[i] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Export writes the stored samples of a run as a result CSV.
func Export(ctx context.Context, st *store.SQLiteStore, runID string, w io.Writer) (int, error) {
	samples, err := st.Samples(ctx, runID)
	if err != nil {
		return 0, err
	}
	sink := results.NewWriter(w)
	for _, s := range samples {
		if err := sink.Write(s.Voltages); err != nil {
			return sink.Rows(), err
		}
	}
	return sink.Rows(), sink.Flush()
}
