package montecarlo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/nvandessel/pfstudy/internal/engine"
)

// ErrExhausted reports a sample whose load flow never converged.
var ErrExhausted = errors.New("load flow did not converge within the attempt budget")

// Status tags an Outcome.
type Status int

const (
	Converged Status = iota
	Exhausted
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// BusVoltages maps terminal names to per-unit voltage magnitudes.
type BusVoltages map[string]float64

// Names returns the bus names in sorted order.
func (v BusVoltages) Names() []string {
	return slices.Sorted(maps.Keys(v))
}

// Outcome is the result of one sample. Voltages is set only when Status is
// Converged.
type Outcome struct {
	Status   Status
	Voltages BusVoltages
	// Attempts is the number of solves made, including the converged one.
	Attempts int
	// K is the scale factor of the last attempt.
	K float64
}

// Tracer receives one event per solve attempt. *logging.TraceLogger
// satisfies it.
type Tracer interface {
	Log(event map[string]any)
}

// Solver runs the convergence-retry loop against one engine.
type Solver struct {
	engine  engine.LoadFlowEngine
	sampler *Sampler
	logger  *slog.Logger
	tracer  Tracer
}

// NewSolver creates a retry solver. logger receives one warning per failed
// attempt; tracer may be nil.
func NewSolver(eng engine.LoadFlowEngine, sampler *Sampler, logger *slog.Logger, tracer Tracer) *Solver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Solver{engine: eng, sampler: sampler, logger: logger, tracer: tracer}
}

// SolveWithRetry draws a load vector, applies it and solves, up to
// maxAttempts times. Every attempt uses a fresh draw. It stops at the first
// converged solve and returns its bus voltages; if no attempt converges the
// outcome is Exhausted and carries no voltages.
//
// Errors are engine call failures or a broken uniform source; they are not
// retried.
func (s *Solver) SolveWithRetry(ctx context.Context, sample int, base LoadSnapshot, totals Totals, stdDev float64, maxAttempts int) (Outcome, error) {
	out := Outcome{Status: Exhausted}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		loads, k, err := s.sampler.Sample(totals, base, stdDev)
		if err != nil {
			return out, err
		}
		out.Attempts = attempt
		out.K = k

		if err := Apply(ctx, s.engine, loads); err != nil {
			return out, fmt.Errorf("apply sampled loads: %w", err)
		}
		failed, err := s.engine.SolveLoadFlow(ctx)
		if err != nil {
			return out, fmt.Errorf("solve load flow: %w", err)
		}
		s.trace(sample, attempt, k, !failed)

		if !failed {
			v, err := ReadBusVoltages(ctx, s.engine)
			if err != nil {
				return out, err
			}
			out.Status = Converged
			out.Voltages = v
			return out, nil
		}

		s.logger.Warn("load flow did not converge",
			"sample", sample, "attempt", attempt, "max_attempts", maxAttempts, "k", k)
	}
	return out, nil
}

func (s *Solver) trace(sample, attempt int, k float64, converged bool) {
	if s.tracer == nil {
		return
	}
	s.tracer.Log(map[string]any{
		"event":     "attempt",
		"sample":    sample,
		"attempt":   attempt,
		"k":         k,
		"converged": converged,
	})
}

// ReadBusVoltages reads the voltage magnitude of every terminal visible to
// the engine.
func ReadBusVoltages(ctx context.Context, net engine.Network) (BusVoltages, error) {
	buses, err := net.Elements(ctx, engine.PatternTerminals)
	if err != nil {
		return nil, fmt.Errorf("list terminals: %w", err)
	}
	v := make(BusVoltages, len(buses))
	for _, el := range buses {
		u, err := net.Attribute(ctx, el, engine.AttrVoltage)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", el, err)
		}
		v[el.Name] = u
	}
	return v, nil
}
