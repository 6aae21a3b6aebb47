// Package dynamic runs time-domain studies: EMT waveform capture and RMS
// short-circuit sweeps.
package dynamic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nvandessel/pfstudy/internal/engine"
)

// ErrSimulationFailed reports a time-domain run the engine did not finish.
var ErrSimulationFailed = errors.New("time-domain simulation failed")

// Phases are the phase-to-phase voltage variables of a terminal.
var Phases = []string{"m:ul:A", "m:ul:B", "m:ul:C"}

// PhaseColumns names Phases in result files.
var PhaseColumns = []string{"ula", "ulb", "ulc"}

// FaultName is the event name used for sweep faults.
const FaultName = "pfstudy_sc"

// Study runs dynamic simulations on one engine session.
type Study struct {
	engine engine.Engine
	logger *slog.Logger
}

// NewStudy creates a study. A nil logger uses slog.Default.
func NewStudy(eng engine.Engine, logger *slog.Logger) *Study {
	if logger == nil {
		logger = slog.Default()
	}
	return &Study{engine: eng, logger: logger}
}

// EMTOptions selects the bus and time grid of an EMT run.
type EMTOptions struct {
	Bus   string
	Start float64
	Step  float64
	End   float64
}

// RunEMT simulates electromagnetic transients and returns the three
// phase-to-phase voltages of one bus, in Phases order.
func (s *Study) RunEMT(ctx context.Context, opts EMTOptions) ([]engine.Series, error) {
	bus := engine.Element{Name: opts.Bus, Class: engine.ClassTerminal}
	cfg := engine.DynamicConfig{
		Monitored: map[string][]string{bus.String(): Phases},
		Type:      engine.SimulationEMT,
		Start:     opts.Start,
		Step:      opts.Step,
		End:       opts.End,
	}
	if err := s.run(ctx, cfg); err != nil {
		return nil, err
	}

	out := make([]engine.Series, len(Phases))
	for i, v := range Phases {
		series, err := s.engine.Results(ctx, bus, v)
		if err != nil {
			return nil, fmt.Errorf("read %s of %s: %w", v, bus, err)
		}
		out[i] = series
	}
	return out, nil
}

// SweepOptions configures a short-circuit sweep.
type SweepOptions struct {
	// Machine and Variable select the recorded response, e.g. G1 and s:fe.
	Machine  string
	Variable string

	FaultTime float64
	Duration  float64

	Start float64
	Step  float64
	End   float64
}

// SweepResult is the machine response to a fault on one bus.
type SweepResult struct {
	Bus      string        `json:"bus"`
	Response engine.Series `json:"response"`
}

// ShortCircuitSweep faults every terminal in turn, runs an RMS simulation
// and records the machine response. Each fault is deleted before the next
// bus, including when the run fails.
func (s *Study) ShortCircuitSweep(ctx context.Context, opts SweepOptions) ([]SweepResult, error) {
	if opts.Duration <= 0 {
		return nil, fmt.Errorf("fault duration must be positive, got %g", opts.Duration)
	}
	buses, err := s.engine.Elements(ctx, engine.PatternTerminals)
	if err != nil {
		return nil, fmt.Errorf("list terminals: %w", err)
	}
	machine := engine.Element{Name: opts.Machine, Class: engine.ClassMachine}
	cfg := engine.DynamicConfig{
		Monitored: map[string][]string{
			machine.String():        {opts.Variable},
			engine.PatternTerminals: {engine.AttrVoltage},
		},
		Type:  engine.SimulationRMS,
		Start: opts.Start,
		Step:  opts.Step,
		End:   opts.End,
	}

	out := make([]SweepResult, 0, len(buses))
	for _, bus := range buses {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		resp, err := s.faultOne(ctx, bus, machine, opts, cfg)
		if err != nil {
			return out, fmt.Errorf("fault on %s: %w", bus.Name, err)
		}
		out = append(out, SweepResult{Bus: bus.Name, Response: resp})
		s.logger.Debug("short circuit simulated", "bus", bus.Name, "points", resp.Len())
	}
	return out, nil
}

func (s *Study) faultOne(ctx context.Context, bus, machine engine.Element, opts SweepOptions, cfg engine.DynamicConfig) (resp engine.Series, err error) {
	duration := opts.Duration
	sc := engine.ShortCircuit{Name: FaultName, Target: bus, Time: opts.FaultTime, Duration: &duration}
	if err := s.engine.CreateShortCircuit(ctx, sc); err != nil {
		return resp, err
	}
	defer func() {
		if derr := s.engine.DeleteShortCircuit(context.WithoutCancel(ctx), FaultName); derr != nil && err == nil {
			err = fmt.Errorf("delete short circuit: %w", derr)
		}
	}()

	if err := s.run(ctx, cfg); err != nil {
		return resp, err
	}
	return s.engine.Results(ctx, machine, opts.Variable)
}

func (s *Study) run(ctx context.Context, cfg engine.DynamicConfig) error {
	if err := s.engine.PrepareDynamic(ctx, cfg); err != nil {
		return fmt.Errorf("prepare %s simulation: %w", cfg.Type, err)
	}
	failed, err := s.engine.SolveTimeDomain(ctx)
	if err != nil {
		return fmt.Errorf("run %s simulation: %w", cfg.Type, err)
	}
	if failed {
		return ErrSimulationFailed
	}
	return nil
}
