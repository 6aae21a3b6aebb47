package montecarlo

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"sort"
	"reflect"
	"strings"
	"sync"

	"github.com/nvandessel/pfstudy/internal/engine"
)

var (
	// ErrBusSetChanged reports a voltage reading whose terminals differ from
	// those present when the run started.
	ErrBusSetChanged = errors.New("set of buses changed during the run")

	// ErrRunning reports a Run on an engine that another open run is
	// already perturbing.
	ErrRunning = errors.New("a Monte Carlo run is already in progress on this engine")
)

// ExhaustedPolicy decides what a run does with a sample that never
// converged.
type ExhaustedPolicy string

const (
	// PolicyNaN emits the sample with NaN for every bus.
	PolicyNaN ExhaustedPolicy = "nan"
	// PolicySkip drops the sample; the run yields fewer samples.
	PolicySkip ExhaustedPolicy = "skip"
	// PolicyAbort ends the run with ErrExhausted.
	PolicyAbort ExhaustedPolicy = "abort"
)

// ParsePolicy maps a policy name to an ExhaustedPolicy. Empty means nan.
func ParsePolicy(s string) (ExhaustedPolicy, error) {
	switch p := ExhaustedPolicy(strings.ToLower(s)); p {
	case "":
		return PolicyNaN, nil
	case PolicyNaN, PolicySkip, PolicyAbort:
		return p, nil
	default:
		return "", fmt.Errorf("invalid exhausted policy: %s (valid: nan, skip, abort)", s)
	}
}

// Options parameterise one run.
type Options struct {
	Samples     int
	StdDev      float64
	MaxAttempts int
	Policy      ExhaustedPolicy
	Mode        engine.LoadFlowMode

	// Progress, if set, is called after every sample with the number of
	// samples processed so far (skipped ones included).
	Progress func(done, total int)
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.Samples < 0 {
		return fmt.Errorf("samples must be non-negative, got %d", o.Samples)
	}
	if o.StdDev < 0 || math.IsNaN(o.StdDev) || math.IsInf(o.StdDev, 0) {
		return fmt.Errorf("std_dev must be a non-negative number, got %g", o.StdDev)
	}
	if o.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", o.MaxAttempts)
	}
	if _, err := ParsePolicy(string(o.Policy)); err != nil {
		return err
	}
	return nil
}

// Sample is one item of a run.
type Sample struct {
	Index    int
	Status   Status
	Attempts int
	K        float64
	// Voltages holds one entry per bus present at run start. Under PolicyNaN
	// an exhausted sample carries NaN for every bus.
	Voltages BusVoltages
}

// Driver orchestrates Monte Carlo runs on one engine.
type Driver struct {
	engine  engine.LoadFlowEngine
	sampler *Sampler
	logger  *slog.Logger
	tracer  Tracer
}

// busy holds the engines with an open run, across all drivers.
var busy sync.Map

// acquire claims eng for one run. Engines of a non-comparable dynamic type
// are keyed by the driver instead.
func (d *Driver) acquire() (release func(), ok bool) {
	var key any = d
	if t := reflect.TypeOf(d.engine); t != nil && t.Comparable() {
		key = d.engine
	}
	if _, loaded := busy.LoadOrStore(key, struct{}{}); loaded {
		return nil, false
	}
	return func() { busy.Delete(key) }, true
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithLogger sets the logger for convergence warnings and restore problems.
func WithLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) { d.logger = l }
}

// WithTracer records every solve attempt.
func WithTracer(t Tracer) DriverOption {
	return func(d *Driver) { d.tracer = t }
}

// NewDriver creates a driver drawing uniform variates from src.
func NewDriver(eng engine.LoadFlowEngine, src Uniform, opts ...DriverOption) *Driver {
	d := &Driver{engine: eng, sampler: NewSampler(src), logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run returns a single-pass sequence of samples. Nothing happens until the
// sequence is ranged over. On the first pull the base loads are captured
// and their totals computed; the base loads are restored when the sequence
// ends, including when the consumer stops early or ctx is cancelled.
//
// Samples arrive in index order. A non-nil error ends the sequence. When
// using iter.Pull, the stop function must be called for the restore to
// run if the sequence is not drained.
func (d *Driver) Run(ctx context.Context, opts Options) iter.Seq2[Sample, error] {
	return func(yield func(Sample, error) bool) {
		if err := opts.Validate(); err != nil {
			yield(Sample{}, err)
			return
		}
		policy, _ := ParsePolicy(string(opts.Policy))

		release, ok := d.acquire()
		if !ok {
			yield(Sample{}, ErrRunning)
			return
		}
		defer release()

		if err := d.engine.PrepareLoadFlow(ctx, opts.Mode); err != nil {
			yield(Sample{}, fmt.Errorf("prepare load flow: %w", err))
			return
		}
		base, err := Capture(ctx, d.engine)
		if err != nil {
			yield(Sample{}, fmt.Errorf("capture base loads: %w", err))
			return
		}

		stopped := false
		defer func() {
			// Restore even when ctx is already cancelled.
			_, err := Restore(context.WithoutCancel(ctx), d.engine, base, d.logger)
			if err == nil {
				return
			}
			d.logger.Error("restoring base loads failed", "error", err)
			if !stopped {
				yield(Sample{}, fmt.Errorf("restore base loads: %w", err))
			}
		}()

		emit := func(s Sample, err error) bool {
			if !yield(s, err) {
				stopped = true
				return false
			}
			return err == nil
		}

		buses, err := busNames(ctx, d.engine)
		if err != nil {
			emit(Sample{}, err)
			return
		}
		totals := base.Totals()
		solver := NewSolver(d.engine, d.sampler, d.logger, d.tracer)

		for i := 0; i < opts.Samples; i++ {
			out, err := solver.SolveWithRetry(ctx, i, base, totals, opts.StdDev, opts.MaxAttempts)
			if err != nil {
				emit(Sample{Index: i}, fmt.Errorf("sample %d: %w", i, err))
				return
			}

			s := Sample{Index: i, Status: out.Status, Attempts: out.Attempts, K: out.K}
			if out.Status == Converged {
				if !sameBuses(out.Voltages, buses) {
					emit(s, fmt.Errorf("sample %d: %w", i, ErrBusSetChanged))
					return
				}
				s.Voltages = out.Voltages
			} else {
				switch policy {
				case PolicyAbort:
					emit(s, fmt.Errorf("sample %d after %d attempts: %w", i, out.Attempts, ErrExhausted))
					return
				case PolicySkip:
					d.logger.Warn("dropping non-converged sample", "sample", i, "attempts", out.Attempts)
					d.progress(opts, i+1)
					continue
				default:
					s.Voltages = nanReading(buses)
				}
			}

			d.progress(opts, i+1)
			if !emit(s, nil) {
				return
			}
		}
	}
}

func (d *Driver) progress(opts Options, done int) {
	if opts.Progress != nil {
		opts.Progress(done, opts.Samples)
	}
}

// Collect drains a run into a slice, stopping at the first error.
func Collect(seq iter.Seq2[Sample, error]) ([]Sample, error) {
	var out []Sample
	for s, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}

func busNames(ctx context.Context, net engine.Network) ([]string, error) {
	buses, err := net.Elements(ctx, engine.PatternTerminals)
	if err != nil {
		return nil, fmt.Errorf("list terminals: %w", err)
	}
	names := make([]string, len(buses))
	for i, el := range buses {
		names[i] = el.Name
	}
	sort.Strings(names)
	return names, nil
}

func sameBuses(v BusVoltages, buses []string) bool {
	if len(v) != len(buses) {
		return false
	}
	for _, b := range buses {
		if _, ok := v[b]; !ok {
			return false
		}
	}
	return true
}

func nanReading(buses []string) BusVoltages {
	v := make(BusVoltages, len(buses))
	for _, b := range buses {
		v[b] = math.NaN()
	}
	return v
}
