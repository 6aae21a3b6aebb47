package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/nvandessel/pfstudy/internal/engine"
)

const (
	eventFault = iota
	eventClear
)

type event struct {
	kind   int
	target engine.Element
	time   float64
}

type resultKey struct {
	el       engine.Element
	variable string
}

type dynamicState struct {
	cfg       engine.DynamicConfig
	monitored map[engine.Element][]string
	steady    map[string]float64
	results   map[resultKey]engine.Series
	solved    bool
}

// fault is an active interval of a short circuit on a bus.
type fault struct {
	bus        string
	start, end float64
}

var supportedVars = map[string][]string{
	engine.ClassTerminal: {engine.AttrVoltage, "m:ul:A", "m:ul:B", "m:ul:C"},
	engine.ClassMachine:  {"s:fe", "s:speed", "s:phi"},
}

// PrepareDynamic registers monitored variables and computes initial
// conditions from the current loads.
func (e *Engine) PrepareDynamic(ctx context.Context, cfg engine.DynamicConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check("PrepareDynamic"); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	monitored := make(map[engine.Element][]string)
	for pattern, vars := range cfg.Monitored {
		for _, el := range e.order {
			if !engine.MatchPattern(pattern, el) {
				continue
			}
			for _, v := range vars {
				if !slices.Contains(supportedVars[el.Class], v) {
					return fmt.Errorf("variable %s not available for %s", v, el)
				}
			}
			monitored[el] = appendUnique(monitored[el], vars...)
		}
	}

	s := e.apparentLoad()
	e.writeVoltages(s)
	steady := make(map[string]float64, len(e.spec.Buses))
	for _, b := range e.spec.Buses {
		steady[b.Name] = e.steadyVoltage(b, s)
	}

	e.dynamic = &dynamicState{cfg: cfg, monitored: monitored, steady: steady}
	return nil
}

// SolveTimeDomain synthesises every monitored variable over the time grid.
func (e *Engine) SolveTimeDomain(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check("SolveTimeDomain"); err != nil {
		return false, err
	}
	if e.dynamic == nil {
		return false, errors.New("time-domain simulation not prepared")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	cfg := e.dynamic.cfg
	n := int(math.Round((cfg.End-cfg.Start)/cfg.Step)) + 1
	grid := make([]float64, n)
	for i := range grid {
		grid[i] = cfg.Start + float64(i)*cfg.Step
	}

	faults := e.activeFaults()
	hopsFrom := make(map[string]map[string]int, len(faults))
	for _, f := range faults {
		if _, ok := hopsFrom[f.bus]; !ok {
			hopsFrom[f.bus] = e.hops(f.bus)
		}
	}

	results := make(map[resultKey]engine.Series)
	for el, vars := range e.dynamic.monitored {
		for _, v := range vars {
			values := make([]float64, n)
			for i, t := range grid {
				values[i] = e.signal(el, v, t, faults, hopsFrom)
			}
			results[resultKey{el: el, variable: v}] = engine.Series{
				Time:   append([]float64(nil), grid...),
				Values: values,
			}
		}
	}
	e.dynamic.results = results
	e.dynamic.solved = true
	return false, nil
}

// Results returns one recorded variable of the last time-domain run.
func (e *Engine) Results(ctx context.Context, el engine.Element, variable string) (engine.Series, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check("Results"); err != nil {
		return engine.Series{}, err
	}
	if e.dynamic == nil || !e.dynamic.solved {
		return engine.Series{}, errors.New("no time-domain results available")
	}
	s, ok := e.dynamic.results[resultKey{el: el, variable: variable}]
	if !ok {
		return engine.Series{}, fmt.Errorf("result %s of %s: %w", variable, el, engine.ErrNotFound)
	}
	return s, nil
}

// CreateShortCircuit schedules a three-phase fault on a terminal or line,
// plus its clearing event when a duration is given.
func (e *Engine) CreateShortCircuit(ctx context.Context, sc engine.ShortCircuit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check("CreateShortCircuit"); err != nil {
		return err
	}
	if sc.Name == "" {
		return errors.New("short circuit needs a name")
	}
	if _, ok := e.attrs[sc.Target]; !ok {
		return fmt.Errorf("fault target %s: %w", sc.Target, engine.ErrNotFound)
	}
	if sc.Target.Class != engine.ClassTerminal && sc.Target.Class != engine.ClassLine {
		return fmt.Errorf("fault target %s must be a terminal or line", sc.Target)
	}
	if _, ok := e.events[sc.Name]; ok {
		return fmt.Errorf("event %q already exists", sc.Name)
	}
	clearName := engine.ClearName(sc.Name)
	if sc.Duration != nil {
		if *sc.Duration <= 0 {
			return fmt.Errorf("fault duration must be positive, got %g", *sc.Duration)
		}
		if _, ok := e.events[clearName]; ok {
			return fmt.Errorf("event %q already exists", clearName)
		}
		e.events[clearName] = event{kind: eventClear, target: sc.Target, time: sc.Time + *sc.Duration}
	}
	e.events[sc.Name] = event{kind: eventFault, target: sc.Target, time: sc.Time}
	return nil
}

// DeleteShortCircuit removes a fault and its clearing event.
func (e *Engine) DeleteShortCircuit(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check("DeleteShortCircuit"); err != nil {
		return err
	}
	delete(e.events, name)
	delete(e.events, engine.ClearName(name))
	return nil
}

// Events returns the names of the scheduled events.
func (e *Engine) Events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.events))
	for name := range e.events {
		names = append(names, name)
	}
	return names
}

func (e *Engine) activeFaults() []fault {
	var out []fault
	for name, ev := range e.events {
		if ev.kind != eventFault {
			continue
		}
		bus := ev.target.Name
		if ev.target.Class == engine.ClassLine {
			bus = e.branches[ev.target.Name].From
		}
		end := math.Inf(1)
		if clr, ok := e.events[engine.ClearName(name)]; ok && clr.kind == eventClear {
			end = clr.time
		}
		out = append(out, fault{bus: bus, start: ev.time, end: end})
	}
	return out
}

func (e *Engine) signal(el engine.Element, variable string, t float64, faults []fault, hopsFrom map[string]map[string]int) float64 {
	switch el.Class {
	case engine.ClassTerminal:
		v := e.dynamic.steady[el.Name] * retained(el.Name, t, faults, hopsFrom)
		if variable == engine.AttrVoltage {
			return v
		}
		amp := e.buses[el.Name].NominalKV * math.Sqrt2 * v
		w := 2 * math.Pi * e.spec.Frequency * t
		switch variable {
		case "m:ul:A":
			return amp * math.Cos(w)
		case "m:ul:B":
			return amp * math.Cos(w-2*math.Pi/3)
		default:
			return amp * math.Cos(w+2*math.Pi/3)
		}
	case engine.ClassMachine:
		bus := e.machines[el.Name].Bus
		swing := 0.0
		for _, f := range faults {
			if t < f.start {
				continue
			}
			swing += severity(hopsFrom[f.bus], bus) * oscillation(t-f.start)
		}
		switch variable {
		case "s:phi":
			return 20 + 3000*swing
		default:
			return 1 + swing
		}
	}
	return math.NaN()
}

// retained is the fraction of steady-state voltage left at bus at time t.
func retained(bus string, t float64, faults []fault, hopsFrom map[string]map[string]int) float64 {
	r := 1.0
	for _, f := range faults {
		if t < f.start || t >= f.end {
			continue
		}
		h, ok := hopsFrom[f.bus][bus]
		if !ok {
			continue
		}
		r = math.Min(r, float64(h)/float64(h+1))
	}
	return r
}

func severity(hops map[string]int, bus string) float64 {
	h, ok := hops[bus]
	if !ok {
		return 0
	}
	return 1 / float64(h+1)
}

// oscillation is a damped 0.6 Hz inter-area swing in p.u. frequency.
func oscillation(dt float64) float64 {
	return 0.01 * math.Exp(-dt/1.5) * math.Sin(2*math.Pi*0.6*dt)
}

func appendUnique(list []string, items ...string) []string {
	for _, it := range items {
		if !slices.Contains(list, it) {
			list = append(list, it)
		}
	}
	return list
}
