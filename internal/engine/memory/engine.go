package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/nvandessel/pfstudy/internal/engine"
)

// Engine is an in-process engine.Engine backed by a NetworkSpec.
// It is safe for concurrent use, although the Monte Carlo driver never
// shares one between runs.
type Engine struct {
	mu   sync.Mutex
	spec *NetworkSpec

	order []engine.Element
	attrs map[engine.Element]map[string]float64

	buses    map[string]BusSpec
	branches map[string]BranchSpec // lines and transformers by name
	machines map[string]MachineSpec

	project  *engine.Project
	ldfReady bool
	ldfMode  engine.LoadFlowMode
	solves   int
	script   []bool
	failOn   map[string]error
	dynamic  *dynamicState
	events   map[string]event
	closed   bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithConvergenceScript makes the first len(script) load-flow solves report
// convergence according to script (true = converged), overriding the
// load limit. Later solves fall back to the model.
func WithConvergenceScript(script ...bool) Option {
	return func(e *Engine) { e.script = append([]bool(nil), script...) }
}

// WithFailure makes every call of the named operation ("Elements",
// "Attribute", "SetAttribute", "SolveLoadFlow", ...) fail with err.
func WithFailure(op string, err error) Option {
	return func(e *Engine) {
		if e.failOn == nil {
			e.failOn = make(map[string]error)
		}
		e.failOn[op] = err
	}
}

// New creates an engine for spec. The spec is not copied and must not be
// modified afterwards.
func New(spec *NetworkSpec, opts ...Option) *Engine {
	e := &Engine{
		spec:     spec,
		attrs:    make(map[engine.Element]map[string]float64),
		buses:    make(map[string]BusSpec, len(spec.Buses)),
		branches: make(map[string]BranchSpec, len(spec.Lines)+len(spec.Transformers)),
		machines: make(map[string]MachineSpec, len(spec.Machines)),
		events:   make(map[string]event),
	}

	add := func(name, class string, attrs map[string]float64) {
		el := engine.Element{Name: name, Class: class}
		e.order = append(e.order, el)
		e.attrs[el] = attrs
	}
	for _, b := range spec.Buses {
		e.buses[b.Name] = b
		add(b.Name, engine.ClassTerminal, map[string]float64{engine.AttrVoltage: b.Setpoint, engine.AttrOutOfService: 0})
	}
	for _, l := range spec.Loads {
		add(l.Name, engine.ClassLoad, map[string]float64{
			engine.AttrActivePower:   l.P,
			engine.AttrReactivePower: l.Q,
			engine.AttrOutOfService:  0,
		})
	}
	for _, l := range spec.Lines {
		e.branches[l.Name] = l
		add(l.Name, engine.ClassLine, map[string]float64{engine.AttrOutOfService: 0})
	}
	for _, t := range spec.Transformers {
		e.branches[t.Name] = t
		add(t.Name, engine.ClassTransformer, map[string]float64{engine.AttrOutOfService: 0})
	}
	for _, m := range spec.Machines {
		e.machines[m.Name] = m
		add(m.Name, engine.ClassMachine, map[string]float64{engine.AttrOutOfService: 0})
	}
	for _, sw := range spec.Switches {
		closed := 0.0
		if sw.Closed {
			closed = 1
		}
		add(sw.Name, engine.ClassSwitch, map[string]float64{engine.AttrSwitchClosed: closed})
	}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Solves returns how many load-flow solves have run.
func (e *Engine) Solves() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.solves
}

// Activate activates the network. The project name must match the network
// name unless either is empty.
func (e *Engine) Activate(ctx context.Context, p engine.Project) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check("Activate"); err != nil {
		return err
	}
	if p.Name != "" && e.spec.Name != "" && p.Name != e.spec.Name {
		return fmt.Errorf("activate project %q: %w", p.Path(), engine.ErrNotFound)
	}
	e.project = &p
	return nil
}

// Elements lists elements matching pattern in engine order.
func (e *Engine) Elements(ctx context.Context, pattern string) ([]engine.Element, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check("Elements"); err != nil {
		return nil, err
	}
	var out []engine.Element
	for _, el := range e.order {
		if engine.MatchPattern(pattern, el) {
			out = append(out, el)
		}
	}
	return out, nil
}

// Attribute reads one attribute of an element.
func (e *Engine) Attribute(ctx context.Context, el engine.Element, name string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check("Attribute"); err != nil {
		return 0, err
	}
	attrs, ok := e.attrs[el]
	if !ok {
		return 0, fmt.Errorf("element %s: %w", el, engine.ErrNotFound)
	}
	v, ok := attrs[name]
	if !ok {
		return 0, fmt.Errorf("attribute %s of %s: %w", name, el, engine.ErrNotFound)
	}
	return v, nil
}

// SetAttribute writes one attribute. Result attributes ("m:...") are read-only.
func (e *Engine) SetAttribute(ctx context.Context, el engine.Element, name string, value float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check("SetAttribute"); err != nil {
		return err
	}
	attrs, ok := e.attrs[el]
	if !ok {
		return fmt.Errorf("element %s: %w", el, engine.ErrNotFound)
	}
	if _, ok := attrs[name]; !ok {
		return fmt.Errorf("attribute %s of %s: %w", name, el, engine.ErrNotFound)
	}
	if len(name) > 2 && name[:2] == "m:" {
		return fmt.Errorf("attribute %s of %s is read-only", name, el)
	}
	attrs[name] = value
	return nil
}

// Terminal returns the bus at side 0 (from) or 1 (to) of a branch.
func (e *Engine) Terminal(ctx context.Context, el engine.Element, side int) (engine.Element, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check("Terminal"); err != nil {
		return engine.Element{}, err
	}
	if el.Class != engine.ClassLine && el.Class != engine.ClassTransformer {
		return engine.Element{}, fmt.Errorf("element %s has no terminals", el)
	}
	br, ok := e.branches[el.Name]
	if !ok {
		return engine.Element{}, fmt.Errorf("element %s: %w", el, engine.ErrNotFound)
	}
	switch side {
	case 0:
		return engine.Element{Name: br.From, Class: engine.ClassTerminal}, nil
	case 1:
		return engine.Element{Name: br.To, Class: engine.ClassTerminal}, nil
	default:
		return engine.Element{}, fmt.Errorf("invalid side %d for %s", side, el)
	}
}

// Switches returns the switches in el's cubicles.
func (e *Engine) Switches(ctx context.Context, el engine.Element) ([]engine.Element, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check("Switches"); err != nil {
		return nil, err
	}
	if _, ok := e.attrs[el]; !ok {
		return nil, fmt.Errorf("element %s: %w", el, engine.ErrNotFound)
	}
	var out []engine.Element
	for _, sw := range e.spec.Switches {
		if sw.Element == el.Name {
			out = append(out, engine.Element{Name: sw.Name, Class: engine.ClassSwitch})
		}
	}
	return out, nil
}

// PrepareLoadFlow selects the load-flow mode.
func (e *Engine) PrepareLoadFlow(ctx context.Context, mode engine.LoadFlowMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check("PrepareLoadFlow"); err != nil {
		return err
	}
	e.ldfReady = true
	e.ldfMode = mode
	return nil
}

// SolveLoadFlow computes bus voltages from the current loads. Voltages are
// written even when the solve fails, leaving the non-converged state behind
// the way a real solver does.
func (e *Engine) SolveLoadFlow(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check("SolveLoadFlow"); err != nil {
		return false, err
	}
	if !e.ldfReady {
		return false, errors.New("load flow not prepared")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s := e.apparentLoad()
	failed := e.spec.MaxLoadMVA > 0 && s > e.spec.MaxLoadMVA
	if e.solves < len(e.script) {
		failed = !e.script[e.solves]
	}
	e.solves++
	e.writeVoltages(s)
	return failed, nil
}

// Close releases the engine. Further calls fail.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Engine) check(op string) error {
	if e.closed {
		return errors.New("engine closed")
	}
	if err, ok := e.failOn[op]; ok {
		return err
	}
	return nil
}

// apparentLoad sums |S| over in-service loads, in MVA.
func (e *Engine) apparentLoad() float64 {
	total := 0.0
	for _, l := range e.spec.Loads {
		attrs := e.attrs[engine.Element{Name: l.Name, Class: engine.ClassLoad}]
		if attrs[engine.AttrOutOfService] != 0 {
			continue
		}
		total += math.Hypot(attrs[engine.AttrActivePower], attrs[engine.AttrReactivePower])
	}
	return total
}

func (e *Engine) writeVoltages(s float64) {
	for _, b := range e.spec.Buses {
		e.attrs[engine.Element{Name: b.Name, Class: engine.ClassTerminal}][engine.AttrVoltage] = e.steadyVoltage(b, s)
	}
}

func (e *Engine) steadyVoltage(b BusSpec, s float64) float64 {
	if e.attrs[engine.Element{Name: b.Name, Class: engine.ClassTerminal}][engine.AttrOutOfService] != 0 {
		return 0
	}
	v := b.Setpoint - b.Sensitivity*s/e.spec.BaseMVA
	if e.ldfMode == engine.LoadFlowDC {
		v = 1.0
	}
	return v
}

// hops returns the number of in-service branches on the shortest path
// between every bus and from; unreachable buses are absent.
func (e *Engine) hops(from string) map[string]int {
	adj := make(map[string][]string)
	lines := e.lineNames()
	for name, br := range e.branches {
		class := engine.ClassLine
		if _, isLine := lines[name]; !isLine {
			class = engine.ClassTransformer
		}
		if e.attrs[engine.Element{Name: name, Class: class}][engine.AttrOutOfService] != 0 {
			continue
		}
		adj[br.From] = append(adj[br.From], br.To)
		adj[br.To] = append(adj[br.To], br.From)
	}
	dist := map[string]int{from: 0}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if _, seen := dist[next]; !seen {
				dist[next] = dist[cur] + 1
				queue = append(queue, next)
			}
		}
	}
	return dist
}

func (e *Engine) lineNames() map[string]struct{} {
	names := make(map[string]struct{}, len(e.spec.Lines))
	for _, l := range e.spec.Lines {
		names[l.Name] = struct{}{}
	}
	return names
}

var _ engine.Engine = (*Engine)(nil)
