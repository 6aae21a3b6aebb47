// Package engine defines the narrow surface pfstudy needs from an external
// power-system simulation engine.
//
// The engine owns the network model and all solvers. pfstudy only activates a
// project, enumerates elements, reads and writes element attributes, runs
// load-flow and time-domain solves, manages transient events and reads back
// result series. Concrete engines live in subpackages (memory, bridge).
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when an element, event or result column does not
// resolve inside the active project.
var ErrNotFound = errors.New("engine: not found")

// Element classes used by pfstudy.
const (
	ClassLoad        = "ElmLod"
	ClassTerminal    = "ElmTerm"
	ClassLine        = "ElmLne"
	ClassTransformer = "ElmTr2"
	ClassMachine     = "ElmSym"
	ClassSwitch      = "StaSwitch"
)

// Element patterns for the classes above.
const (
	PatternLoads        = "*." + ClassLoad
	PatternTerminals    = "*." + ClassTerminal
	PatternLines        = "*." + ClassLine
	PatternTransformers = "*." + ClassTransformer
)

// Attribute names.
const (
	AttrActivePower   = "plini"   // load active power [MW]
	AttrReactivePower = "qlini"   // load reactive power [Mvar]
	AttrVoltage       = "m:u"     // bus voltage magnitude [p.u.]
	AttrOutOfService  = "outserv" // 1 when the element is out of service
	AttrSwitchClosed  = "on_off"  // 1 when the switch is closed
)

// Element is a handle on a network element: its network-unique name plus
// its class.
type Element struct {
	Name  string `json:"name"`
	Class string `json:"class"`
}

// String renders the element the way the engine addresses it, e.g.
// "Bus_1.ElmTerm".
func (e Element) String() string {
	return e.Name + "." + e.Class
}

// ParseElement splits "Name.Class" into an Element. The class is the text
// after the last dot.
func ParseElement(s string) (Element, error) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return Element{}, fmt.Errorf("invalid element reference %q (want Name.Class)", s)
	}
	return Element{Name: s[:i], Class: s[i+1:]}, nil
}

// Project identifies the network model and study case to activate.
type Project struct {
	Folder    string `json:"folder" yaml:"folder"`
	Name      string `json:"name" yaml:"name"`
	StudyCase string `json:"study_case" yaml:"study_case"`
}

// Path returns the project path inside the engine's project tree.
func (p Project) Path() string {
	if p.Folder == "" {
		return p.Name
	}
	return p.Folder + `\` + p.Name
}

// LoadFlowMode selects the load-flow formulation.
type LoadFlowMode int

const (
	LoadFlowBalanced   LoadFlowMode = 0
	LoadFlowUnbalanced LoadFlowMode = 1
	LoadFlowDC         LoadFlowMode = 2
)

// ParseLoadFlowMode maps "balanced", "unbalanced" or "dc" to a mode.
func ParseLoadFlowMode(s string) (LoadFlowMode, error) {
	switch strings.ToLower(s) {
	case "", "balanced":
		return LoadFlowBalanced, nil
	case "unbalanced":
		return LoadFlowUnbalanced, nil
	case "dc":
		return LoadFlowDC, nil
	default:
		return 0, fmt.Errorf("invalid load flow mode: %s (valid: balanced, unbalanced, dc)", s)
	}
}

func (m LoadFlowMode) String() string {
	switch m {
	case LoadFlowBalanced:
		return "balanced"
	case LoadFlowUnbalanced:
		return "unbalanced"
	case LoadFlowDC:
		return "dc"
	default:
		return fmt.Sprintf("LoadFlowMode(%d)", int(m))
	}
}

// SimulationType selects RMS (electromechanical) or instantaneous (EMT)
// time-domain simulation.
type SimulationType string

const (
	SimulationRMS SimulationType = "rms"
	SimulationEMT SimulationType = "ins"
)

// DynamicConfig prepares a time-domain simulation.
type DynamicConfig struct {
	// Monitored maps an element pattern to the result variables recorded for
	// every matching element, e.g. {"*.ElmTerm": {"m:u"}}.
	Monitored map[string][]string `json:"monitored"`
	Type      SimulationType      `json:"type"`
	Start     float64             `json:"start"`
	Step      float64             `json:"step"`
	End       float64             `json:"end"`
}

// Validate checks the time grid.
func (c DynamicConfig) Validate() error {
	if c.Type != SimulationRMS && c.Type != SimulationEMT {
		return fmt.Errorf("invalid simulation type: %q (valid: rms, ins)", c.Type)
	}
	if c.Step <= 0 {
		return fmt.Errorf("step size must be positive, got %g", c.Step)
	}
	if c.End <= c.Start {
		return fmt.Errorf("end time %g must be after start time %g", c.End, c.Start)
	}
	return nil
}

// Series is one recorded result variable.
type Series struct {
	Time   []float64 `json:"time"`
	Values []float64 `json:"values"`
}

// Len returns the number of points.
func (s Series) Len() int { return len(s.Time) }

// ShortCircuit describes a three-phase fault event, optionally followed by a
// clearing event Duration seconds later.
type ShortCircuit struct {
	Name     string   `json:"name"`
	Target   Element  `json:"target"`
	Time     float64  `json:"time"`
	Duration *float64 `json:"duration,omitempty"`
}

// ClearName is the name of the clearing event paired with a fault.
func ClearName(name string) string { return name + "_clear" }

// Network gives access to network elements and their attributes.
type Network interface {
	// Elements returns every calculation-relevant element matching pattern
	// ("Name.Class" with shell wildcards), in engine order.
	Elements(ctx context.Context, pattern string) ([]Element, error)
	Attribute(ctx context.Context, el Element, name string) (float64, error)
	SetAttribute(ctx context.Context, el Element, name string, value float64) error
	// Terminal returns the terminal connected at side 0 or 1 of a branch.
	Terminal(ctx context.Context, el Element, side int) (Element, error)
	// Switches returns the switches located in the element's cubicles.
	Switches(ctx context.Context, el Element) ([]Element, error)
}

// LoadFlowSolver runs steady-state load flows.
type LoadFlowSolver interface {
	PrepareLoadFlow(ctx context.Context, mode LoadFlowMode) error
	// SolveLoadFlow reports failed=true when the solve did not converge.
	// A non-nil error means the engine call itself failed.
	SolveLoadFlow(ctx context.Context) (failed bool, err error)
}

// DynamicSolver runs RMS and EMT simulations.
type DynamicSolver interface {
	// PrepareDynamic registers monitored variables, sets the time grid and
	// computes initial conditions.
	PrepareDynamic(ctx context.Context, cfg DynamicConfig) error
	SolveTimeDomain(ctx context.Context) (failed bool, err error)
	Results(ctx context.Context, el Element, variable string) (Series, error)
}

// EventManager creates and deletes transient events in the study case.
type EventManager interface {
	CreateShortCircuit(ctx context.Context, sc ShortCircuit) error
	// DeleteShortCircuit removes the fault and its clearing event if they
	// exist. Deleting a missing event is not an error.
	DeleteShortCircuit(ctx context.Context, name string) error
}

// LoadFlowEngine is the subset the Monte Carlo core depends on.
type LoadFlowEngine interface {
	Network
	LoadFlowSolver
}

// Engine is a full engine session.
type Engine interface {
	Network
	LoadFlowSolver
	DynamicSolver
	EventManager

	Activate(ctx context.Context, p Project) error
	Close() error
}
