// Package memory implements an in-process network engine.
//
// It stands in for the external simulator in demos and tests: network
// elements are described in YAML, load flow uses a linear voltage
// sensitivity model, and time-domain runs synthesise waveforms around
// scheduled short-circuit events. It is deterministic by construction.
package memory

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed testdata/2a4g.yaml
var exampleNetwork []byte

// NetworkSpec describes a network model.
type NetworkSpec struct {
	Name      string  `yaml:"name"`
	BaseMVA   float64 `yaml:"base_mva"`
	Frequency float64 `yaml:"frequency"`
	// MaxLoadMVA is the total in-service apparent load above which load flow
	// fails to converge. Zero disables the limit.
	MaxLoadMVA float64 `yaml:"max_load_mva"`

	Buses        []BusSpec     `yaml:"buses"`
	Loads        []LoadSpec    `yaml:"loads"`
	Lines        []BranchSpec  `yaml:"lines"`
	Transformers []BranchSpec  `yaml:"transformers"`
	Machines     []MachineSpec `yaml:"machines"`
	Switches     []SwitchSpec  `yaml:"switches"`
}

// BusSpec describes a terminal.
type BusSpec struct {
	Name      string  `yaml:"name"`
	NominalKV float64 `yaml:"nominal_kv"`
	// Setpoint is the no-load voltage in p.u. (default 1.0).
	Setpoint float64 `yaml:"setpoint"`
	// Sensitivity is the p.u. voltage drop per p.u. of system apparent load.
	Sensitivity float64 `yaml:"sensitivity"`
}

// LoadSpec describes a load element.
type LoadSpec struct {
	Name string  `yaml:"name"`
	Bus  string  `yaml:"bus"`
	P    float64 `yaml:"p"`
	Q    float64 `yaml:"q"`
}

// BranchSpec describes a line or two-winding transformer.
type BranchSpec struct {
	Name string `yaml:"name"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// MachineSpec describes a synchronous machine.
type MachineSpec struct {
	Name string `yaml:"name"`
	Bus  string `yaml:"bus"`
}

// SwitchSpec describes a switch in the cubicle of an element.
type SwitchSpec struct {
	Name    string `yaml:"name"`
	Element string `yaml:"element"`
	Closed  bool   `yaml:"closed"`
}

// ExampleNetwork returns the bundled two-area, four-machine network.
func ExampleNetwork() (*NetworkSpec, error) {
	return ParseNetwork(exampleNetwork)
}

// LoadNetwork reads a network description from a YAML file.
func LoadNetwork(path string) (*NetworkSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading network file: %w", err)
	}
	return ParseNetwork(data)
}

// ParseNetwork decodes and validates a YAML network description.
func ParseNetwork(data []byte) (*NetworkSpec, error) {
	var spec NetworkSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing network: %w", err)
	}
	spec.applyDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *NetworkSpec) applyDefaults() {
	if s.BaseMVA == 0 {
		s.BaseMVA = 100
	}
	if s.Frequency == 0 {
		s.Frequency = 50
	}
	for i := range s.Buses {
		if s.Buses[i].Setpoint == 0 {
			s.Buses[i].Setpoint = 1.0
		}
	}
}

// Validate checks names are unique and every reference resolves.
func (s *NetworkSpec) Validate() error {
	if s.BaseMVA <= 0 {
		return fmt.Errorf("base_mva must be positive, got %g", s.BaseMVA)
	}
	if s.MaxLoadMVA < 0 {
		return fmt.Errorf("max_load_mva must be non-negative, got %g", s.MaxLoadMVA)
	}

	buses := make(map[string]bool, len(s.Buses))
	for _, b := range s.Buses {
		if b.Name == "" {
			return fmt.Errorf("bus with empty name")
		}
		if buses[b.Name] {
			return fmt.Errorf("duplicate bus %q", b.Name)
		}
		buses[b.Name] = true
	}

	named := make(map[string]bool)
	check := func(kind, name string, refs ...string) error {
		if name == "" {
			return fmt.Errorf("%s with empty name", kind)
		}
		if named[kind+"/"+name] {
			return fmt.Errorf("duplicate %s %q", kind, name)
		}
		named[kind+"/"+name] = true
		for _, r := range refs {
			if !buses[r] {
				return fmt.Errorf("%s %q references unknown bus %q", kind, name, r)
			}
		}
		return nil
	}

	for _, l := range s.Loads {
		if err := check("load", l.Name, l.Bus); err != nil {
			return err
		}
	}
	for _, l := range s.Lines {
		if err := check("line", l.Name, l.From, l.To); err != nil {
			return err
		}
	}
	for _, t := range s.Transformers {
		if err := check("transformer", t.Name, t.From, t.To); err != nil {
			return err
		}
	}
	for _, m := range s.Machines {
		if err := check("machine", m.Name, m.Bus); err != nil {
			return err
		}
	}

	hosts := make(map[string]bool)
	for _, l := range s.Loads {
		hosts[l.Name] = true
	}
	for _, l := range s.Lines {
		hosts[l.Name] = true
	}
	for _, t := range s.Transformers {
		hosts[t.Name] = true
	}
	for _, sw := range s.Switches {
		if err := check("switch", sw.Name); err != nil {
			return err
		}
		if !hosts[sw.Element] {
			return fmt.Errorf("switch %q references unknown element %q", sw.Name, sw.Element)
		}
	}
	return nil
}
