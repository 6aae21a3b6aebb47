package montecarlo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/nvandessel/pfstudy/internal/engine"
)

// LoadValue is the active [MW] and reactive [Mvar] power of one load.
type LoadValue struct {
	Active   float64 `json:"p"`
	Reactive float64 `json:"q"`
}

// Loads maps load names to their power. A LoadSnapshot and a sampled load
// vector share this shape.
type Loads map[string]LoadValue

// LoadSnapshot is the full set of load values at capture time: exactly one
// entry per load element present in the network.
type LoadSnapshot = Loads

// Totals is the system-wide active and reactive load.
type Totals struct {
	Active   float64 `json:"p"`
	Reactive float64 `json:"q"`
}

// Totals sums active and reactive power over all loads.
func (l Loads) Totals() Totals {
	var t Totals
	for _, v := range l {
		t.Active += v.Active
		t.Reactive += v.Reactive
	}
	return t
}

// Names returns the load names in sorted order.
func (l Loads) Names() []string {
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether both sets hold the same loads with values equal
// within tol.
func (l Loads) Equal(other Loads, tol float64) bool {
	if len(l) != len(other) {
		return false
	}
	for name, v := range l {
		o, ok := other[name]
		if !ok || math.Abs(v.Active-o.Active) > tol || math.Abs(v.Reactive-o.Reactive) > tol {
			return false
		}
	}
	return true
}

// Capture reads the active and reactive power of every load element. A
// network with no loads yields an empty snapshot.
func Capture(ctx context.Context, net engine.Network) (LoadSnapshot, error) {
	loads, err := net.Elements(ctx, engine.PatternLoads)
	if err != nil {
		return nil, fmt.Errorf("list loads: %w", err)
	}
	snap := make(LoadSnapshot, len(loads))
	for _, el := range loads {
		p, err := net.Attribute(ctx, el, engine.AttrActivePower)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", el, err)
		}
		q, err := net.Attribute(ctx, el, engine.AttrReactivePower)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", el, err)
		}
		snap[el.Name] = LoadValue{Active: p, Reactive: q}
	}
	return snap, nil
}

// Restore writes every snapshot entry back onto its load. Loads that no
// longer exist are skipped, logged and returned; any other engine failure
// aborts the restore.
func Restore(ctx context.Context, net engine.Network, snap LoadSnapshot, logger *slog.Logger) ([]string, error) {
	var missing []string
	for _, name := range snap.Names() {
		err := writeLoad(ctx, net, name, snap[name])
		if errors.Is(err, engine.ErrNotFound) {
			missing = append(missing, name)
			if logger != nil {
				logger.Warn("load missing on restore", "load", name)
			}
			continue
		}
		if err != nil {
			return missing, err
		}
	}
	return missing, nil
}

// Apply writes a sampled load vector onto the live network. Unlike Restore
// it fails on the first load that cannot be written.
func Apply(ctx context.Context, net engine.Network, loads Loads) error {
	for _, name := range loads.Names() {
		if err := writeLoad(ctx, net, name, loads[name]); err != nil {
			return err
		}
	}
	return nil
}

func writeLoad(ctx context.Context, net engine.Network, name string, v LoadValue) error {
	el := engine.Element{Name: name, Class: engine.ClassLoad}
	if err := net.SetAttribute(ctx, el, engine.AttrActivePower, v.Active); err != nil {
		return fmt.Errorf("write %s: %w", el, err)
	}
	if err := net.SetAttribute(ctx, el, engine.AttrReactivePower, v.Reactive); err != nil {
		return fmt.Errorf("write %s: %w", el, err)
	}
	return nil
}
