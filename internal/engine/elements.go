package engine

import (
	"context"
	"fmt"
	"path"
)

// MatchPattern reports whether el matches an engine pattern such as
// "*.ElmLod" or "Bus_20kV_1.ElmTerm".
func MatchPattern(pattern string, el Element) bool {
	ok, err := path.Match(pattern, el.String())
	return err == nil && ok
}

// ToggleOutOfService flips the out-of-service flag of every element that
// matches pattern and returns how many were toggled.
func ToggleOutOfService(ctx context.Context, n Network, pattern string) (int, error) {
	elms, err := n.Elements(ctx, pattern)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", pattern, err)
	}
	for _, el := range elms {
		if err := toggle(ctx, n, el, AttrOutOfService); err != nil {
			return 0, err
		}
	}
	return len(elms), nil
}

// ToggleSwitches flips every switch sitting in the cubicles of the elements
// that match pattern and returns how many switches were toggled.
func ToggleSwitches(ctx context.Context, n Network, pattern string) (int, error) {
	elms, err := n.Elements(ctx, pattern)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", pattern, err)
	}
	count := 0
	for _, el := range elms {
		sws, err := n.Switches(ctx, el)
		if err != nil {
			return count, fmt.Errorf("switches of %s: %w", el, err)
		}
		for _, sw := range sws {
			if err := toggle(ctx, n, sw, AttrSwitchClosed); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

func toggle(ctx context.Context, n Network, el Element, attr string) error {
	v, err := n.Attribute(ctx, el, attr)
	if err != nil {
		return fmt.Errorf("read %s of %s: %w", attr, el, err)
	}
	if err := n.SetAttribute(ctx, el, attr, 1-v); err != nil {
		return fmt.Errorf("write %s of %s: %w", attr, el, err)
	}
	return nil
}
