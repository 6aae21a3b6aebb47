// Package analysis computes summary statistics over Monte Carlo voltage
// results.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/pfstudy/internal/results"
)

// Summary describes one bus column. NaN cells are ignored; Count is the
// number of finite values used.
type Summary struct {
	Bus    string  `json:"bus"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Q25    float64 `json:"q25"`
	Median float64 `json:"median"`
	Q75    float64 `json:"q75"`
	Max    float64 `json:"max"`
}

// Describe summarises every column of t in column order. A column without
// values reports NaN statistics; Std needs at least two values.
func Describe(t *results.Table) []Summary {
	out := make([]Summary, len(t.Columns))
	for i, col := range t.Profiles() {
		out[i] = describe(t.Columns[i], col)
	}
	return out
}

func describe(bus string, values []float64) Summary {
	x := finite(values)
	s := Summary{Bus: bus, Count: len(x)}
	nan := math.NaN()
	if len(x) == 0 {
		s.Mean, s.Std, s.Min, s.Q25, s.Median, s.Q75, s.Max = nan, nan, nan, nan, nan, nan, nan
		return s
	}
	sort.Float64s(x)
	s.Mean = stat.Mean(x, nil)
	s.Std = nan
	if len(x) > 1 {
		s.Std = stat.StdDev(x, nil)
	}
	s.Min = x[0]
	s.Max = x[len(x)-1]
	s.Q25 = quantile(x, 0.25)
	s.Median = quantile(x, 0.5)
	s.Q75 = quantile(x, 0.75)
	return s
}

// quantile interpolates linearly between order statistics at p*(n-1) over
// sorted x.
func quantile(x []float64, p float64) float64 {
	h := p * float64(len(x)-1)
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= len(x) {
		return x[len(x)-1]
	}
	return x[i] + (h-lo)*(x[i+1]-x[i])
}

// Exceeding returns, in column order, the buses with at least one value
// strictly above threshold.
func Exceeding(t *results.Table, threshold float64) []string {
	var out []string
	for i, col := range t.Profiles() {
		for _, v := range col {
			if v > threshold {
				out = append(out, t.Columns[i])
				break
			}
		}
	}
	return out
}

// Histogram is an equal-width binning of one column. Edges has one more
// element than Counts; the last bin includes its upper edge.
type Histogram struct {
	Bus    string    `json:"bus"`
	Edges  []float64 `json:"edges"`
	Counts []float64 `json:"counts"`
}

// NewHistogram bins the finite values of column bus into bins equal-width
// bins spanning their range. A constant column is widened by 0.5 either
// side.
func NewHistogram(t *results.Table, bus string, bins int) (*Histogram, error) {
	if bins < 1 {
		return nil, fmt.Errorf("bins must be positive, got %d", bins)
	}
	col, err := t.Column(bus)
	if err != nil {
		return nil, err
	}
	x := finite(col)
	if len(x) == 0 {
		return nil, errors.New("column " + bus + " has no finite values")
	}
	sort.Float64s(x)

	lo, hi := x[0], x[len(x)-1]
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	edges := floats.Span(make([]float64, bins+1), lo, hi)

	dividers := append([]float64(nil), edges...)
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, x, nil)

	return &Histogram{Bus: bus, Edges: edges, Counts: counts}, nil
}

func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}
