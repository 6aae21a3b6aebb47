package montecarlo

import (
	"errors"
	"fmt"
	"math"
)

// ErrSingularDraw reports a uniform variate outside [0, 1). The Box-Muller
// transform needs ln(u1) with u1 in (0, 1], which the sampler guarantees for
// every well-behaved source.
var ErrSingularDraw = errors.New("uniform source returned a value outside [0, 1)")

// Uniform is a source of uniform variates in [0, 1). *rand.Rand from
// math/rand/v2 satisfies it.
type Uniform interface {
	Float64() float64
}

// Sampler draws normally distributed load scale factors.
type Sampler struct {
	src Uniform
}

// NewSampler returns a sampler drawing from src.
func NewSampler(src Uniform) *Sampler {
	return &Sampler{src: src}
}

// ScaleFactor draws k = 1 + stdDev*sqrt(-2 ln u1)*cos(2 pi u2).
// u1 is taken as 1-x for x in [0, 1), so it lies in (0, 1] and the
// logarithm is always defined.
func (s *Sampler) ScaleFactor(stdDev float64) (float64, error) {
	x1 := s.src.Float64()
	x2 := s.src.Float64()
	if !(x1 >= 0 && x1 < 1) || !(x2 >= 0 && x2 < 1) {
		return 0, fmt.Errorf("%w: got %g, %g", ErrSingularDraw, x1, x2)
	}
	u1 := 1 - x1
	return 1 + stdDev*math.Sqrt(-2*math.Log(u1))*math.Cos(2*math.Pi*x2), nil
}

// Sample draws one scale factor and returns the scaled load vector together
// with it. Each load keeps its share of the system total; active and
// reactive power use the same factor.
func (s *Sampler) Sample(totals Totals, base LoadSnapshot, stdDev float64) (Loads, float64, error) {
	k, err := s.ScaleFactor(stdDev)
	if err != nil {
		return nil, 0, err
	}
	return Scale(totals, base, k), k, nil
}

// Scale redistributes totals scaled by k over the loads in proportion to
// their base share. The base snapshot is not modified.
func Scale(totals Totals, base LoadSnapshot, k float64) Loads {
	out := make(Loads, len(base))
	for name, v := range base {
		out[name] = LoadValue{
			Active:   share(v.Active, totals.Active, k),
			Reactive: share(v.Reactive, totals.Reactive, k),
		}
	}
	return out
}

// share returns base/total * (total*k). A zero total has no shares to
// preserve, so the load is scaled directly.
func share(base, total, k float64) float64 {
	if total == 0 {
		return base * k
	}
	return base / total * (total * k)
}
