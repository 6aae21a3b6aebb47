// Package spectrum computes amplitude spectra of simulated waveforms.
package spectrum

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/interp"

	"github.com/nvandessel/pfstudy/internal/engine"
)

// ErrVariableStep reports a waveform whose samples are not evenly spaced.
var ErrVariableStep = errors.New("waveform has a variable step size")

// StepTolerance is the relative deviation allowed between time steps for a
// waveform to count as fixed-step.
const StepTolerance = 1e-6

// Magnitudes returns |DFT(x)|/n for every coefficient, in the same order as
// Frequencies.
func Magnitudes(x []float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	coeff := fourier.NewFFT(n).Coefficients(nil, x)
	out := make([]float64, n)
	for k := range n {
		c := k
		if k > n/2 {
			// Real input: X[n-k] is the conjugate of X[k].
			c = n - k
		}
		out[k] = cmplx.Abs(coeff[c]) / float64(n)
	}
	return out
}

// Frequencies returns the sample frequencies of an n-point DFT with sample
// spacing step: 0, 1, ..., then the negative frequencies, all over n*step.
func Frequencies(n int, step float64) []float64 {
	out := make([]float64, n)
	for i := range n {
		k := i
		if i > (n-1)/2 {
			k = i - n
		}
		out[i] = float64(k) / (float64(n) * step)
	}
	return out
}

// FixedStep reports the step of t when every interval is within
// StepTolerance of the first.
func FixedStep(t []float64) (float64, bool) {
	if len(t) < 2 {
		return 0, false
	}
	step := t[1] - t[0]
	if step <= 0 {
		return 0, false
	}
	for i := 2; i < len(t); i++ {
		if math.Abs((t[i]-t[i-1])-step) > StepTolerance*step {
			return 0, false
		}
	}
	return step, true
}

// Resample interpolates s linearly onto a grid from its first time point
// with the given step, up to and including its last point.
func Resample(s engine.Series, step float64) (engine.Series, error) {
	if step <= 0 {
		return engine.Series{}, fmt.Errorf("step must be positive, got %g", step)
	}
	if s.Len() < 2 {
		return engine.Series{}, errors.New("need at least two points to resample")
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(s.Time, s.Values); err != nil {
		return engine.Series{}, fmt.Errorf("fit waveform: %w", err)
	}

	start, end := s.Time[0], s.Time[s.Len()-1]
	n := int(math.Floor((end-start)/step+1e-9)) + 1
	out := engine.Series{Time: make([]float64, n), Values: make([]float64, n)}
	for i := range n {
		t := start + float64(i)*step
		if t > end {
			t = end
		}
		out.Time[i] = t
		out.Values[i] = pl.Predict(t)
	}
	return out, nil
}

// Spectrum is an amplitude spectrum.
type Spectrum struct {
	Step        float64   `json:"step"`
	Frequencies []float64 `json:"frequencies"`
	Magnitudes  []float64 `json:"magnitudes"`
	Resampled   bool      `json:"resampled"`
}

// Analyze computes the spectrum of s. A variable-step waveform is resampled
// to step first, or rejected with ErrVariableStep when step is zero.
func Analyze(s engine.Series, step float64) (*Spectrum, error) {
	if s.Len() < 2 {
		return nil, errors.New("need at least two points")
	}
	sp := &Spectrum{}
	if fixed, ok := FixedStep(s.Time); ok {
		sp.Step = fixed
	} else {
		if step <= 0 {
			return nil, ErrVariableStep
		}
		r, err := Resample(s, step)
		if err != nil {
			return nil, err
		}
		s, sp.Step, sp.Resampled = r, step, true
	}
	sp.Magnitudes = Magnitudes(s.Values)
	sp.Frequencies = Frequencies(len(s.Values), sp.Step)
	return sp, nil
}

// Peak returns the strongest positive-frequency component, ignoring DC.
func (sp *Spectrum) Peak() (freq, magnitude float64) {
	for i, f := range sp.Frequencies {
		if f > 0 && sp.Magnitudes[i] > magnitude {
			freq, magnitude = f, sp.Magnitudes[i]
		}
	}
	return freq, magnitude
}
