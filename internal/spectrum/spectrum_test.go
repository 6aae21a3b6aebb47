package spectrum

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/pfstudy/internal/engine"
)

// wave samples amp*cos(2 pi f t) + dc at n points with the given step.
func wave(n int, step, f, amp, dc float64) engine.Series {
	s := engine.Series{Time: make([]float64, n), Values: make([]float64, n)}
	for i := range n {
		t := float64(i) * step
		s.Time[i] = t
		s.Values[i] = dc + amp*math.Cos(2*math.Pi*f*t)
	}
	return s
}

func TestMagnitudes_SingleTone(t *testing.T) {
	s := wave(200, 1e-4, 50, 1, 0.25)
	mags := Magnitudes(s.Values)
	require.Len(t, mags, 200)

	assert.InDelta(t, 0.25, mags[0], 1e-9)
	assert.InDelta(t, 0.5, mags[1], 1e-9)
	assert.InDelta(t, 0.5, mags[199], 1e-9)
	for k := 2; k < 199; k++ {
		assert.InDelta(t, 0, mags[k], 1e-9, "bin %d", k)
	}
	assert.Nil(t, Magnitudes(nil))
}

func TestFrequencies(t *testing.T) {
	assert.Equal(t, []float64{0, 1, -2, -1}, Frequencies(4, 0.25))
	got := Frequencies(5, 1)
	want := []float64{0, 0.2, 0.4, -0.4, -0.2}
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-12)
	}
}

func TestFixedStep(t *testing.T) {
	step, ok := FixedStep(wave(10, 1e-4, 50, 1, 0).Time)
	assert.True(t, ok)
	assert.InDelta(t, 1e-4, step, 1e-15)

	_, ok = FixedStep([]float64{0, 1, 3})
	assert.False(t, ok)
	_, ok = FixedStep([]float64{0})
	assert.False(t, ok)
	_, ok = FixedStep([]float64{1, 1})
	assert.False(t, ok)
}

func TestResample(t *testing.T) {
	s := engine.Series{Time: []float64{0, 1, 3}, Values: []float64{0, 2, 6}}
	r, err := Resample(s, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3}, r.Time)
	assert.InDeltaSlice(t, []float64{0, 2, 4, 6}, r.Values, 1e-12)

	_, err = Resample(s, 0)
	assert.Error(t, err)
	_, err = Resample(engine.Series{Time: []float64{0}, Values: []float64{1}}, 1)
	assert.Error(t, err)
}

func TestAnalyze(t *testing.T) {
	sp, err := Analyze(wave(200, 1e-4, 50, 2, 0), 0)
	require.NoError(t, err)
	assert.False(t, sp.Resampled)
	f, m := sp.Peak()
	assert.InDelta(t, 50, f, 1e-6)
	assert.InDelta(t, 1, m, 1e-9)
}

func TestAnalyze_VariableStep(t *testing.T) {
	s := engine.Series{Time: []float64{0, 0.001, 0.003, 0.004}, Values: []float64{1, 0, -1, 0}}

	_, err := Analyze(s, 0)
	assert.ErrorIs(t, err, ErrVariableStep)

	sp, err := Analyze(s, 0.001)
	require.NoError(t, err)
	assert.True(t, sp.Resampled)
	assert.Len(t, sp.Magnitudes, 5)
	assert.Equal(t, 0.001, sp.Step)
}
