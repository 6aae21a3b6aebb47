package dynamic

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/pfstudy/internal/engine"
	"github.com/nvandessel/pfstudy/internal/engine/memory"
)

func newExample(t *testing.T, opts ...memory.Option) *memory.Engine {
	t.Helper()
	spec, err := memory.ExampleNetwork()
	require.NoError(t, err)
	e := memory.New(spec, opts...)
	require.NoError(t, e.Activate(context.Background(), engine.Project{Name: spec.Name}))
	return e
}

func TestRunEMT(t *testing.T) {
	s := NewStudy(newExample(t), nil)
	series, err := s.RunEMT(context.Background(), EMTOptions{Bus: "Bus_20kV_1", Step: 1e-4, End: 0.02})
	require.NoError(t, err)
	require.Len(t, series, 3)

	for _, p := range series {
		assert.Equal(t, 201, p.Len())
	}
	assert.Equal(t, series[0].Time, series[1].Time)
	assert.NotEqual(t, series[0].Values[0], series[1].Values[0], "phases are shifted")

	peak := 0.0
	for _, v := range series[0].Values {
		peak = math.Max(peak, math.Abs(v))
	}
	assert.Greater(t, peak, 20.0, "20 kV bus peaks above its nominal rms value")
}

func TestRunEMT_UnknownBus(t *testing.T) {
	s := NewStudy(newExample(t), nil)
	_, err := s.RunEMT(context.Background(), EMTOptions{Bus: "Nowhere", Step: 1e-4, End: 0.02})
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestShortCircuitSweep(t *testing.T) {
	e := newExample(t)
	s := NewStudy(e, nil)

	res, err := s.ShortCircuitSweep(context.Background(), SweepOptions{
		Machine:   "G1",
		Variable:  "s:fe",
		FaultTime: 2.0,
		Duration:  0.15,
		Step:      0.01,
		End:       5,
	})
	require.NoError(t, err)
	require.Len(t, res, 11)
	assert.Empty(t, e.Events(), "faults are deleted after each bus")

	deviation := map[string]float64{}
	for _, r := range res {
		require.Equal(t, 501, r.Response.Len())
		for i, v := range r.Response.Values {
			if r.Response.Time[i] < 2.0 {
				assert.Equal(t, 1.0, v, "no response before the fault on %s", r.Bus)
			}
			deviation[r.Bus] = math.Max(deviation[r.Bus], math.Abs(v-1))
		}
	}
	assert.Equal(t, "Bus_20kV_1", res[0].Bus)
	assert.Greater(t, deviation["Bus_20kV_1"], deviation["Bus_230kV_9"], "faults near the machine disturb it more")
	assert.Greater(t, deviation["Bus_230kV_9"], 0.0)
}

func TestShortCircuitSweep_FailureCleansUp(t *testing.T) {
	boom := errors.New("solver crashed")
	e := newExample(t, memory.WithFailure("SolveTimeDomain", boom))
	s := NewStudy(e, nil)

	res, err := s.ShortCircuitSweep(context.Background(), SweepOptions{
		Machine: "G1", Variable: "s:fe", FaultTime: 2, Duration: 0.15, Step: 0.01, End: 3,
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, res)
	assert.Empty(t, e.Events())
}

func TestShortCircuitSweep_InvalidDuration(t *testing.T) {
	s := NewStudy(newExample(t), nil)
	_, err := s.ShortCircuitSweep(context.Background(), SweepOptions{Machine: "G1", Variable: "s:fe", Step: 0.01, End: 3})
	assert.Error(t, err)
}

func TestShortCircuitSweep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewStudy(newExample(t), nil)
	_, err := s.ShortCircuitSweep(ctx, SweepOptions{Machine: "G1", Variable: "s:fe", Duration: 0.15, Step: 0.01, End: 3})
	assert.ErrorIs(t, err, context.Canceled)
}
