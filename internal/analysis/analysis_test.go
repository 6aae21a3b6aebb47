package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/pfstudy/internal/results"
)

func table() *results.Table {
	nan := math.NaN()
	return &results.Table{
		Columns: []string{"A", "B", "C"},
		Rows: [][]float64{
			{1, 1.01, nan},
			{2, 1.02, nan},
			{3, 1.04, nan},
			{4, nan, nan},
		},
	}
}

func TestDescribe(t *testing.T) {
	got := Describe(table())
	require.Len(t, got, 3)

	a := got[0]
	assert.Equal(t, "A", a.Bus)
	assert.Equal(t, 4, a.Count)
	assert.InDelta(t, 2.5, a.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(5.0/3.0), a.Std, 1e-12)
	assert.Equal(t, 1.0, a.Min)
	assert.InDelta(t, 1.75, a.Q25, 1e-12)
	assert.InDelta(t, 2.5, a.Median, 1e-12)
	assert.InDelta(t, 3.25, a.Q75, 1e-12)
	assert.Equal(t, 4.0, a.Max)

	b := got[1]
	assert.Equal(t, 3, b.Count, "NaN cells are ignored")
	assert.InDelta(t, 1.02333333, b.Mean, 1e-6)

	c := got[2]
	assert.Equal(t, 0, c.Count)
	assert.True(t, math.IsNaN(c.Mean))
	assert.True(t, math.IsNaN(c.Std))
}

func TestDescribe_SingleValue(t *testing.T) {
	got := Describe(&results.Table{Columns: []string{"X"}, Rows: [][]float64{{0.98}}})
	require.Len(t, got, 1)
	assert.Equal(t, 0.98, got[0].Median)
	assert.Equal(t, 0.98, got[0].Q75)
	assert.True(t, math.IsNaN(got[0].Std))
}

func TestExceeding(t *testing.T) {
	tests := []struct {
		threshold float64
		want      []string
	}{
		{1.03, []string{"A", "B"}},
		{1.04, []string{"A"}},
		{4, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Exceeding(table(), tt.threshold), "threshold %g", tt.threshold)
	}
}

func TestNewHistogram(t *testing.T) {
	tbl := &results.Table{Columns: []string{"X"}, Rows: [][]float64{{0}, {1}, {2}, {3}, {4}, {math.NaN()}}}

	h, err := NewHistogram(tbl, "X", 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, h.Edges)
	assert.Equal(t, []float64{1, 1, 1, 2}, h.Counts, "maximum falls in the last bin")
}

func TestNewHistogram_Constant(t *testing.T) {
	tbl := &results.Table{Columns: []string{"X"}, Rows: [][]float64{{5}, {5}}}
	h, err := NewHistogram(tbl, "X", 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{4.5, 5, 5.5}, h.Edges)
	assert.Equal(t, []float64{0, 2}, h.Counts)
}

func TestNewHistogram_Errors(t *testing.T) {
	tbl := table()
	_, err := NewHistogram(tbl, "A", 0)
	assert.Error(t, err)
	_, err = NewHistogram(tbl, "Z", 10)
	assert.Error(t, err)
	_, err = NewHistogram(tbl, "C", 10)
	assert.Error(t, err)
}
