package results

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/pfstudy/internal/engine"
)

func TestWriter_HeaderFromFirstRow(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Write(map[string]float64{"Bus_B": 1.01, "Bus_A": 0.98}))
	require.NoError(t, w.Write(map[string]float64{"Bus_A": 0.97, "Bus_B": math.NaN()}))
	require.NoError(t, w.Flush())

	assert.Equal(t, []string{"Bus_A", "Bus_B"}, w.Header())
	assert.Equal(t, 2, w.Rows())
	assert.Equal(t, "Bus_A,Bus_B\n0.98,1.01\n0.97,NaN\n", buf.String())
}

func TestWriter_RejectsChangedColumns(t *testing.T) {
	tests := []struct {
		name string
		row  map[string]float64
	}{
		{"extra bus", map[string]float64{"A": 1, "B": 1, "C": 1}},
		{"renamed bus", map[string]float64{"A": 1, "C": 1}},
		{"missing bus", map[string]float64{"A": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWriter(&bytes.Buffer{})
			require.NoError(t, w.Write(map[string]float64{"A": 1, "B": 1}))
			assert.ErrorIs(t, w.Write(tt.row), ErrColumnsChanged)
			assert.Equal(t, 1, w.Rows())
		})
	}
}

func TestReadCSV(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader("A,B\n1,2\n3,NaN\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, tbl.Columns)
	require.Len(t, tbl.Rows, 2)

	col, err := tbl.Column("A")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3}, col)

	b, err := tbl.Column("B")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(b[1]))

	_, err = tbl.Column("C")
	assert.Error(t, err)

	p := tbl.Profiles()
	require.Len(t, p, 2)
	assert.Equal(t, []float64{1, 3}, p[0])

	c := tbl.Complete()
	assert.Equal(t, [][]float64{{1, 2}}, c.Rows)
	assert.Len(t, tbl.Rows, 2)
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"bad number", "A\nx\n"},
		{"ragged row", "A,B\n1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestRoundTripFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "res_prob_lf.csv")
	f, err := os.Create(path)
	require.NoError(t, err)

	w := NewWriter(f)
	for _, v := range []float64{1.0, 1.02, 0.99} {
		require.NoError(t, w.Write(map[string]float64{"X": v, "Y": 2 * v}))
	}
	require.NoError(t, w.Flush())
	require.NoError(t, f.Close())

	tbl, err := ReadFile(path)
	require.NoError(t, err)
	y, err := tbl.Column("Y")
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2.04, 1.98}, y)
}

func TestWriteSeries(t *testing.T) {
	time := []float64{0, 0.0001}
	series := []engine.Series{
		{Time: time, Values: []float64{1, 2}},
		{Time: time, Values: []float64{3, 4}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteSeries(&buf, []string{"ula", "ulb"}, series))
	assert.Equal(t, "t,ula,ulb\n0,1,3\n0.0001,2,4\n", buf.String())

	err := WriteSeries(&bytes.Buffer{}, []string{"ula"}, series)
	assert.Error(t, err)

	short := []engine.Series{series[0], {Time: time[:1], Values: []float64{1}}}
	err = WriteSeries(&bytes.Buffer{}, []string{"a", "b"}, short)
	assert.Error(t, err)
}
