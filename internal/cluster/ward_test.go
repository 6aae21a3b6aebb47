package cluster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWard_Unconstrained(t *testing.T) {
	names := []string{"A", "B", "C", "D"}
	data := [][]float64{{0}, {0.1}, {5}, {5.2}}

	tree, err := Ward(names, data, nil)
	require.NoError(t, err)
	require.Len(t, tree.Merges, 3)

	assert.Equal(t, 0, tree.Merges[0].Left)
	assert.Equal(t, 1, tree.Merges[0].Right)
	assert.InDelta(t, 0.1, tree.Merges[0].Distance, 1e-12)
	assert.Equal(t, 2, tree.Merges[0].Size)

	assert.Equal(t, 2, tree.Merges[1].Left)
	assert.Equal(t, 3, tree.Merges[1].Right)
	assert.InDelta(t, 0.2, tree.Merges[1].Distance, 1e-12)

	assert.Equal(t, 4, tree.Merges[2].Left)
	assert.Equal(t, 5, tree.Merges[2].Right)
	assert.InDelta(t, math.Sqrt2*5.05, tree.Merges[2].Distance, 1e-9)
	assert.Equal(t, 4, tree.Merges[2].Size)

	for k, want := range map[int][]int{
		1: {0, 0, 0, 0},
		2: {0, 0, 1, 1},
		4: {0, 1, 2, 3},
	} {
		got, err := tree.Labels(k)
		require.NoError(t, err)
		assert.Equal(t, want, got, "k=%d", k)
	}
	assert.Equal(t, []int{0, 1, 2, 3}, tree.Order())
}

func TestWard_Connectivity(t *testing.T) {
	names := []string{"A", "B", "C", "D"}
	data := [][]float64{{0}, {5}, {0.1}, {6}}
	// Chain A-B-C-D keeps A and C apart even though their values are close.
	conn := [][]bool{
		{false, true, false, false},
		{true, false, true, false},
		{false, true, false, true},
		{false, false, true, false},
	}

	tree, err := Ward(names, data, conn)
	require.NoError(t, err)
	require.Len(t, tree.Merges, 3)

	pairs := [][2]int{}
	for _, m := range tree.Merges {
		pairs = append(pairs, [2]int{m.Left, m.Right})
		assert.False(t, m.Unconstrained)
	}
	assert.Equal(t, [][2]int{{1, 2}, {0, 4}, {3, 5}}, pairs)

	labels, err := tree.Labels(2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1}, labels)
	assert.Equal(t, []int{3, 0, 1, 2}, tree.Order())
}

func TestWard_DisconnectedFallsBack(t *testing.T) {
	conn := [][]bool{
		{false, true, false},
		{false, false, false},
		{false, false, false},
	}
	tree, err := Ward([]string{"A", "B", "C"}, [][]float64{{0}, {10}, {0.5}}, conn)
	require.NoError(t, err)
	require.Len(t, tree.Merges, 2)

	assert.Equal(t, 0, tree.Merges[0].Left)
	assert.Equal(t, 1, tree.Merges[0].Right, "one-sided adjacency still connects")
	assert.False(t, tree.Merges[0].Unconstrained)
	assert.True(t, tree.Merges[1].Unconstrained)
}

func TestWard_SingleLeaf(t *testing.T) {
	tree, err := Ward([]string{"A"}, [][]float64{{1, 2}}, nil)
	require.NoError(t, err)
	assert.Empty(t, tree.Merges)
	assert.Equal(t, []int{0}, tree.Order())

	labels, err := tree.Labels(1)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, labels)
}

func TestWard_Errors(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		data  [][]float64
		conn  [][]bool
	}{
		{"empty", nil, nil, nil},
		{"count mismatch", []string{"A", "B"}, [][]float64{{1}}, nil},
		{"ragged", []string{"A", "B"}, [][]float64{{1}, {1, 2}}, nil},
		{"nan", []string{"A"}, [][]float64{{math.NaN()}}, nil},
		{"connectivity rows", []string{"A", "B"}, [][]float64{{1}, {2}}, [][]bool{{false, true}}},
		{"connectivity cols", []string{"A", "B"}, [][]float64{{1}, {2}}, [][]bool{{false}, {true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Ward(tt.names, tt.data, tt.conn)
			assert.Error(t, err)
		})
	}
}

func TestLabels_BadK(t *testing.T) {
	tree, err := Ward([]string{"A", "B"}, [][]float64{{0}, {1}}, nil)
	require.NoError(t, err)
	_, err = tree.Labels(0)
	assert.Error(t, err)
	_, err = tree.Labels(3)
	assert.Error(t, err)
}
