package topology

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/pfstudy/internal/engine"
	"github.com/nvandessel/pfstudy/internal/engine/memory"
)

func TestBuild_ExampleNetwork(t *testing.T) {
	spec, err := memory.ExampleNetwork()
	require.NoError(t, err)
	e := memory.New(spec)
	require.NoError(t, e.Activate(context.Background(), engine.Project{Name: spec.Name}))

	g, err := Build(context.Background(), e)
	require.NoError(t, err)

	assert.Len(t, g.Buses(), 11)
	assert.Len(t, g.Edges(), len(spec.Lines)+len(spec.Transformers))
	assert.True(t, g.Adjacent("Bus_20kV_1", "Bus_230kV_5"))
	assert.True(t, g.Adjacent("Bus_230kV_5", "Bus_20kV_1"))
	assert.False(t, g.Adjacent("Bus_20kV_1", "Bus_20kV_2"))
	assert.Len(t, g.Components(), 1)
}

func TestGraph_Manual(t *testing.T) {
	g := New([]string{"A", "B", "C", "D"})
	require.NoError(t, g.Connect("ab", "A", "B"))
	require.NoError(t, g.Connect("ab2", "B", "A"))
	require.NoError(t, g.Connect("cc", "C", "C"))
	assert.Error(t, g.Connect("ax", "A", "X"))

	assert.Equal(t, []string{"B"}, g.Neighbors("A"))
	assert.Nil(t, g.Neighbors("C"))
	assert.Nil(t, g.Neighbors("nope"))
	assert.Len(t, g.Edges(), 3)
	assert.Equal(t, [][]string{{"A", "B"}, {"C"}, {"D"}}, g.Components())
}

func TestGraph_Adjacency(t *testing.T) {
	g := New([]string{"A", "B", "C"})
	require.NoError(t, g.Connect("ab", "A", "B"))
	require.NoError(t, g.Connect("bc", "B", "C"))

	m, err := g.Adjacency([]string{"C", "A", "B"})
	require.NoError(t, err)
	assert.Equal(t, [][]bool{
		{false, false, true},
		{false, false, true},
		{true, true, false},
	}, m)

	_, err = g.Adjacency([]string{"A", "Z"})
	assert.Error(t, err)
}
