// Package topology builds the bus connectivity graph of a network.
package topology

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/nvandessel/pfstudy/internal/engine"
)

// Edge is one branch between two buses.
type Edge struct {
	Branch string `json:"branch"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// Graph is an undirected bus graph. Parallel branches collapse to one edge.
type Graph struct {
	buses []string
	index map[string]int64
	edges []Edge
	g     *simple.UndirectedGraph
}

// New creates a graph over buses with no edges.
func New(buses []string) *Graph {
	g := &Graph{
		buses: append([]string(nil), buses...),
		index: make(map[string]int64, len(buses)),
		g:     simple.NewUndirectedGraph(),
	}
	for i, b := range g.buses {
		g.index[b] = int64(i)
		g.g.AddNode(simple.Node(i))
	}
	return g
}

// Connect adds a branch. Self-loops are recorded but add no edge.
func (g *Graph) Connect(branch, from, to string) error {
	a, ok := g.index[from]
	if !ok {
		return fmt.Errorf("branch %s: unknown bus %q", branch, from)
	}
	b, ok := g.index[to]
	if !ok {
		return fmt.Errorf("branch %s: unknown bus %q", branch, to)
	}
	g.edges = append(g.edges, Edge{Branch: branch, From: from, To: to})
	if a != b {
		g.g.SetEdge(g.g.NewEdge(simple.Node(a), simple.Node(b)))
	}
	return nil
}

// Build reads every terminal, line and two-winding transformer from net and
// connects the terminals at both ends of each branch.
func Build(ctx context.Context, net engine.Network) (*Graph, error) {
	terms, err := net.Elements(ctx, engine.PatternTerminals)
	if err != nil {
		return nil, fmt.Errorf("list terminals: %w", err)
	}
	names := make([]string, len(terms))
	for i, t := range terms {
		names[i] = t.Name
	}
	g := New(names)

	for _, pattern := range []string{engine.PatternLines, engine.PatternTransformers} {
		links, err := net.Elements(ctx, pattern)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", pattern, err)
		}
		for _, link := range links {
			from, err := net.Terminal(ctx, link, 0)
			if err != nil {
				return nil, err
			}
			to, err := net.Terminal(ctx, link, 1)
			if err != nil {
				return nil, err
			}
			if err := g.Connect(link.Name, from.Name, to.Name); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// Buses returns the bus names in insertion order.
func (g *Graph) Buses() []string { return append([]string(nil), g.buses...) }

// Edges returns every branch added, in insertion order.
func (g *Graph) Edges() []Edge { return append([]Edge(nil), g.edges...) }

// Adjacent reports whether two distinct buses share a branch.
func (g *Graph) Adjacent(a, b string) bool {
	x, ok1 := g.index[a]
	y, ok2 := g.index[b]
	return ok1 && ok2 && g.g.HasEdgeBetween(x, y)
}

// Neighbors returns the buses adjacent to bus, sorted.
func (g *Graph) Neighbors(bus string) []string {
	id, ok := g.index[bus]
	if !ok {
		return nil
	}
	var out []string
	for _, n := range graph.NodesOf(g.g.From(id)) {
		out = append(out, g.buses[n.ID()])
	}
	sort.Strings(out)
	return out
}

// Components returns the connected groups of buses, each sorted, ordered by
// their first bus.
func (g *Graph) Components() [][]string {
	var out [][]string
	for _, cc := range topo.ConnectedComponents(g.g) {
		names := make([]string, len(cc))
		for i, n := range cc {
			names[i] = g.buses[n.ID()]
		}
		sort.Strings(names)
		out = append(out, names)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Adjacency returns the adjacency matrix over order, which may be any
// subset or permutation of the graph's buses.
func (g *Graph) Adjacency(order []string) ([][]bool, error) {
	for _, b := range order {
		if _, ok := g.index[b]; !ok {
			return nil, fmt.Errorf("bus %q not in network", b)
		}
	}
	m := make([][]bool, len(order))
	for i := range order {
		m[i] = make([]bool, len(order))
		for j := range order {
			m[i][j] = i != j && g.Adjacent(order[i], order[j])
		}
	}
	return m, nil
}
