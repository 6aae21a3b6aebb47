// Package cluster groups buses by the similarity of their voltage profiles
// using agglomerative clustering with Ward linkage, optionally restricted to
// merges between connected clusters.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Merge joins two clusters. Leaves are numbered 0..n-1; the cluster created
// by merge i is numbered n+i, as in a linkage matrix.
type Merge struct {
	Left     int     `json:"left"`
	Right    int     `json:"right"`
	Distance float64 `json:"distance"`
	Size     int     `json:"size"`
	// Unconstrained is set when no connected pair was left and the merge
	// joined two disconnected clusters.
	Unconstrained bool `json:"unconstrained,omitempty"`
}

// Tree is a complete agglomerative clustering.
type Tree struct {
	Leaves []string `json:"leaves"`
	Merges []Merge  `json:"merges"`
}

type node struct {
	centroid  []float64
	size      int
	neighbors map[int]bool
}

// Ward clusters observations (one row of data per name) bottom-up. At each
// step it merges the pair of clusters with the smallest Ward distance
// sqrt(2*ni*nj/(ni+nj)) * |ci-cj|. When connectivity is non-nil only pairs
// containing adjacent observations may merge; once no such pair remains
// the remaining clusters merge unconstrained.
func Ward(names []string, data [][]float64, connectivity [][]bool) (*Tree, error) {
	n := len(names)
	if n == 0 {
		return nil, errors.New("nothing to cluster")
	}
	if len(data) != n {
		return nil, fmt.Errorf("%d observations for %d names", len(data), n)
	}
	dim := len(data[0])
	for i, row := range data {
		if len(row) != dim {
			return nil, fmt.Errorf("observation %s has %d values, want %d", names[i], len(row), dim)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("observation %s has non-finite values", names[i])
			}
		}
	}
	if connectivity != nil && len(connectivity) != n {
		return nil, fmt.Errorf("connectivity has %d rows, want %d", len(connectivity), n)
	}

	active := make(map[int]*node, n)
	for i := range n {
		active[i] = &node{centroid: append([]float64(nil), data[i]...), size: 1, neighbors: map[int]bool{}}
	}
	// Adjacency is treated as symmetric.
	for i, row := range connectivity {
		if len(row) != n {
			return nil, fmt.Errorf("connectivity row %d has %d entries, want %d", i, len(row), n)
		}
		for j, ok := range row {
			if ok && j != i {
				active[i].neighbors[j] = true
				active[j].neighbors[i] = true
			}
		}
	}
	constrained := connectivity != nil

	t := &Tree{Leaves: append([]string(nil), names...)}
	for next := n; len(active) > 1; next++ {
		ids := sortedKeys(active)
		a, b, d := closest(active, ids, constrained)
		unconstrained := false
		if a < 0 {
			a, b, d = closest(active, ids, false)
			unconstrained = true
		}

		x, y := active[a], active[b]
		size := x.size + y.size
		centroid := make([]float64, dim)
		floats.AddScaled(centroid, float64(x.size)/float64(size), x.centroid)
		floats.AddScaled(centroid, float64(y.size)/float64(size), y.centroid)

		merged := &node{centroid: centroid, size: size, neighbors: map[int]bool{}}
		for id := range x.neighbors {
			merged.neighbors[id] = true
		}
		for id := range y.neighbors {
			merged.neighbors[id] = true
		}
		delete(merged.neighbors, a)
		delete(merged.neighbors, b)
		for id := range merged.neighbors {
			nb := active[id]
			delete(nb.neighbors, a)
			delete(nb.neighbors, b)
			nb.neighbors[next] = true
		}

		delete(active, a)
		delete(active, b)
		active[next] = merged
		t.Merges = append(t.Merges, Merge{Left: a, Right: b, Distance: d, Size: size, Unconstrained: unconstrained && constrained})
	}
	return t, nil
}

// closest returns the pair with the smallest Ward distance, or -1 when no
// eligible pair exists. Ties go to the lowest ids.
func closest(active map[int]*node, ids []int, constrained bool) (int, int, float64) {
	best, ba, bb := math.Inf(1), -1, -1
	for i, a := range ids {
		for _, b := range ids[i+1:] {
			if constrained && !active[a].neighbors[b] {
				continue
			}
			if d := wardDistance(active[a], active[b]); d < best {
				best, ba, bb = d, a, b
			}
		}
	}
	return ba, bb, best
}

func wardDistance(x, y *node) float64 {
	nx, ny := float64(x.size), float64(y.size)
	return math.Sqrt(2*nx*ny/(nx+ny)) * floats.Distance(x.centroid, y.centroid, 2)
}

func sortedKeys(m map[int]*node) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Labels cuts the tree into k clusters and returns one label per leaf.
// Labels are numbered in order of each cluster's first leaf.
func (t *Tree) Labels(k int) ([]int, error) {
	n := len(t.Leaves)
	if k < 1 || k > n {
		return nil, fmt.Errorf("cannot cut %d leaves into %d clusters", n, k)
	}
	parent := make([]int, n+len(t.Merges))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i, m := range t.Merges[:n-k] {
		parent[find(m.Left)] = n + i
		parent[find(m.Right)] = n + i
	}

	labels := make([]int, n)
	seen := map[int]int{}
	for leaf := range n {
		root := find(leaf)
		l, ok := seen[root]
		if !ok {
			l = len(seen)
			seen[root] = l
		}
		labels[leaf] = l
	}
	return labels, nil
}

// Order returns the leaves in dendrogram order: a depth-first walk from the
// root visiting the left child first.
func (t *Tree) Order() []int {
	n := len(t.Leaves)
	if len(t.Merges) == 0 {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	var out []int
	var walk func(id int)
	walk = func(id int) {
		if id < n {
			out = append(out, id)
			return
		}
		m := t.Merges[id-n]
		walk(m.Left)
		walk(m.Right)
	}
	walk(n + len(t.Merges) - 1)
	return out
}
