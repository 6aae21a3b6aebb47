// Package visualization renders bus topologies and cluster trees in various
// output formats.
package visualization

import (
	"fmt"
	"strings"

	"github.com/nvandessel/pfstudy/internal/cluster"
	"github.com/nvandessel/pfstudy/internal/topology"
)

// Format specifies the output format for graph rendering.
type Format string

const (
	FormatDOT  Format = "dot"
	FormatJSON Format = "json"
)

// clusterColors cycles over cluster labels.
var clusterColors = []string{
	"steelblue",
	"tomato",
	"mediumseagreen",
	"goldenrod",
	"orchid",
	"lightseagreen",
	"sandybrown",
	"slategray",
}

func colorFor(label int) string {
	if label < 0 {
		return "lightgray"
	}
	return clusterColors[label%len(clusterColors)]
}

// RenderTopology produces an undirected Graphviz graph of the buses. Buses
// present in labels are filled with their cluster colour; parallel
// branches are drawn once.
func RenderTopology(g *topology.Graph, labels map[string]int) string {
	var b strings.Builder
	b.WriteString("graph pfstudy {\n")
	b.WriteString("  layout=neato;\n")
	b.WriteString("  node [shape=box, style=filled, fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\", fontsize=10];\n\n")

	for _, bus := range g.Buses() {
		label, ok := labels[bus]
		if !ok {
			label = -1
		}
		tooltip := "unclustered"
		if ok {
			tooltip = fmt.Sprintf("cluster=%d", label)
		}
		fmt.Fprintf(&b, "  %q [label=%q, fillcolor=%q, tooltip=%q];\n",
			bus, truncate(bus, 40), colorFor(label), tooltip)
	}
	b.WriteString("\n")

	seen := make(map[string]bool)
	for _, e := range g.Edges() {
		if e.From == e.To {
			continue
		}
		a, z := e.From, e.To
		if z < a {
			a, z = z, a
		}
		key := a + "|" + z
		if seen[key] {
			continue
		}
		seen[key] = true
		fmt.Fprintf(&b, "  %q -- %q [tooltip=%q];\n", e.From, e.To, e.Branch)
	}

	b.WriteString("}\n")
	return b.String()
}

// RenderDendrogram produces a Graphviz tree of the merges, leaves on the
// right. Leaves are coloured by labels when it has one entry per leaf.
func RenderDendrogram(t *cluster.Tree, labels []int) string {
	n := len(t.Leaves)
	var b strings.Builder
	b.WriteString("digraph dendrogram {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [arrowhead=none];\n\n")

	for _, leaf := range t.Order() {
		label := -1
		if len(labels) == n {
			label = labels[leaf]
		}
		fmt.Fprintf(&b, "  n%d [label=%q, shape=box, style=filled, fillcolor=%q];\n",
			leaf, t.Leaves[leaf], colorFor(label))
	}
	for i, m := range t.Merges {
		id := n + i
		fmt.Fprintf(&b, "  n%d [label=\"%.4g\", shape=point, xlabel=\"%.4g\"];\n", id, m.Distance, m.Distance)
		fmt.Fprintf(&b, "  n%d -> n%d;\n", id, m.Left)
		fmt.Fprintf(&b, "  n%d -> n%d;\n", id, m.Right)
	}

	b.WriteString("}\n")
	return b.String()
}

// RenderJSON produces a JSON-ready topology with nodes and edges arrays.
func RenderJSON(g *topology.Graph, labels map[string]int) map[string]interface{} {
	nodes := make([]map[string]interface{}, 0, len(g.Buses()))
	for _, bus := range g.Buses() {
		entry := map[string]interface{}{"id": bus}
		if label, ok := labels[bus]; ok {
			entry["cluster"] = label
		}
		nodes = append(nodes, entry)
	}

	edges := make([]map[string]interface{}, 0, len(g.Edges()))
	for _, e := range g.Edges() {
		edges = append(edges, map[string]interface{}{
			"source": e.From,
			"target": e.To,
			"branch": e.Branch,
		})
	}

	return map[string]interface{}{
		"nodes":      nodes,
		"edges":      edges,
		"node_count": len(nodes),
		"edge_count": len(edges),
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
