package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nvandessel/pfstudy/internal/cluster"
	"github.com/nvandessel/pfstudy/internal/topology"
	"github.com/nvandessel/pfstudy/internal/visualization"
)

var clusterPalette = []color.Attribute{
	color.FgBlue, color.FgRed, color.FgGreen, color.FgYellow,
	color.FgMagenta, color.FgCyan, color.FgHiRed, color.FgHiBlack,
}

func newClusterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster [results.csv]",
		Short: "Cluster buses by their voltage profiles",
		Long: `Group buses whose voltages move together across Monte Carlo samples.

Buses are clustered bottom-up with Ward linkage, merging only buses joined
by a line or transformer of the network. Rows with NaN voltages are dropped
first.

Examples:
  pfstudy cluster                                      # 5 clusters
  pfstudy cluster --clusters 3 --run 3f2a
  pfstudy cluster --topology topology.dot --dendrogram tree.dot
  pfstudy cluster --format json --topology -`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCluster,
	}
	addInputFlags(cmd)
	cmd.Flags().IntP("clusters", "k", 0, "Number of clusters (default from config)")
	cmd.Flags().String("topology", "", "Write the clustered bus topology to this file ('-' for stdout)")
	cmd.Flags().String("dendrogram", "", "Write the merge tree as Graphviz DOT to this file")
	cmd.Flags().String("format", string(visualization.FormatDOT), "Topology format: dot, json")
	cmd.Flags().Bool("unconstrained", false, "Ignore network connectivity")
	return cmd
}

func runCluster(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	root, _ := cmd.Flags().GetString("root")
	topoPath, _ := cmd.Flags().GetString("topology")
	treePath, _ := cmd.Flags().GetString("dendrogram")
	format, _ := cmd.Flags().GetString("format")
	unconstrained, _ := cmd.Flags().GetBool("unconstrained")

	switch visualization.Format(format) {
	case visualization.FormatDOT, visualization.FormatJSON:
	default:
		return fmt.Errorf("invalid format %q (valid: dot, json)", format)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	k := cfg.Analysis.Clusters
	if cmd.Flags().Changed("clusters") {
		k, _ = cmd.Flags().GetInt("clusters")
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	table, source, err := loadTable(ctx, cmd, args)
	if err != nil {
		return err
	}
	complete := table.Complete()
	if len(complete.Rows) == 0 {
		return fmt.Errorf("%s has no complete samples", source)
	}

	eng, err := activeEngine(ctx, cfg, root)
	if err != nil {
		return err
	}
	defer eng.Close()
	graph, err := topology.Build(ctx, eng)
	if err != nil {
		return fmt.Errorf("failed to read network topology: %w", err)
	}

	var conn [][]bool
	if !unconstrained {
		conn, err = graph.Adjacency(complete.Columns)
		if err != nil {
			return err
		}
	}
	tree, err := cluster.Ward(complete.Columns, complete.Profiles(), conn)
	if err != nil {
		return err
	}
	labels, err := tree.Labels(k)
	if err != nil {
		return err
	}
	byBus := make(map[string]int, len(labels))
	for i, bus := range tree.Leaves {
		byBus[bus] = labels[i]
	}

	if topoPath != "" {
		var data string
		if visualization.Format(format) == visualization.FormatJSON {
			var b strings.Builder
			if err := writeJSON(&b, visualization.RenderJSON(graph, byBus)); err != nil {
				return err
			}
			data = b.String()
		} else {
			data = visualization.RenderTopology(graph, byBus)
		}
		if err := writeText(cmd, resolvePath(topoPath, root), data); err != nil {
			return err
		}
	}
	if treePath != "" {
		if err := writeText(cmd, resolvePath(treePath, root), visualization.RenderDendrogram(tree, labels)); err != nil {
			return err
		}
	}

	groups := make([][]string, k)
	for i, bus := range tree.Leaves {
		groups[labels[i]] = append(groups[labels[i]], bus)
	}

	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"source":   source,
			"samples":  len(complete.Rows),
			"clusters": groups,
			"labels":   byBus,
			"merges":   tree.Merges,
		})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%d buses in %d clusters (%s, %d samples)\n\n", len(tree.Leaves), k, source, len(complete.Rows))
	for i, g := range groups {
		c := color.New(clusterPalette[i%len(clusterPalette)], color.Bold).SprintFunc()
		fmt.Fprintf(w, "  %s %s\n", c(fmt.Sprintf("Cluster %d:", i)), strings.Join(g, ", "))
	}
	for _, m := range tree.Merges {
		if m.Unconstrained {
			color.New(color.FgYellow).Fprintln(w, "\nnote: the network is disconnected; some merges ignore connectivity")
			break
		}
	}
	return nil
}

// writeText writes data to path, or to stdout for "-".
func writeText(cmd *cobra.Command, path, data string) error {
	if path == "-" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), data)
		return err
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", path)
	return nil
}
