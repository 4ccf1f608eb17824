package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-service/internal/model"
)

func init() {
	graph := &cobra.Command{
		Use:   "graph",
		Short: "Explore the association graph",
	}

	connected := &cobra.Command{
		Use:   "connected <hash>",
		Short: "Memories reachable within --hops links, nearest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runConnected,
	}
	connected.Flags().Int("hops", 2, "Maximum link distance")

	path := &cobra.Command{
		Use:   "path <source-hash> <target-hash>",
		Short: "Shortest chain of links between two memories",
		Args:  cobra.ExactArgs(2),
		RunE:  runPath,
	}
	path.Flags().Int("max-depth", 5, "Maximum path length in links")

	subgraph := &cobra.Command{
		Use:   "subgraph <hash>",
		Short: "Nodes and edges within --radius links of a memory",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubgraph,
	}
	subgraph.Flags().Int("radius", 2, "Neighbourhood radius in links")

	graph.AddCommand(connected, path, subgraph)
	RootCmd.AddCommand(graph)
}

func runConnected(cmd *cobra.Command, args []string) error {
	hops, _ := cmd.Flags().GetInt("hops")

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	conns, err := s.store.FindConnected(cmd.Context(), args[0], hops)
	if err != nil {
		return err
	}
	if conns == nil {
		conns = []model.Connection{}
	}
	return printJSON(cmd, conns)
}

func runPath(cmd *cobra.Command, args []string) error {
	depth, _ := cmd.Flags().GetInt("max-depth")

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	path, err := s.store.ShortestPath(cmd.Context(), args[0], args[1], depth)
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]any{"path": path, "found": path != nil})
}

func runSubgraph(cmd *cobra.Command, args []string) error {
	radius, _ := cmd.Flags().GetInt("radius")

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	g, err := s.store.GetSubgraph(cmd.Context(), args[0], radius)
	if err != nil {
		return err
	}
	return printJSON(cmd, g)
}
