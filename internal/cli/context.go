package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-service/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [description]",
		Short: "Assemble relevant memories for a task",
		Long:  "Retrieve and score memories, then greedily pack them into a token budget. Without a description the most recent memories are used.",
		RunE:  runContext,
	}

	cmd.Flags().StringP("tags", "t", "", "Only memories with any of these comma-separated tags")
	cmd.Flags().IntP("budget", "b", 4000, "Max tokens in output")
	cmd.Flags().Int("candidates", 0, "Memories to score before packing (default 50)")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) error {
	tags, _ := cmd.Flags().GetString("tags")
	budget, _ := cmd.Flags().GetInt("budget")
	candidates, _ := cmd.Flags().GetInt("candidates")

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := s.store.Context(cmd.Context(), store.ContextParams{
		Query:      strings.Join(args, " "),
		Tags:       splitTags(tags),
		Budget:     budget,
		Candidates: candidates,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}
