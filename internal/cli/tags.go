package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-service/internal/model"
	"github.com/rcliao/memory-service/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "tags [tag...]",
		Short: "Search memories by tag, or list tag counts",
		Long:  "With tags, list matching memories newest first. With --counts, list every tag and its usage.",
		RunE:  runTags,
	}

	cmd.Flags().String("match", "any", "any or all")
	cmd.Flags().Bool("counts", false, "List all tags with counts")
	cmd.Flags().String("from", "", "Only memories created at or after this time")
	cmd.Flags().String("to", "", "Only memories created at or before this time")

	RootCmd.AddCommand(cmd)
}

func runTags(cmd *cobra.Command, args []string) error {
	counts, _ := cmd.Flags().GetBool("counts")
	matchStr, _ := cmd.Flags().GetString("match")

	match, ok := store.ParseTagMatch(matchStr)
	if !ok {
		return fmt.Errorf("--match %q: want any or all", matchStr)
	}
	if !counts && len(model.NormalizeTags(args)) == 0 {
		return fmt.Errorf("at least one tag is required unless --counts is set")
	}
	from, err := timeFlag(cmd, "from")
	if err != nil {
		return err
	}
	to, err := timeFlag(cmd, "to")
	if err != nil {
		return err
	}

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	if counts {
		tc, err := s.store.GetAllTagsWithCounts(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, tc)
	}

	memories, err := s.store.SearchByTags(cmd.Context(), args, match, store.TimeRange{Start: from, End: to})
	if err != nil {
		return err
	}
	if memories == nil {
		memories = []model.Memory{}
	}
	return printJSON(cmd, memories)
}
