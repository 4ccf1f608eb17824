package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm",
		Short: "Delete memories",
		Long: "Soft-delete memories by hash, by tag, before a date, or within a time range.\n" +
			"Deleted memories disappear from every search; `purge` removes them for good.",
		RunE: runRm,
	}

	cmd.Flags().String("hash", "", "Delete one memory by content hash")
	cmd.Flags().StringP("tags", "t", "", "Delete memories carrying any of these comma-separated tags")
	cmd.Flags().String("before", "", "Delete memories created at or before this time")
	cmd.Flags().String("from", "", "Range start for time-range deletion")
	cmd.Flags().String("to", "", "Range end for time-range deletion (default: now)")
	cmd.Flags().String("tag", "", "Restrict --before or --from/--to to memories with this tag")
	cmd.MarkFlagsOneRequired("hash", "tags", "before", "from")
	cmd.MarkFlagsMutuallyExclusive("hash", "tags", "before", "from")

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	hash, _ := cmd.Flags().GetString("hash")
	tags, _ := cmd.Flags().GetString("tags")
	tag, _ := cmd.Flags().GetString("tag")
	before, err := timeFlag(cmd, "before")
	if err != nil {
		return err
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

	ctx := cmd.Context()
	switch {
	case hash != "":
		res, err := s.store.Delete(ctx, hash)
		if err != nil {
			return err
		}
		return printResult(cmd, res)
	case tags != "":
		res, err := s.store.DeleteByTags(ctx, splitTags(tags))
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	case before != nil:
		res, err := s.store.DeleteBeforeDate(ctx, *before, tag)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	case from != nil:
		end := time.Now()
		if to != nil {
			end = *to
		}
		res, err := s.store.DeleteByTimeframe(ctx, *from, end, tag)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	}
	return fmt.Errorf("one of --hash, --tags, --before or --from is required")
}
