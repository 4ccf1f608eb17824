package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-service/internal/model"
	"github.com/rcliao/memory-service/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Recall memories from a time range",
		Long:  "Recall memories created between --from and --to, ranked by the optional query or newest first.",
		RunE:  runRecall,
	}

	cmd.Flags().String("from", "", "Range start: RFC 3339, YYYY-MM-DD, or a duration ago like 168h")
	cmd.Flags().String("to", "", "Range end, same formats as --from")
	cmd.Flags().IntP("limit", "l", 5, "Max results")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
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

	results, err := s.store.Recall(cmd.Context(), strings.Join(args, " "), limit, store.TimeRange{Start: from, End: to})
	if err != nil {
		return err
	}
	if results == nil {
		results = []model.QueryResult{}
	}
	return printJSON(cmd, results)
}
