package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-service/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories by meaning or keyword",
		Long:  "Search memories. semantic ranks by embedding similarity, keyword by BM25, hybrid fuses both.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().StringP("mode", "m", "semantic", "semantic, hybrid or keyword")
	cmd.Flags().StringP("tags", "t", "", "Only memories with any of these comma-separated tags (semantic mode)")
	cmd.Flags().IntP("limit", "l", 5, "Max results")
	cmd.Flags().Float64("keyword-weight", 0, "Hybrid keyword weight (default from config)")
	cmd.Flags().Float64("semantic-weight", 0, "Hybrid semantic weight (default from config)")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	mode, _ := cmd.Flags().GetString("mode")
	tags, _ := cmd.Flags().GetString("tags")
	limit, _ := cmd.Flags().GetInt("limit")
	kw, _ := cmd.Flags().GetFloat64("keyword-weight")
	sw, _ := cmd.Flags().GetFloat64("semantic-weight")
	query := strings.Join(args, " ")

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	var results []model.QueryResult
	switch mode {
	case "semantic":
		results, err = s.store.Retrieve(cmd.Context(), query, limit, splitTags(tags))
	case "hybrid":
		results, err = s.store.RetrieveHybrid(cmd.Context(), query, limit, kw, sw)
	case "keyword":
		results, err = s.store.KeywordSearch(cmd.Context(), query, limit)
	default:
		return fmt.Errorf("--mode %q: want semantic, hybrid or keyword", mode)
	}
	if err != nil {
		return err
	}
	if results == nil {
		results = []model.QueryResult{}
	}
	return printJSON(cmd, results)
}
