package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-service/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "store [content]",
		Short: "Store a memory",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin. Duplicates exit non-zero.",
		RunE:  runStore,
	}

	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().String("type", "", "Memory type, e.g. note, decision, fact")
	cmd.Flags().String("meta", "", "JSON metadata object")
	cmd.Flags().Bool("skip-dedup", false, "Skip the semantic duplicate check")

	RootCmd.AddCommand(cmd)
}

func runStore(cmd *cobra.Command, args []string) error {
	tags, _ := cmd.Flags().GetString("tags")
	memoryType, _ := cmd.Flags().GetString("type")
	metaStr, _ := cmd.Flags().GetString("meta")
	skip, _ := cmd.Flags().GetBool("skip-dedup")

	content, err := readContent(cmd, args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("content is required (positional arg or stdin)")
	}
	meta, err := parseMeta(metaStr)
	if err != nil {
		return err
	}

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.store.Store(cmd.Context(), model.New(content, splitTags(tags), memoryType, meta), skip)
	if err != nil {
		return err
	}
	return printResult(cmd, res)
}
