package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-service/internal/model"
	"github.com/rcliao/memory-service/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories, newest first",
		RunE:  runList,
	}

	cmd.Flags().String("type", "", "Filter by memory type")
	cmd.Flags().StringP("tags", "t", "", "Filter by comma-separated tags (any)")
	cmd.Flags().IntP("limit", "l", 20, "Page size")
	cmd.Flags().Int("offset", 0, "Rows to skip")
	cmd.Flags().Int("recent", 0, "Only the N most recent memories (ignores other flags)")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) error {
	memoryType, _ := cmd.Flags().GetString("type")
	tags, _ := cmd.Flags().GetString("tags")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	recent, _ := cmd.Flags().GetInt("recent")

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	if recent > 0 {
		memories, err := s.store.GetRecentMemories(cmd.Context(), recent)
		if err != nil {
			return err
		}
		return printJSON(cmd, memories)
	}

	memories, err := s.store.GetAllMemories(cmd.Context(), store.ListParams{
		Limit:      limit,
		Offset:     offset,
		MemoryType: memoryType,
		Tags:       splitTags(tags),
	})
	if err != nil {
		return err
	}
	total, err := s.store.CountAllMemories(cmd.Context(), memoryType, splitTags(tags))
	if err != nil {
		return err
	}
	if memories == nil {
		memories = []model.Memory{}
	}
	return printJSON(cmd, map[string]any{"total": total, "memories": memories})
}
