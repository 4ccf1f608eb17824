package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-service/internal/model"
	"github.com/rcliao/memory-service/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "update <content-hash>",
		Short: "Update tags, type or metadata of a memory",
		Long: "Update a memory in place without re-embedding. --meta keys are merged into existing metadata.\n" +
			"updated_at moves to now unless timestamps are given explicitly.",
		Args: cobra.ExactArgs(1),
		RunE: runUpdate,
	}

	cmd.Flags().StringP("tags", "t", "", "Replacement comma-separated tags")
	cmd.Flags().String("type", "", "Replacement memory type")
	cmd.Flags().String("meta", "", "JSON metadata object to merge")
	cmd.Flags().String("created-at", "", "Set created_at (RFC 3339 or YYYY-MM-DD); keeps updated_at unless --updated-at is set")
	cmd.Flags().String("updated-at", "", "Set updated_at (RFC 3339 or YYYY-MM-DD)")

	RootCmd.AddCommand(cmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	tags, _ := cmd.Flags().GetString("tags")
	metaStr, _ := cmd.Flags().GetString("meta")

	meta, err := parseMeta(metaStr)
	if err != nil {
		return err
	}
	u := store.MetadataUpdate{Metadata: meta}
	if cmd.Flags().Changed("tags") {
		u.Tags = splitTags(tags)
		if u.Tags == nil {
			u.Tags = []string{}
		}
	}
	if cmd.Flags().Changed("type") {
		t, _ := cmd.Flags().GetString("type")
		u.MemoryType = &t
	}
	createdAt, err := timeFlag(cmd, "created-at")
	if err != nil {
		return err
	}
	updatedAt, err := timeFlag(cmd, "updated-at")
	if err != nil {
		return err
	}
	// Explicit timestamps replace the default of moving updated_at to now.
	preserve := createdAt == nil && updatedAt == nil
	if createdAt != nil {
		ts := model.Unix(*createdAt)
		u.CreatedAt = &ts
	}
	if updatedAt != nil {
		ts := model.Unix(*updatedAt)
		u.UpdatedAt = &ts
	}

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.store.UpdateMemoryMetadata(cmd.Context(), args[0], u, preserve)
	if err != nil {
		return err
	}
	return printResult(cmd, res)
}
