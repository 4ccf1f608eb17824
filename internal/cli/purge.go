package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Permanently remove deleted memories",
		Long:  "Hard-delete tombstones older than --days (default: retention.tombstone_days).",
		RunE:  runPurge,
	}

	cmd.Flags().Int("days", -1, "Minimum tombstone age in days")

	RootCmd.AddCommand(cmd)
}

func runPurge(cmd *cobra.Command, args []string) error {
	days, _ := cmd.Flags().GetInt("days")

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	if days < 0 {
		days = s.cfg.Retention.TombstoneDays
	}
	n, err := s.store.PurgeDeleted(cmd.Context(), days)
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]any{"purged": n, "older_than_days": days})
}
