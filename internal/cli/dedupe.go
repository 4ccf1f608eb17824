package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Soft-delete duplicate live memories, keeping the oldest",
		RunE:  runDedupe,
	}

	RootCmd.AddCommand(cmd)
}

func runDedupe(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.store.CleanupDuplicates(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]any{"removed": n})
}
