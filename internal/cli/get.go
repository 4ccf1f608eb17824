package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <content-hash>",
		Short: "Retrieve a memory by content hash",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}

	cmd.Flags().Bool("exact", false, "Treat the argument as exact content instead of a hash")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	exact, _ := cmd.Flags().GetBool("exact")

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	if exact {
		memories, err := s.store.GetByExactContent(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, memories)
	}
	m, err := s.store.GetByHash(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, m)
}
