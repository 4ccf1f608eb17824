package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-service/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long:  "Export every live memory as a JSON array, oldest first. The output can be fed back to import.",
		RunE:  runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	memories, err := s.store.ExportAll(cmd.Context())
	if err != nil {
		return err
	}
	if memories == nil {
		memories = []model.Memory{}
	}
	return printJSON(cmd, memories)
}
