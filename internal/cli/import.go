package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/memory-service/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import memories from JSON",
		Long:  "Import memories from a file or stdin. Expects the format produced by export. Existing memories are skipped.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	var memories []model.Memory
	if err := json.Unmarshal(data, &memories); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	results, err := s.store.Import(cmd.Context(), memories)
	if err != nil {
		return err
	}
	imported := 0
	for _, r := range results {
		if r.Success {
			imported++
		}
	}
	return printJSON(cmd, map[string]any{"imported": imported, "skipped": len(results) - imported})
}
