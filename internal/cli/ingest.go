package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-service/internal/chunker"
	"github.com/rcliao/memory-service/internal/ingest"
	"github.com/rcliao/memory-service/internal/logging"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Split documents into chunks and store each as a memory",
		Long:  "Split text or markdown files on headings and paragraphs, then store every chunk tagged with source:<file name>.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runIngest,
	}

	cmd.Flags().StringP("tags", "t", "", "Extra comma-separated tags for every chunk")
	cmd.Flags().Int("target-size", chunker.DefaultTargetSize, "Preferred chunk size in bytes")
	cmd.Flags().Int("max-size", chunker.DefaultMaxSize, "Hard chunk size limit in bytes")

	RootCmd.AddCommand(cmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	tags, _ := cmd.Flags().GetString("tags")
	target, _ := cmd.Flags().GetInt("target-size")
	maxSize, _ := cmd.Flags().GetInt("max-size")

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	in := ingest.New(s.store, chunker.Options{TargetSize: target, MaxSize: maxSize})
	reports := make([]*ingest.Report, 0, len(args))
	for _, path := range args {
		r, err := in.IngestFile(cmd.Context(), path, splitTags(tags))
		if err != nil {
			return err
		}
		logging.Debugf("ingested %s as %s", path, r.DocumentID)
		reports = append(reports, r)
	}
	return printJSON(cmd, reports)
}
