package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memory-service/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "link <source-hash> <target-hash>",
		Short: "Create or remove an association between memories",
		Long:  "Associations are undirected: linking a to b also links b to a. Linking again replaces the association.",
		Args:  cobra.ExactArgs(2),
		RunE:  runLink,
	}

	cmd.Flags().Float64P("similarity", "s", 0.5, "Association strength in [0,1]")
	cmd.Flags().StringP("types", "t", "", "Comma-separated connection types, e.g. semantic,causal")
	cmd.Flags().String("meta", "", "JSON metadata object")
	cmd.Flags().Bool("rm", false, "Remove the association")

	RootCmd.AddCommand(cmd)
}

func runLink(cmd *cobra.Command, args []string) error {
	similarity, _ := cmd.Flags().GetFloat64("similarity")
	types, _ := cmd.Flags().GetString("types")
	metaStr, _ := cmd.Flags().GetString("meta")
	rm, _ := cmd.Flags().GetBool("rm")

	s, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	if rm {
		removed, err := s.store.DeleteAssociation(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"removed": removed, "source": args[0], "target": args[1]})
	}

	meta, err := parseMeta(metaStr)
	if err != nil {
		return err
	}
	err = s.store.StoreAssociation(cmd.Context(), model.Association{
		SourceHash:      args[0],
		TargetHash:      args[1],
		Similarity:      similarity,
		ConnectionTypes: splitTags(types),
		Metadata:        meta,
	})
	if err != nil {
		return err
	}
	a, err := s.store.GetAssociation(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	return printJSON(cmd, a)
}
