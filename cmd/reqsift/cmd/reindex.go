package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReindexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex <document-id>",
		Short: "Force a full re-ingest of a document's current version",
		Long: `Re-embeds and re-upserts every chunk of the document's recorded
version, bypassing the content-hash diff. Use after switching
embedding models or when a consistency check reports missing entries.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.Indexer().Reindex(cmd.Context(), args[0]); err != nil {
				return err
			}
			state, err := eng.Indexer().State(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reindexed %s: version %d, %d chunk(s)\n",
				state.DocumentID, state.Version, state.ChunkCount)
			return nil
		},
	}
	return cmd
}
