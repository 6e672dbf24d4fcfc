package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [document-id]",
		Short: "Show index state for all documents or one document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				state, err := eng.Indexer().State(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if state == nil {
					fmt.Fprintf(out, "document %s: never ingested\n", args[0])
					return nil
				}
				fmt.Fprintf(out, "document %s: version %d, status %s, %d chunk(s)\n",
					state.DocumentID, state.Version, state.Status, state.ChunkCount)
				return nil
			}

			docs, err := eng.State().ListDocuments(cmd.Context())
			if err != nil {
				return err
			}
			total, err := eng.Indexer().TotalChunks(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DOCUMENT\tVERSION\tSTATUS\tCHUNKS\tUPDATED")
			for _, d := range docs {
				fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n",
					d.DocumentID, d.Version, d.Status, d.ChunkCount,
					d.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d document(s), %d chunk(s) total\n", len(docs), total)
			return nil
		},
	}
	return cmd
}
