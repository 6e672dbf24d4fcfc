package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify cross-index consistency",
		Long: `Compares the lexical index, the vector index, and the recorded
chunk rows. Orphaned index entries (a crash between an index write and
its row write) can be deleted with --repair; missing entries require a
per-document reindex.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := eng.Checker().Check(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "checked %d chunk(s) in %s\n", result.Checked, result.Duration.Round(time.Millisecond))
			if len(result.Inconsistencies) == 0 {
				fmt.Fprintln(out, "indexes are consistent")
				return nil
			}

			for _, issue := range result.Inconsistencies {
				fmt.Fprintf(out, "  %s: %s\n", issue.Type, issue.ChunkID)
			}
			if repair {
				if err := eng.Checker().Repair(cmd.Context(), result.Inconsistencies); err != nil {
					return err
				}
				fmt.Fprintln(out, "orphaned entries removed; reindex documents with missing entries")
			}
			return fmt.Errorf("%d inconsistency(ies) found", len(result.Inconsistencies))
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Delete orphaned index entries")
	return cmd
}
