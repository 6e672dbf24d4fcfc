package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reqsift/reqsift/internal/search"
)

func newSearchCmd() *cobra.Command {
	var (
		topK       int
		noVector   bool
		noRerank   bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid query against both indexes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			query := strings.Join(args, " ")
			resp, err := eng.Coordinator().Retrieve(cmd.Context(), query, search.Options{
				TopK:           topK,
				VectorDisabled: noVector,
				DisableRerank:  noRerank,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			out := cmd.OutOrStdout()
			if len(resp.Degraded) > 0 {
				fmt.Fprintf(out, "warning: degraded sources: %v\n", resp.Degraded)
			}
			for _, r := range resp.Results {
				text := r.Text
				if len(text) > 120 {
					text = text[:117] + "..."
				}
				fmt.Fprintf(out, "%2d. %.4f  %s (%s) [%s]\n    %s\n",
					r.Rank+1, r.FusedScore, r.ChunkID, r.DocumentID, sourcesLabel(r.Sources), text)
			}
			fmt.Fprintf(out, "%d result(s) in %dms\n", len(resp.Results), resp.TookMS)
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", search.DefaultTopK, "Number of results")
	cmd.Flags().BoolVar(&noVector, "no-vector", false, "Lexical-only retrieval (skip query embedding)")
	cmd.Flags().BoolVar(&noRerank, "no-rerank", false, "Skip the second-pass reranker")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	return cmd
}

func sourcesLabel(sources []search.Source) string {
	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = string(s)
	}
	return strings.Join(parts, "+")
}
