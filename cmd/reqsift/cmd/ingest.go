package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/reqsift/reqsift/internal/store"
)

// feedRecord is one line of the ingestion feed: a document version
// with its chunk list, or a tombstone.
type feedRecord struct {
	DocumentID string      `json:"document_id"`
	Version    int64       `json:"version"`
	Tombstone  bool        `json:"tombstone,omitempty"`
	Chunks     []feedChunk `json:"chunks,omitempty"`
}

type feedChunk struct {
	ID         string            `json:"chunk_id,omitempty"`
	Text       string            `json:"text"`
	TokenCount int               `json:"token_count,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func newIngestCmd() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Apply a JSONL feed of document versions to both indexes",
		Long: `Reads newline-delimited JSON records of the form

  {"document_id": "doc-1", "version": 2, "chunks": [{"text": "..."}]}
  {"document_id": "doc-2", "version": 1, "tombstone": true}

and applies each to the lexical and vector indexes. Records with a
version at or below the applied one are skipped. A record that fails
partway can be re-sent; ingestion resumes instead of duplicating.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, logger, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			var reader io.Reader = cmd.InOrStdin()
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return err
				}
				defer f.Close()
				reader = f
			}

			applied, skipped, failed := 0, 0, 0
			scanner := bufio.NewScanner(reader)
			scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
			line := 0
			for scanner.Scan() {
				line++
				raw := scanner.Bytes()
				if len(raw) == 0 {
					continue
				}
				var rec feedRecord
				if err := json.Unmarshal(raw, &rec); err != nil {
					return fmt.Errorf("line %d: %w", line, err)
				}

				if rec.Tombstone {
					if err := eng.Indexer().Tombstone(cmd.Context(), rec.DocumentID); err != nil {
						failed++
						logger.Error("tombstone_failed", "document_id", rec.DocumentID, "error", err)
						continue
					}
					applied++
					continue
				}

				dv := toDocumentVersion(&rec)
				before, err := eng.Indexer().State(cmd.Context(), rec.DocumentID)
				if err != nil {
					return err
				}
				if err := eng.Indexer().Ingest(cmd.Context(), dv); err != nil {
					failed++
					logger.Error("ingest_failed",
						"document_id", rec.DocumentID,
						"version", rec.Version,
						"error", err)
					continue
				}
				if before != nil && before.Version >= rec.Version && before.Status == store.StatusIndexed {
					skipped++
				} else {
					applied++
				}
			}
			if err := scanner.Err(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "applied %d, skipped %d, failed %d\n", applied, skipped, failed)
			if failed > 0 {
				return fmt.Errorf("%d record(s) failed; re-run ingest to resume", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "-", "Feed file path, or - for stdin")
	return cmd
}

func toDocumentVersion(rec *feedRecord) *store.DocumentVersion {
	chunks := make([]*store.Chunk, len(rec.Chunks))
	for i, fc := range rec.Chunks {
		chunks[i] = &store.Chunk{
			ID:         fc.ID,
			Text:       fc.Text,
			TokenCount: fc.TokenCount,
			Metadata:   fc.Metadata,
		}
	}
	return &store.DocumentVersion{
		DocumentID: rec.DocumentID,
		Version:    rec.Version,
		Chunks:     chunks,
		CreatedAt:  time.Now().UTC(),
	}
}
