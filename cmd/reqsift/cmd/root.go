// Package cmd provides the CLI commands for reqsift.
package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/reqsift/reqsift/internal/config"
	"github.com/reqsift/reqsift/internal/engine"
	"github.com/reqsift/reqsift/internal/logging"
)

var (
	dataDir string
	offline bool
)

// NewRootCmd creates the root command for the reqsift CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reqsift",
		Short: "Hybrid retrieval and incremental indexing engine",
		Long: `reqsift indexes document chunks into a BM25 lexical index and a
vector index, and serves hybrid queries fused with RRF or weighted
scoring.

Ingestion is incremental: re-ingesting a document embeds and indexes
only the chunks whose content changed.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", ".reqsift", "Data directory for indexes and state")
	cmd.PersistentFlags().BoolVar(&offline, "offline", false, "Use static embeddings (no API calls)")

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newCheckCmd())
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// openEngine loads configuration, sets up logging, and opens the full
// engine. The returned cleanup closes the engine and flushes logs.
func openEngine(ctx context.Context) (*engine.Engine, *slog.Logger, func(), error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, nil, nil, err
	}
	if offline {
		cfg.Embeddings.Provider = "static"
	}

	logger, logCleanup, err := logging.Setup(cfg.LoggingSetupConfig())
	if err != nil {
		return nil, nil, nil, err
	}

	eng, err := engine.Open(ctx, cfg, logger)
	if err != nil {
		logCleanup()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := eng.Close(); err != nil {
			logger.Error("engine_close_failed", "error", err)
		}
		logCleanup()
	}
	return eng, logger, cleanup, nil
}
