// Package engine assembles the stores, the embedding gateway, the
// indexer, and the retrieval coordinator into one lifecycle: explicit
// construction at process start, explicit flush and close at shutdown.
// No package-level state anywhere in the engine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/reqsift/reqsift/internal/config"
	"github.com/reqsift/reqsift/internal/embed"
	"github.com/reqsift/reqsift/internal/index"
	"github.com/reqsift/reqsift/internal/search"
	"github.com/reqsift/reqsift/internal/store"
)

// Engine owns every component of the retrieval system. The Indexer is
// the only writer; the Coordinator only reads.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	lock     *index.DataLock
	state    store.StateStore
	lexical  store.LexicalIndex
	vector   store.VectorStore
	embedder embed.Embedder

	indexer     *index.Indexer
	coordinator *search.Coordinator
	checker     *index.ConsistencyChecker
}

// Open builds the full engine from configuration. The data directory
// is locked against other writer processes, the embedded vector index
// is restored from its snapshot, and the lexical index is rebuilt from
// the recorded chunk rows (postings live in memory).
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lock := index.NewDataLock(cfg.DataDir)
	if err := lock.Acquire(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, logger: logger, lock: lock}
	if err := e.open(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) open(ctx context.Context) error {
	state, err := store.NewSQLiteStateStore(e.cfg.StatePath())
	if err != nil {
		return err
	}
	e.state = state

	embedder, err := e.buildEmbedder()
	if err != nil {
		return err
	}
	e.embedder = embedder

	vector, err := e.buildVectorStore(ctx)
	if err != nil {
		return err
	}
	e.vector = vector

	lexical := store.NewMemoryLexicalIndex(e.cfg.LexicalStoreConfig())
	if err := rebuildLexical(ctx, lexical, state); err != nil {
		return err
	}
	e.lexical = lexical

	e.indexer = index.NewIndexer(lexical, vector, embedder, state, e.logger)
	reranker := search.NewTermOverlapReranker(store.DefaultStopWords)
	e.coordinator = search.NewCoordinator(lexical, vector, embedder, state, reranker, e.cfg.Search, e.logger)
	e.checker = index.NewConsistencyChecker(state, lexical, vector, e.logger)
	return nil
}

func (e *Engine) buildEmbedder() (embed.Embedder, error) {
	var backend embed.Embedder
	switch e.cfg.Embeddings.Provider {
	case "static":
		backend = embed.NewStaticEmbedder()
	default:
		oa, err := embed.NewOpenAIEmbedder(embed.OpenAIConfig{
			Model:      e.cfg.Embeddings.Model,
			Dimensions: e.cfg.Embeddings.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		backend = oa
	}

	gwCfg := embed.DefaultGatewayConfig()
	if e.cfg.Embeddings.BatchSize > 0 {
		gwCfg.BatchSize = e.cfg.Embeddings.BatchSize
	}
	if e.cfg.Embeddings.MaxAttempts > 0 {
		gwCfg.MaxAttempts = e.cfg.Embeddings.MaxAttempts
	}
	gateway := embed.NewGateway(backend, gwCfg, e.logger)
	return embed.NewCachedEmbedder(gateway, e.cfg.Embeddings.CacheSize), nil
}

func (e *Engine) buildVectorStore(ctx context.Context) (store.VectorStore, error) {
	dims := e.embedder.Dimensions()
	if e.cfg.Vector.Backend == "qdrant" {
		qc := store.DefaultQdrantConfig(dims)
		qc.Host = e.cfg.Vector.QdrantHost
		qc.Port = e.cfg.Vector.QdrantPort
		qc.Collection = e.cfg.Vector.QdrantCollection
		return store.NewQdrantStore(ctx, qc)
	}

	vc := store.DefaultVectorConfig(dims)
	vc.ModelID = e.embedder.ModelID()
	if e.cfg.Vector.M > 0 {
		vc.M = e.cfg.Vector.M
	}
	if e.cfg.Vector.EfSearch > 0 {
		vc.EfSearch = e.cfg.Vector.EfSearch
	}
	hnsw, err := store.NewHNSWStore(vc)
	if err != nil {
		return nil, err
	}
	path := e.cfg.HNSWPath()
	if _, statErr := os.Stat(path); statErr == nil {
		if err := hnsw.Load(path); err != nil {
			return nil, err
		}
	}
	return hnsw, nil
}

// rebuildLexical replays recorded chunk rows into the in-memory
// posting index. Rows exist only for writes both indexes confirmed,
// so the rebuilt index matches the last committed state.
func rebuildLexical(ctx context.Context, lexical store.LexicalIndex, state store.StateStore) error {
	docs, err := state.ListDocuments(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if doc.Status == store.StatusTombstoned {
			continue
		}
		chunks, err := state.GetChunksByDocument(ctx, doc.DocumentID)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			continue
		}
		if err := lexical.Upsert(ctx, chunks); err != nil {
			return err
		}
	}
	return nil
}

// Indexer exposes the write path.
func (e *Engine) Indexer() *index.Indexer { return e.indexer }

// Coordinator exposes the read path.
func (e *Engine) Coordinator() *search.Coordinator { return e.coordinator }

// Checker exposes cross-index consistency checking.
func (e *Engine) Checker() *index.ConsistencyChecker { return e.checker }

// State exposes read access to document and chunk records.
func (e *Engine) State() store.StateStore { return e.state }

// Close flushes the embedded vector snapshot and releases every
// resource, data-dir lock last.
func (e *Engine) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if hnsw, ok := e.vector.(*store.HNSWStore); ok {
		keep(hnsw.Save(e.cfg.HNSWPath()))
	}
	if e.lexical != nil {
		keep(e.lexical.Close())
	}
	if e.vector != nil {
		keep(e.vector.Close())
	}
	if e.embedder != nil {
		keep(e.embedder.Close())
	}
	if e.state != nil {
		keep(e.state.Close())
	}
	if e.lock != nil {
		keep(e.lock.Release())
	}
	return firstErr
}
