package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reqsift/reqsift/internal/embed"
	rserrors "github.com/reqsift/reqsift/internal/errors"
	"github.com/reqsift/reqsift/internal/store"
)

// Config parameterizes the coordinator's read path.
type Config struct {
	Fusion FusionConfig `yaml:"fusion"`

	// RerankEnabled turns on the second-pass scorer over the fused
	// top-N.
	RerankEnabled bool `yaml:"rerank_enabled"`

	// RerankTopN is the fused prefix handed to the reranker (default
	// 20).
	RerankTopN int `yaml:"rerank_top_n"`
}

// DefaultConfig returns RRF fusion with reranking off.
func DefaultConfig() Config {
	return Config{
		Fusion:     DefaultFusionConfig(),
		RerankTopN: DefaultRerankTopN,
	}
}

// Coordinator is the engine's public read path: embed the query, hit
// both indexes concurrently, fuse, optionally rerank, enrich from the
// state store. It holds only read access to the indexes; all writes
// go through the indexer.
type Coordinator struct {
	lexical  store.LexicalIndex
	vector   store.VectorStore
	embedder embed.Embedder
	state    store.StateStore
	reranker Reranker
	config   Config
	logger   *slog.Logger
}

// NewCoordinator wires the read path. reranker may be nil; fused order
// is then passed through unchanged.
func NewCoordinator(
	lexical store.LexicalIndex,
	vector store.VectorStore,
	embedder embed.Embedder,
	state store.StateStore,
	reranker Reranker,
	config Config,
	logger *slog.Logger,
) *Coordinator {
	if config.RerankTopN <= 0 {
		config.RerankTopN = DefaultRerankTopN
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		lexical:  lexical,
		vector:   vector,
		embedder: embedder,
		state:    state,
		reranker: reranker,
		config:   config,
		logger:   logger,
	}
}

// Retrieve runs a query end to end and returns up to opts.TopK ranked
// results with per-candidate provenance.
//
// A failure embedding the query is fatal to the request: no vector
// branch is possible without a query vector, and silently degrading
// to lexical-only would mask an outage. Callers that prefer
// degradation set opts.VectorDisabled. A failure in one index branch
// degrades to single-source fusion; both branches failing fails the
// query with a typed error, never a silent empty result.
func (c *Coordinator) Retrieve(ctx context.Context, query string, opts Options) (*Response, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, rserrors.New(rserrors.ErrCodeInvalidQuery, "query text is empty", nil)
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	perSource := topK * PerSourceMultiplier

	var queryVector []float32
	if !opts.VectorDisabled {
		vec, err := c.embedder.Embed(ctx, query)
		if err != nil {
			if ctxErr := timeoutError(ctx, err); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, rserrors.Wrap(rserrors.ErrCodeEmbeddingUnavailable, err)
		}
		queryVector = vec
	}

	lexResults, vecResults, degraded, err := c.queryBoth(ctx, query, queryVector, perSource)
	if err != nil {
		return nil, err
	}

	candidates := Fuse(lexResults, vecResults, c.config.Fusion)

	candidates, err = c.applyRerank(ctx, query, candidates, opts)
	if err != nil {
		// Reranking is optional post-processing; keep fused order.
		c.logger.Warn("rerank_failed", "error", err)
	}

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	if err := c.enrich(ctx, candidates); err != nil {
		return nil, err
	}

	results := make([]*Result, len(candidates))
	for i, cand := range candidates {
		r := &Result{
			ChunkID:    cand.ChunkID,
			DocumentID: cand.DocumentID,
			Text:       cand.Text,
			FusedScore: cand.FusedScore,
			Rank:       i,
			Sources:    cand.Sources(),
		}
		if cand.Lexical != nil {
			score := cand.Lexical.Score
			r.LexicalScore = &score
		}
		if cand.Vector != nil {
			score := cand.Vector.Score
			r.VectorScore = &score
		}
		results[i] = r
	}

	resp := &Response{
		Results:  results,
		TookMS:   tookMS(start),
		Degraded: degraded,
	}
	c.logger.Debug("retrieve_complete",
		"query_len", len(query),
		"top_k", topK,
		"results", len(results),
		"degraded", len(degraded),
		"took_ms", resp.TookMS)
	return resp, nil
}

// queryBoth runs the lexical and vector lookups concurrently. A
// single-source failure is reported in degraded, not returned as an
// error; both failing is a hard SearchFailed.
func (c *Coordinator) queryBoth(ctx context.Context, query string, queryVector []float32, perSource int) ([]*store.LexicalResult, []*store.VectorResult, []Source, error) {
	var (
		lexResults []*store.LexicalResult
		vecResults []*store.VectorResult
		lexErr     error
		vecErr     error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexResults, lexErr = c.lexical.Query(gctx, query, perSource)
		return nil
	})
	if queryVector != nil {
		g.Go(func() error {
			vecResults, vecErr = c.vector.Query(gctx, queryVector, perSource)
			return nil
		})
	}
	if waitErr := g.Wait(); waitErr != nil {
		if ctxErr := timeoutError(ctx, waitErr); ctxErr != nil {
			return nil, nil, nil, ctxErr
		}
		return nil, nil, nil, rserrors.Wrap(rserrors.ErrCodeSearchFailed, waitErr)
	}
	if ctxErr := timeoutError(ctx, nil); ctxErr != nil {
		return nil, nil, nil, ctxErr
	}

	vectorActive := queryVector != nil
	if lexErr != nil && (vecErr != nil || !vectorActive) {
		return nil, nil, nil, rserrors.Wrap(rserrors.ErrCodeSearchFailed, errors.Join(lexErr, vecErr))
	}

	var degraded []Source
	if lexErr != nil {
		c.logger.Warn("lexical_branch_failed", "error", lexErr)
		degraded = append(degraded, SourceLexical)
		lexResults = nil
	}
	if vectorActive && vecErr != nil {
		c.logger.Warn("vector_branch_failed", "error", vecErr)
		degraded = append(degraded, SourceVector)
		vecResults = nil
	}
	return lexResults, vecResults, degraded, nil
}

// applyRerank reorders the fused top-N in place of the list head. The
// reranker sees candidate texts, so the prefix is enriched first.
func (c *Coordinator) applyRerank(ctx context.Context, query string, candidates []*Candidate, opts Options) ([]*Candidate, error) {
	if !c.config.RerankEnabled || opts.DisableRerank || c.reranker == nil {
		return candidates, nil
	}
	n := c.config.RerankTopN
	if n > len(candidates) {
		n = len(candidates)
	}
	if n == 0 {
		return candidates, nil
	}

	head := candidates[:n]
	if err := c.enrich(ctx, head); err != nil {
		return candidates, err
	}
	reordered, err := c.reranker.Rerank(ctx, query, head)
	if err != nil {
		return candidates, err
	}
	if len(reordered) != n {
		// A reranker must never add or drop candidates.
		return candidates, rserrors.New(rserrors.ErrCodeInternal, "reranker changed candidate count", nil)
	}

	out := make([]*Candidate, 0, len(candidates))
	out = append(out, reordered...)
	out = append(out, candidates[n:]...)
	for i, cand := range out {
		cand.Rank = i
	}
	return out, nil
}

// enrich fills Text and DocumentID from the state store for candidates
// that do not have them yet. Chunks missing from the state store (a
// query racing a deletion) keep empty text rather than failing the
// query.
func (c *Coordinator) enrich(ctx context.Context, candidates []*Candidate) error {
	var missing []string
	for _, cand := range candidates {
		if cand.Text == "" {
			missing = append(missing, cand.ChunkID)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	chunks, err := c.state.GetChunks(ctx, missing)
	if err != nil {
		return err
	}
	byID := make(map[string]*store.Chunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}
	for _, cand := range candidates {
		if ch, ok := byID[cand.ChunkID]; ok {
			cand.Text = ch.Text
			cand.DocumentID = ch.DocumentID
		}
	}
	return nil
}

// timeoutError maps a deadline/cancellation on the request context to
// the typed Timeout error; returns nil otherwise.
func timeoutError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return rserrors.Wrap(rserrors.ErrCodeQueryTimeout, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return rserrors.Wrap(rserrors.ErrCodeQueryTimeout, err)
	}
	return nil
}
