package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqsift/reqsift/internal/embed"
	rserrors "github.com/reqsift/reqsift/internal/errors"
	"github.com/reqsift/reqsift/internal/store"
)

// fakeLexical serves a fixed result list, or a fixed error.
type fakeLexical struct {
	results []*store.LexicalResult
	err     error
}

var _ store.LexicalIndex = (*fakeLexical)(nil)

func (f *fakeLexical) Upsert(context.Context, []*store.Chunk) error { return nil }
func (f *fakeLexical) Remove(context.Context, []string) error       { return nil }
func (f *fakeLexical) Query(context.Context, string, int) ([]*store.LexicalResult, error) {
	return f.results, f.err
}
func (f *fakeLexical) AllIDs() ([]string, error)  { return nil, nil }
func (f *fakeLexical) Stats() *store.LexicalStats { return &store.LexicalStats{} }
func (f *fakeLexical) Close() error               { return nil }

// fakeVector serves a fixed result list, or a fixed error.
type fakeVector struct {
	results []*store.VectorResult
	err     error
}

var _ store.VectorStore = (*fakeVector)(nil)

func (f *fakeVector) Upsert(context.Context, []string, [][]float32) error { return nil }
func (f *fakeVector) Query(context.Context, []float32, int) ([]*store.VectorResult, error) {
	return f.results, f.err
}
func (f *fakeVector) Remove(context.Context, []string) error { return nil }
func (f *fakeVector) AllIDs() []string                       { return nil }
func (f *fakeVector) Contains(string) bool                   { return false }
func (f *fakeVector) Count() int                             { return len(f.results) }
func (f *fakeVector) Close() error                           { return nil }

// failingEmbedder fails every call; stands in for an unreachable
// embedding service.
type failingEmbedder struct{}

var _ embed.Embedder = (*failingEmbedder)(nil)

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, rserrors.ErrEmbeddingUnavailable
}
func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, rserrors.ErrEmbeddingUnavailable
}
func (failingEmbedder) Dimensions() int { return embed.StaticDimensions }
func (failingEmbedder) ModelID() string { return "failing" }
func (failingEmbedder) Close() error    { return nil }

func newTestStateStore(t *testing.T, chunks ...*store.Chunk) store.StateStore {
	t.Helper()
	st, err := store.NewSQLiteStateStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	if len(chunks) > 0 {
		require.NoError(t, st.SaveChunks(context.Background(), chunks))
	}
	return st
}

func newTestCoordinator(t *testing.T, lex store.LexicalIndex, vec store.VectorStore, embedder embed.Embedder, state store.StateStore, cfg Config) *Coordinator {
	t.Helper()
	if state == nil {
		state = newTestStateStore(t)
	}
	if embedder == nil {
		embedder = embed.NewStaticEmbedder()
	}
	return NewCoordinator(lex, vec, embedder, state, NewTermOverlapReranker(store.DefaultStopWords), cfg, nil)
}

func TestRetrieveFusesBothSources(t *testing.T) {
	// Given: both branches return results with one overlap
	lex := &fakeLexical{results: lexResults([]string{"A", "B"}, []float64{2.0, 1.0})}
	vec := &fakeVector{results: vecResults([]string{"B", "C"}, []float32{0.9, 0.8})}
	state := newTestStateStore(t,
		&store.Chunk{ID: "A", DocumentID: "doc-1", Text: "alpha"},
		&store.Chunk{ID: "B", DocumentID: "doc-1", Text: "beta"},
		&store.Chunk{ID: "C", DocumentID: "doc-2", Text: "gamma"},
	)
	c := newTestCoordinator(t, lex, vec, nil, state, DefaultConfig())

	// When
	resp, err := c.Retrieve(context.Background(), "beta", Options{TopK: 10})

	// Then: B appears in both source lists and wins
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Empty(t, resp.Degraded)
	assert.Equal(t, "B", resp.Results[0].ChunkID)
	assert.ElementsMatch(t, []Source{SourceLexical, SourceVector}, resp.Results[0].Sources)
	require.NotNil(t, resp.Results[0].LexicalScore)
	require.NotNil(t, resp.Results[0].VectorScore)
	assert.Equal(t, "beta", resp.Results[0].Text)
	assert.Equal(t, "doc-1", resp.Results[0].DocumentID)
}

func TestRetrieveVectorBranchFailureDegrades(t *testing.T) {
	lex := &fakeLexical{results: lexResults([]string{"A"}, []float64{1.5})}
	vec := &fakeVector{err: rserrors.ErrBackendUnavailable}
	state := newTestStateStore(t, &store.Chunk{ID: "A", DocumentID: "doc-1", Text: "alpha"})
	c := newTestCoordinator(t, lex, vec, nil, state, DefaultConfig())

	resp, err := c.Retrieve(context.Background(), "alpha", Options{})

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, []Source{SourceVector}, resp.Degraded)
	assert.Equal(t, []Source{SourceLexical}, resp.Results[0].Sources)
}

func TestRetrieveBothBranchesFailing(t *testing.T) {
	lex := &fakeLexical{err: rserrors.New(rserrors.ErrCodeCorruptIndex, "postings corrupt", nil)}
	vec := &fakeVector{err: rserrors.ErrBackendUnavailable}
	c := newTestCoordinator(t, lex, vec, nil, nil, DefaultConfig())

	resp, err := c.Retrieve(context.Background(), "anything", Options{})

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, rserrors.ErrCodeSearchFailed, rserrors.GetCode(err))
}

func TestRetrieveEmbedFailureIsFatal(t *testing.T) {
	// Given: a healthy lexical index but no reachable embedder
	lex := &fakeLexical{results: lexResults([]string{"A"}, []float64{1.0})}
	c := newTestCoordinator(t, lex, &fakeVector{}, failingEmbedder{}, nil, DefaultConfig())

	resp, err := c.Retrieve(context.Background(), "alpha", Options{})

	// Then: the request fails rather than silently degrading
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, rserrors.ErrCodeEmbeddingUnavailable, rserrors.GetCode(err))
}

func TestRetrieveVectorDisabledSkipsEmbedding(t *testing.T) {
	lex := &fakeLexical{results: lexResults([]string{"A"}, []float64{1.0})}
	state := newTestStateStore(t, &store.Chunk{ID: "A", DocumentID: "doc-1", Text: "alpha"})
	c := newTestCoordinator(t, lex, &fakeVector{}, failingEmbedder{}, state, DefaultConfig())

	resp, err := c.Retrieve(context.Background(), "alpha", Options{VectorDisabled: true})

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Empty(t, resp.Degraded)
}

func TestRetrieveEmptyQueryRejected(t *testing.T) {
	c := newTestCoordinator(t, &fakeLexical{}, &fakeVector{}, nil, nil, DefaultConfig())

	for _, query := range []string{"", "   ", "\t\n"} {
		resp, err := c.Retrieve(context.Background(), query, Options{})
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.Equal(t, rserrors.ErrCodeInvalidQuery, rserrors.GetCode(err))
	}
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	lex := &fakeLexical{results: lexResults([]string{"A", "B", "C", "D", "E"}, []float64{5, 4, 3, 2, 1})}
	c := newTestCoordinator(t, lex, &fakeVector{}, nil, nil, DefaultConfig())

	resp, err := c.Retrieve(context.Background(), "query", Options{TopK: 2})

	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, []string{"A", "B"}, []string{resp.Results[0].ChunkID, resp.Results[1].ChunkID})
	assert.Equal(t, 0, resp.Results[0].Rank)
	assert.Equal(t, 1, resp.Results[1].Rank)
}

func TestRetrieveCancelledContext(t *testing.T) {
	lex := &fakeLexical{results: lexResults([]string{"A"}, []float64{1.0})}
	c := newTestCoordinator(t, lex, &fakeVector{}, nil, nil, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := c.Retrieve(ctx, "alpha", Options{VectorDisabled: true})

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, rserrors.ErrCodeQueryTimeout, rserrors.GetCode(err))
}

func TestRetrieveRerankPromotesOverlap(t *testing.T) {
	// Given: fused order is B, A but only A's text matches the query
	lex := &fakeLexical{results: lexResults([]string{"B", "A"}, []float64{2.0, 1.0})}
	state := newTestStateStore(t,
		&store.Chunk{ID: "A", DocumentID: "doc-1", Text: "payment ledger reconciliation"},
		&store.Chunk{ID: "B", DocumentID: "doc-1", Text: "unrelated prose"},
	)
	cfg := DefaultConfig()
	cfg.RerankEnabled = true
	c := newTestCoordinator(t, lex, &fakeVector{}, nil, state, cfg)

	resp, err := c.Retrieve(context.Background(), "ledger reconciliation", Options{VectorDisabled: true})

	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "A", resp.Results[0].ChunkID)
	assert.Equal(t, "B", resp.Results[1].ChunkID)
}

func TestRetrieveDisableRerankKeepsFusedOrder(t *testing.T) {
	lex := &fakeLexical{results: lexResults([]string{"B", "A"}, []float64{2.0, 1.0})}
	state := newTestStateStore(t,
		&store.Chunk{ID: "A", DocumentID: "doc-1", Text: "payment ledger reconciliation"},
		&store.Chunk{ID: "B", DocumentID: "doc-1", Text: "unrelated prose"},
	)
	cfg := DefaultConfig()
	cfg.RerankEnabled = true
	c := newTestCoordinator(t, lex, &fakeVector{}, nil, state, cfg)

	resp, err := c.Retrieve(context.Background(), "ledger reconciliation", Options{VectorDisabled: true, DisableRerank: true})

	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "B", resp.Results[0].ChunkID)
}

func TestRetrieveMissingChunkRowTolerated(t *testing.T) {
	// A query racing a deletion can surface an ID with no chunk row;
	// the result keeps empty text instead of failing.
	lex := &fakeLexical{results: lexResults([]string{"gone"}, []float64{1.0})}
	c := newTestCoordinator(t, lex, &fakeVector{}, nil, nil, DefaultConfig())

	resp, err := c.Retrieve(context.Background(), "alpha", Options{VectorDisabled: true})

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "gone", resp.Results[0].ChunkID)
	assert.Empty(t, resp.Results[0].Text)
}
