package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunk(id, docID, text string) *Chunk {
	c := &Chunk{ID: id, DocumentID: docID, Text: text}
	c.Normalize()
	return c
}

func TestLexicalQuery_CatDogCorpus(t *testing.T) {
	// Given: a three-chunk corpus with default BM25 parameters
	idx := NewMemoryLexicalIndex(DefaultLexicalConfig())
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []*Chunk{
		newTestChunk("chunk-1", "doc", "the cat sat"),
		newTestChunk("chunk-2", "doc", "a dog ran"),
		newTestChunk("chunk-3", "doc", "the cat ran"),
	}))

	// When: querying "cat"
	results, err := idx.Query(ctx, "cat", 10)
	require.NoError(t, err)

	// Then: only the matching chunks come back, the equal-score tie
	// broken by ascending chunk ID
	require.Len(t, results, 2)
	assert.Equal(t, "chunk-1", results[0].ChunkID)
	assert.Equal(t, "chunk-3", results[1].ChunkID)
	assert.InDelta(t, results[0].Score, results[1].Score, 1e-12)
	assert.Greater(t, results[0].Score, 0.0)
	assert.Equal(t, []string{"cat"}, results[0].MatchedTerms)
}

func TestLexicalQuery_EmptyIndex(t *testing.T) {
	idx := NewMemoryLexicalIndex(DefaultLexicalConfig())
	defer idx.Close()

	results, err := idx.Query(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLexicalQuery_DuplicateQueryTermsCountedOnce(t *testing.T) {
	idx := NewMemoryLexicalIndex(DefaultLexicalConfig())
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []*Chunk{
		newTestChunk("c1", "doc", "cat chases mouse"),
	}))

	single, err := idx.Query(ctx, "cat", 5)
	require.NoError(t, err)
	repeated, err := idx.Query(ctx, "cat cat cat", 5)
	require.NoError(t, err)

	require.Len(t, single, 1)
	require.Len(t, repeated, 1)
	assert.Equal(t, single[0].Score, repeated[0].Score)
}

func TestLexicalRemove_UpdatesStatsSynchronously(t *testing.T) {
	// Given: two chunks sharing a term
	idx := NewMemoryLexicalIndex(DefaultLexicalConfig())
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []*Chunk{
		newTestChunk("c1", "doc", "cat sat"),
		newTestChunk("c2", "doc", "cat ran far away today"),
	}))
	require.Equal(t, 2, idx.Stats().ChunkCount)

	// When: one is removed
	require.NoError(t, idx.Remove(ctx, []string{"c1"}))

	// Then: the next query sees updated corpus statistics immediately
	assert.Equal(t, 1, idx.Stats().ChunkCount)
	results, err := idx.Query(ctx, "cat", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].ChunkID)

	ids, err := idx.AllIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, ids)
}

func TestLexicalUpsert_ReplacesPostings(t *testing.T) {
	idx := NewMemoryLexicalIndex(DefaultLexicalConfig())
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []*Chunk{newTestChunk("c1", "doc", "cat sat")}))
	require.NoError(t, idx.Upsert(ctx, []*Chunk{newTestChunk("c1", "doc", "dog ran")}))

	catHits, err := idx.Query(ctx, "cat", 5)
	require.NoError(t, err)
	assert.Empty(t, catHits, "old postings must be gone after replacement")

	dogHits, err := idx.Query(ctx, "dog", 5)
	require.NoError(t, err)
	require.Len(t, dogHits, 1)
	assert.Equal(t, 1, idx.Stats().ChunkCount)
}

func TestLexicalQuery_HigherTermFrequencyRanksFirst(t *testing.T) {
	idx := NewMemoryLexicalIndex(DefaultLexicalConfig())
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []*Chunk{
		newTestChunk("c1", "doc", "cat cat cat"),
		newTestChunk("c2", "doc", "cat dog dog"),
	}))

	results, err := idx.Query(ctx, "cat", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestLexicalQuery_TopKTruncates(t *testing.T) {
	idx := NewMemoryLexicalIndex(DefaultLexicalConfig())
	defer idx.Close()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []*Chunk{
		newTestChunk("c1", "doc", "cat one"),
		newTestChunk("c2", "doc", "cat two"),
		newTestChunk("c3", "doc", "cat three"),
	}))

	results, err := idx.Query(ctx, "cat", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestTokenize_StopWordsAndMinLength(t *testing.T) {
	stop := BuildStopWordMap([]string{"the", "a"})
	tokens := Tokenize("The cat, a DOG; x!", stop, 2)
	assert.Equal(t, []string{"cat", "dog"}, tokens)
}

func TestChunkID_StableAcrossReordering(t *testing.T) {
	hash := HashText("same text")
	assert.Equal(t, ChunkID("doc", hash), ChunkID("doc", hash))
	assert.NotEqual(t, ChunkID("doc", hash), ChunkID("other", hash))
}
