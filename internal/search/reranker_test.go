package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqsift/reqsift/internal/store"
)

func textCandidates(pairs ...string) []*Candidate {
	if len(pairs)%2 != 0 {
		panic("textCandidates wants id/text pairs")
	}
	out := make([]*Candidate, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, &Candidate{ChunkID: pairs[i], Text: pairs[i+1], Rank: i / 2})
	}
	return out
}

func TestTermOverlapRerankerOrdersByOverlap(t *testing.T) {
	r := NewTermOverlapReranker(store.DefaultStopWords)

	// Given: fused order puts the weaker match first
	candidates := textCandidates(
		"one-term", "connection timeout tuning",
		"two-terms", "database connection timeout tuning",
	)

	// When
	reordered, err := r.Rerank(context.Background(), "database timeout", candidates)

	// Then: the candidate containing both query terms rises
	require.NoError(t, err)
	assert.Equal(t, []string{"two-terms", "one-term"}, chunkIDs(reordered))
}

func TestTermOverlapRerankerPreservesCandidateSet(t *testing.T) {
	r := NewTermOverlapReranker(store.DefaultStopWords)
	candidates := textCandidates(
		"a", "alpha beta",
		"b", "",
		"c", "query terms everywhere",
		"d", "beta gamma",
	)

	reordered, err := r.Rerank(context.Background(), "query beta", candidates)

	require.NoError(t, err)
	require.Len(t, reordered, len(candidates))
	seen := make(map[string]bool)
	for _, c := range reordered {
		seen[c.ChunkID] = true
	}
	for _, c := range candidates {
		assert.True(t, seen[c.ChunkID], "candidate %s dropped", c.ChunkID)
	}
}

func TestTermOverlapRerankerEqualScoresKeepFusedOrder(t *testing.T) {
	r := NewTermOverlapReranker(store.DefaultStopWords)
	candidates := textCandidates(
		"first", "retry budget exhausted",
		"second", "retry loop bounded",
	)

	reordered, err := r.Rerank(context.Background(), "retry", candidates)

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, chunkIDs(reordered))
}

func TestTermOverlapRerankerStopWordOnlyQueryIsPassthrough(t *testing.T) {
	r := NewTermOverlapReranker(store.DefaultStopWords)
	candidates := textCandidates("a", "anything", "b", "at all")

	reordered, err := r.Rerank(context.Background(), "the of and", candidates)

	require.NoError(t, err)
	assert.Equal(t, chunkIDs(candidates), chunkIDs(reordered))
}

func TestTermOverlapRerankerMissingTextSinks(t *testing.T) {
	r := NewTermOverlapReranker(store.DefaultStopWords)
	candidates := textCandidates(
		"empty", "",
		"match", "cache eviction policy",
	)

	reordered, err := r.Rerank(context.Background(), "eviction", candidates)

	require.NoError(t, err)
	assert.Equal(t, []string{"match", "empty"}, chunkIDs(reordered))
}

func TestNoopRerankerReturnsInputUnchanged(t *testing.T) {
	candidates := textCandidates("x", "one", "y", "two")

	reordered, err := NoopReranker{}.Rerank(context.Background(), "one", candidates)

	require.NoError(t, err)
	assert.Equal(t, candidates, reordered)
}
