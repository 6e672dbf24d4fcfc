package search

import (
	"context"
	"sort"
	"strings"

	"github.com/reqsift/reqsift/internal/store"
)

// DefaultRerankTopN is the fused-candidate prefix handed to the
// reranker.
const DefaultRerankTopN = 20

// Reranker reorders a fused candidate prefix by a finer-grained
// relevance signal. Implementations are pure over (query, candidates):
// the returned slice holds exactly the input candidates, reordered.
// Reranking is optional post-processing; the coordinator falls back to
// fused order if it fails.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []*Candidate) ([]*Candidate, error)
}

// NoopReranker returns candidates unchanged.
type NoopReranker struct{}

var _ Reranker = (*NoopReranker)(nil)

func (NoopReranker) Rerank(_ context.Context, _ string, candidates []*Candidate) ([]*Candidate, error) {
	return candidates, nil
}

// TermOverlapReranker scores each candidate by the fraction of query
// terms present in its text. Cheap, deterministic, and local: the
// fallback second-pass scorer when no cross-encoder service is
// wired in. Fused order is the tie-break, so equal-overlap candidates
// keep their positions.
type TermOverlapReranker struct {
	stopWords map[string]struct{}
}

var _ Reranker = (*TermOverlapReranker)(nil)

// NewTermOverlapReranker builds a reranker using the same stop-word
// set as the lexical index, keeping both passes' notion of "term"
// aligned.
func NewTermOverlapReranker(stopWords []string) *TermOverlapReranker {
	return &TermOverlapReranker{stopWords: store.BuildStopWordMap(stopWords)}
}

// Rerank reorders candidates by descending term overlap with the
// query. Candidates without text score 0 and sink, preserving fused
// order among themselves.
func (r *TermOverlapReranker) Rerank(_ context.Context, query string, candidates []*Candidate) ([]*Candidate, error) {
	terms := store.Tokenize(query, r.stopWords, 0)
	if len(terms) == 0 {
		return candidates, nil
	}
	unique := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		unique[t] = struct{}{}
	}

	scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		scores[c.ChunkID] = overlapScore(unique, c.Text, r.stopWords)
	}

	reordered := make([]*Candidate, len(candidates))
	copy(reordered, candidates)
	sort.SliceStable(reordered, func(i, j int) bool {
		return scores[reordered[i].ChunkID] > scores[reordered[j].ChunkID]
	})
	return reordered, nil
}

func overlapScore(queryTerms map[string]struct{}, text string, stopWords map[string]struct{}) float64 {
	if text == "" {
		return 0
	}
	present := make(map[string]struct{})
	for _, t := range store.Tokenize(strings.ToLower(text), stopWords, 0) {
		if _, ok := queryTerms[t]; ok {
			present[t] = struct{}{}
		}
	}
	return float64(len(present)) / float64(len(queryTerms))
}
