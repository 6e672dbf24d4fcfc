package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryLexicalIndex is an in-memory inverted posting index with BM25
// scoring. Postings and corpus statistics (document frequency, average
// chunk length) are updated synchronously on every mutation, so a query
// issued immediately after an upsert sees current statistics.
//
// Mutations of different chunk IDs may proceed concurrently from the
// caller's perspective; the index serializes them internally.
type MemoryLexicalIndex struct {
	mu     sync.RWMutex
	config LexicalConfig

	postings  map[string]map[string]int // term -> chunkID -> term frequency
	chunkTerm map[string]map[string]int // chunkID -> term -> term frequency
	chunkLen  map[string]int            // chunkID -> token count after filtering
	totalLen  int                       // sum of chunkLen values

	stopWords map[string]struct{}
	closed    bool
}

// Verify interface implementation at compile time.
var _ LexicalIndex = (*MemoryLexicalIndex)(nil)

// NewMemoryLexicalIndex creates an empty lexical index.
func NewMemoryLexicalIndex(config LexicalConfig) *MemoryLexicalIndex {
	if config.K1 <= 0 {
		config.K1 = 1.2
	}
	if config.B <= 0 {
		config.B = 0.75
	}
	if config.MinTokenLength <= 0 {
		config.MinTokenLength = 2
	}

	return &MemoryLexicalIndex{
		config:    config,
		postings:  make(map[string]map[string]int),
		chunkTerm: make(map[string]map[string]int),
		chunkLen:  make(map[string]int),
		stopWords: BuildStopWordMap(config.StopWords),
	}
}

// Upsert adds or replaces postings for the chunks' term sets. Replacing
// recomputes term frequencies from scratch; stale postings from a prior
// generation of the same chunk ID never linger.
func (x *MemoryLexicalIndex) Upsert(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("lexical index is closed")
	}

	for _, chunk := range chunks {
		if chunk.ID == "" {
			return fmt.Errorf("chunk without ID cannot be indexed")
		}

		if _, exists := x.chunkTerm[chunk.ID]; exists {
			x.removeLocked(chunk.ID)
		}

		tokens := Tokenize(chunk.Text, x.stopWords, x.config.MinTokenLength)
		freqs := make(map[string]int, len(tokens))
		for _, t := range tokens {
			freqs[t]++
		}

		for term, tf := range freqs {
			posting := x.postings[term]
			if posting == nil {
				posting = make(map[string]int)
				x.postings[term] = posting
			}
			posting[chunk.ID] = tf
		}

		x.chunkTerm[chunk.ID] = freqs
		x.chunkLen[chunk.ID] = len(tokens)
		x.totalLen += len(tokens)
	}

	return nil
}

// Remove deletes all postings for the given chunk IDs and decrements
// document-frequency counters. Unknown IDs are ignored.
func (x *MemoryLexicalIndex) Remove(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("lexical index is closed")
	}

	for _, id := range chunkIDs {
		x.removeLocked(id)
	}

	return nil
}

// removeLocked removes one chunk's postings. Caller holds x.mu.
func (x *MemoryLexicalIndex) removeLocked(chunkID string) {
	freqs, exists := x.chunkTerm[chunkID]
	if !exists {
		return
	}

	for term := range freqs {
		posting := x.postings[term]
		delete(posting, chunkID)
		if len(posting) == 0 {
			delete(x.postings, term)
		}
	}

	x.totalLen -= x.chunkLen[chunkID]
	delete(x.chunkTerm, chunkID)
	delete(x.chunkLen, chunkID)
}

// Query returns up to topK chunk IDs ranked by BM25:
//
//	score = Σ idf(term) * tf*(k1+1) / (tf + k1*(1 - b + b*len/avgLen))
//
// over the query's terms, with idf(term) = ln(1 + (N - df + 0.5)/(df + 0.5)).
// Only chunks matching at least one query term are returned. Ties are
// broken by ascending chunk ID for deterministic output.
func (x *MemoryLexicalIndex) Query(ctx context.Context, query string, topK int) ([]*LexicalResult, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	if topK <= 0 {
		return []*LexicalResult{}, nil
	}

	terms := Tokenize(query, x.stopWords, x.config.MinTokenLength)
	n := len(x.chunkLen)
	if len(terms) == 0 || n == 0 {
		// Query against an empty corpus is an empty result, not a failure.
		return []*LexicalResult{}, nil
	}

	avgLen := float64(x.totalLen) / float64(n)
	if avgLen == 0 {
		avgLen = 1
	}

	k1, b := x.config.K1, x.config.B

	scores := make(map[string]float64)
	matched := make(map[string][]string)
	seenTerm := make(map[string]struct{}, len(terms))

	for _, term := range terms {
		// Duplicate query terms are counted once
		if _, dup := seenTerm[term]; dup {
			continue
		}
		seenTerm[term] = struct{}{}

		posting := x.postings[term]
		if len(posting) == 0 {
			continue
		}

		df := float64(len(posting))
		idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))

		for chunkID, tf := range posting {
			docLen := float64(x.chunkLen[chunkID])
			norm := float64(tf) + k1*(1-b+b*docLen/avgLen)
			scores[chunkID] += idf * float64(tf) * (k1 + 1) / norm
			matched[chunkID] = append(matched[chunkID], term)
		}
	}

	results := make([]*LexicalResult, 0, len(scores))
	for chunkID, score := range scores {
		results = append(results, &LexicalResult{
			ChunkID:      chunkID,
			Score:        score,
			MatchedTerms: matched[chunkID],
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

// AllIDs returns all chunk IDs in the index.
func (x *MemoryLexicalIndex) AllIDs() ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	ids := make([]string, 0, len(x.chunkLen))
	for id := range x.chunkLen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Stats returns current corpus statistics.
func (x *MemoryLexicalIndex) Stats() *LexicalStats {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return &LexicalStats{}
	}

	stats := &LexicalStats{
		ChunkCount: len(x.chunkLen),
		TermCount:  len(x.postings),
	}
	if stats.ChunkCount > 0 {
		stats.AvgChunkLength = float64(x.totalLen) / float64(stats.ChunkCount)
	}
	return stats
}

// Close releases the index. Further calls fail.
func (x *MemoryLexicalIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.closed = true
	x.postings = nil
	x.chunkTerm = nil
	x.chunkLen = nil
	return nil
}
