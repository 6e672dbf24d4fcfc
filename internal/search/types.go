// Package search fuses lexical and vector retrieval into one ranked
// result list. The Coordinator is the engine's read-path entry point;
// fusion and reranking are pure functions over per-source candidate
// lists.
package search

import (
	"time"
)

// Source identifies which index contributed a candidate.
type Source string

const (
	SourceLexical Source = "lexical"
	SourceVector  Source = "vector"
)

// SourceScore is a candidate's raw score and rank within one source
// list. Rank is zero-based.
type SourceScore struct {
	Score float64
	Rank  int
}

// Candidate is a transient per-query ranking record. Lexical and
// Vector are nil when the chunk did not appear in that source's list.
type Candidate struct {
	ChunkID    string
	Lexical    *SourceScore
	Vector     *SourceScore
	FusedScore float64
	Rank       int

	// Text is filled from the state store before reranking and for
	// the final response; empty until then.
	Text       string
	DocumentID string
}

// Sources lists which indexes contributed this candidate, lexical
// first.
func (c *Candidate) Sources() []Source {
	var sources []Source
	if c.Lexical != nil {
		sources = append(sources, SourceLexical)
	}
	if c.Vector != nil {
		sources = append(sources, SourceVector)
	}
	return sources
}

// Options modifies a single retrieve call.
type Options struct {
	// TopK is the number of results to return (default
	// DefaultTopK).
	TopK int

	// VectorDisabled skips query embedding and the vector branch
	// entirely; retrieval is lexical-only. This is the caller's
	// graceful-degradation switch for embedding outages.
	VectorDisabled bool

	// DisableRerank passes fused order through unchanged even when
	// the coordinator has a reranker configured.
	DisableRerank bool
}

// Result is one ranked hit with provenance for observability.
type Result struct {
	ChunkID    string   `json:"chunk_id"`
	DocumentID string   `json:"document_id"`
	Text       string   `json:"text"`
	FusedScore float64  `json:"fused_score"`
	Rank       int      `json:"rank"`
	Sources    []Source `json:"sources"`

	// Raw per-source scores; nil when the source did not return the
	// chunk.
	LexicalScore *float64 `json:"lexical_score,omitempty"`
	VectorScore  *float64 `json:"vector_score,omitempty"`
}

// Response is the retrieve output.
type Response struct {
	Results []*Result `json:"results"`
	TookMS  int64     `json:"took_ms"`

	// Degraded lists sources that failed for this query; results were
	// fused from the remaining source(s).
	Degraded []Source `json:"degraded,omitempty"`
}

// DefaultTopK is the result count when Options.TopK is unset.
const DefaultTopK = 10

// PerSourceMultiplier oversizes each index's own top-k relative to
// the final top-k so fusion sees enough candidates.
const PerSourceMultiplier = 3

func tookMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
