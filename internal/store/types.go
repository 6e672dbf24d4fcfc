// Package store provides the index storage layer: the lexical posting
// index, vector store backends (HNSW, Qdrant), and the SQLite state store
// that tracks document versions and chunk metadata.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DocumentStatus tracks a document's position in the indexing lifecycle.
type DocumentStatus string

const (
	// StatusIndexing means an ingest for a new version is in flight or
	// failed partway; a retry of the same ingest resumes it.
	StatusIndexing DocumentStatus = "indexing"
	// StatusIndexed means the recorded version is fully applied to both
	// indexes.
	StatusIndexed DocumentStatus = "indexed"
	// StatusTombstoned means the document was deleted; all its chunks are
	// removed from both indexes.
	StatusTombstoned DocumentStatus = "tombstoned"
)

// State keys for the state store.
const (
	// StateKeyIndexDimension stores the embedding dimension used for the index.
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel stores the embedding model id used for the index.
	StateKeyIndexModel = "index_embedding_model"
)

// Chunk is the smallest retrievable unit of requirement document text.
// A chunk is immutable once indexed: a content change produces a new
// chunk ID, never an in-place text mutation.
type Chunk struct {
	ID          string            // Content-addressed unless assigned by the feed
	DocumentID  string            // Parent document ID
	Seq         int               // Position within the document version
	Text        string            // Chunk text
	TokenCount  int               // Token count reported by the feed (0 if unknown)
	Metadata    map[string]string // Ordered key-value pairs from the feed
	ContentHash string            // SHA256 of Text
	CreatedAt   time.Time
}

// HashText returns the hex SHA256 of the given text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ChunkID derives a stable content-addressed chunk ID from the parent
// document and the chunk's content hash. Stable across reorderings of
// unchanged text within a document.
func ChunkID(documentID, contentHash string) string {
	sum := sha256.Sum256([]byte(documentID + "\x00" + contentHash))
	return hex.EncodeToString(sum[:16])
}

// Normalize fills derived fields: ContentHash from Text, and ID from
// (DocumentID, ContentHash) when the feed did not assign one.
func (c *Chunk) Normalize() {
	if c.ContentHash == "" {
		c.ContentHash = HashText(c.Text)
	}
	if c.ID == "" {
		c.ID = ChunkID(c.DocumentID, c.ContentHash)
	}
}

// DocumentVersion is one version of a document as delivered by the ingestion
// feed: an ordered chunk sequence with a per-document monotonic version.
type DocumentVersion struct {
	DocumentID string
	Version    int64
	Chunks     []*Chunk
	CreatedAt  time.Time
}

// DocumentState is the per-document index state persisted by the state
// store. Version is the highest fully applied version; it advances only
// after both indexes confirm all writes for that version.
type DocumentState struct {
	DocumentID string
	Version    int64
	Status     DocumentStatus
	ChunkCount int
	UpdatedAt  time.Time
}

// LexicalResult is a single lexical (BM25) search hit.
type LexicalResult struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// LexicalStats provides statistics about the lexical index.
type LexicalStats struct {
	ChunkCount     int
	TermCount      int
	AvgChunkLength float64
}

// LexicalConfig configures the lexical index.
type LexicalConfig struct {
	// K1 is the term frequency saturation parameter (default: 1.2).
	K1 float64

	// B is the length normalization parameter (default: 0.75).
	B float64

	// StopWords is a list of words filtered out during tokenization.
	StopWords []string

	// MinTokenLength is the minimum token length to index (default: 2).
	MinTokenLength int
}

// DefaultLexicalConfig returns the default BM25 configuration.
func DefaultLexicalConfig() LexicalConfig {
	return LexicalConfig{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords contains common English function words that carry no
// retrieval signal in requirement text.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"has", "in", "is", "it", "its", "of", "on", "or", "that", "the",
	"to", "was", "were", "will", "with",
}

// LexicalIndex provides keyword search over chunks using BM25 scoring.
// Document-frequency and average-length statistics are updated
// synchronously on every mutation, so queries always see current corpus
// statistics.
type LexicalIndex interface {
	// Upsert adds or replaces postings for the chunks' term sets.
	Upsert(ctx context.Context, chunks []*Chunk) error

	// Remove deletes all postings for the given chunk IDs.
	Remove(ctx context.Context, chunkIDs []string) error

	// Query returns up to topK chunk IDs ranked by BM25 score.
	// Ties are broken by ascending chunk ID. An empty index yields an
	// empty result, not an error.
	Query(ctx context.Context, query string, topK int) ([]*LexicalResult, error)

	// AllIDs returns all chunk IDs in the index (for consistency checks).
	AllIDs() ([]string, error)

	// Stats returns index statistics.
	Stats() *LexicalStats

	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID       string  // Chunk ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorConfig configures a vector store.
type VectorConfig struct {
	// Dimensions is the vector dimension D, fixed at index creation.
	Dimensions int

	// ModelID is the embedding model all vectors in this index share.
	ModelID string

	// Metric is the distance metric: "cos" (cosine) or "l2" (euclidean).
	Metric string

	// M is HNSW max connections per layer (default: 16).
	M int

	// EfSearch is HNSW query-time search width (default: 20).
	EfSearch int
}

// DefaultVectorConfig returns sensible defaults for a vector store.
func DefaultVectorConfig(dimensions int) VectorConfig {
	return VectorConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   20,
	}
}

// VectorStore is the capability interface for vector index backends.
// Any conforming backend, embedded (HNSW) or networked (Qdrant),
// satisfies the vector index role. Backends provide their own internal
// concurrency safety for upsert and query.
type VectorStore interface {
	// Upsert inserts vectors with their IDs. Existing IDs are replaced.
	// Fails with ErrDimensionMismatch if a vector's length differs from
	// the configured dimension.
	Upsert(ctx context.Context, ids []string, vectors [][]float32) error

	// Query finds the k nearest neighbors to the query vector.
	Query(ctx context.Context, vector []float32, k int) ([]*VectorResult, error)

	// Remove deletes vectors by ID.
	Remove(ctx context.Context, ids []string) error

	// AllIDs returns all vector IDs in the store (for consistency checks).
	AllIDs() []string

	// Contains checks if an ID exists.
	Contains(id string) bool

	// Count returns the number of vectors.
	Count() int

	Close() error
}

// StateStore persists chunk metadata, per-document index state, and
// process-wide key-value state. It is the engine's source of truth for
// what has been applied to both indexes; replay of ingestion events is
// idempotent against it.
type StateStore interface {
	// SaveChunks upserts chunk rows. Called only after both indexes have
	// confirmed the corresponding writes.
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	GetChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error)
	DeleteChunks(ctx context.Context, ids []string) error

	// GetDocument returns the document's state, or nil if never ingested.
	GetDocument(ctx context.Context, documentID string) (*DocumentState, error)
	SaveDocument(ctx context.Context, doc *DocumentState) error
	ListDocuments(ctx context.Context) ([]*DocumentState, error)

	// TotalChunkCount returns the number of chunk rows across documents.
	TotalChunkCount(ctx context.Context) (int, error)

	// State operations (key-value store for index-wide settings).
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// ErrDimensionMismatch indicates a vector's length differs from the
// index's configured dimension. Fatal: not retried.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (reindex with the current embedder)", e.Expected, e.Got)
}
