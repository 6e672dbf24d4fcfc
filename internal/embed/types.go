// Package embed turns chunk text into fixed-dimension vectors. The
// Gateway wraps a backend (OpenAI or the offline static embedder) with
// batching, retry, and caching policy; everything downstream sees only
// the Embedder interface.
package embed

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory
	// exhaustion and oversized API requests).
	MaxBatchSize = 256

	// DefaultBatchSize is the default sub-batch size for embedding
	// requests.
	DefaultBatchSize = 32

	// DefaultMaxAttempts bounds retries of a transient failure before
	// the gateway gives up with EmbeddingUnavailable.
	DefaultMaxAttempts = 5

	// DefaultTimeout is the per-request timeout for embedding calls.
	DefaultTimeout = 60 * time.Second
)

// Embedder generates embeddings for text. All vectors from one
// embedder share Dimensions() and ModelID(); the vector index rejects
// anything else.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts,
	// order-preserving: result[i] corresponds to texts[i].
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelID identifies the embedding model.
	ModelID() string

	Close() error
}

// BatchError reports a partially failed batch: vectors for indices not
// listed in FailedIndices were produced, so a caller can retry only
// the failed texts.
type BatchError struct {
	FailedIndices []int
	Cause         error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding failed for %d of the batch's texts: %v", len(e.FailedIndices), e.Cause)
}

func (e *BatchError) Unwrap() error {
	return e.Cause
}

// transientError marks a failure worth retrying (rate limit, timeout,
// transport). Backends wrap such failures with Transient; the gateway
// retries them with backoff and treats everything else as permanent.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable for the gateway's backoff policy.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked retryable by a backend.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
