package embed

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	rserrors "github.com/reqsift/reqsift/internal/errors"
)

// GatewayConfig configures batching and retry policy.
type GatewayConfig struct {
	// BatchSize is the maximum texts per backend request. Larger input
	// batches are split.
	BatchSize int

	// MaxAttempts bounds tries per sub-batch (first try included)
	// before the sub-batch fails with EmbeddingUnavailable.
	MaxAttempts int

	// InitialInterval is the first backoff delay; subsequent delays
	// grow exponentially with jitter up to MaxInterval.
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultGatewayConfig returns the standard retry policy.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		BatchSize:       DefaultBatchSize,
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Gateway is the embedding boundary used by both the write path (chunk
// vectors) and the read path (query vectors). It splits batches to the
// configured request size and retries transient backend failures with
// jittered exponential backoff; after MaxAttempts a sub-batch fails
// with EmbeddingUnavailable, and a BatchError reports exactly which
// input indices have no vector so the caller can retry only those.
type Gateway struct {
	backend Embedder
	config  GatewayConfig
	logger  *slog.Logger
}

var _ Embedder = (*Gateway)(nil)

// NewGateway wraps backend with the gateway's batching and retry
// policy.
func NewGateway(backend Embedder, config GatewayConfig, logger *slog.Logger) *Gateway {
	if config.BatchSize < MinBatchSize || config.BatchSize > MaxBatchSize {
		config.BatchSize = DefaultBatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = 500 * time.Millisecond
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{backend: backend, config: config, logger: logger}
}

// Embed generates the embedding for a single text with full retry
// policy applied.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts order-preserving. On partial failure the
// returned slice is full-length with nil at failed positions and the
// error is a BatchError wrapped in EmbeddingUnavailable; successful
// sub-batches are never discarded.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var failed []int
	var lastErr error

	for start := 0; start < len(texts); start += g.config.BatchSize {
		end := start + g.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		sub := texts[start:end]

		vectors, err := g.embedSubBatch(ctx, sub)
		if err != nil {
			g.logger.Warn("embed_batch_failed",
				"from", start,
				"to", end,
				"error", err)
			for i := start; i < end; i++ {
				failed = append(failed, i)
			}
			lastErr = err
			if ctx.Err() != nil {
				// Context is gone; remaining sub-batches cannot succeed.
				for i := end; i < len(texts); i++ {
					failed = append(failed, i)
				}
				break
			}
			continue
		}
		copy(results[start:end], vectors)
	}

	if len(failed) > 0 {
		batchErr := &BatchError{FailedIndices: failed, Cause: lastErr}
		return results, rserrors.New(rserrors.ErrCodeEmbeddingUnavailable, batchErr.Error(), batchErr)
	}
	return results, nil
}

// embedSubBatch tries one backend request with bounded retries.
// Transient failures back off and retry; anything else fails
// immediately.
func (g *Gateway) embedSubBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	attempt := 0

	operation := func() error {
		attempt++
		vecs, err := g.backend.EmbedBatch(ctx, texts)
		if err != nil {
			if IsTransient(err) {
				g.logger.Debug("embed_retry",
					"attempt", attempt,
					"batch_size", len(texts),
					"error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		vectors = vecs
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.config.InitialInterval
	bo.MaxInterval = g.config.MaxInterval
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(g.config.MaxAttempts-1)), ctx))
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func (g *Gateway) Dimensions() int { return g.backend.Dimensions() }

func (g *Gateway) ModelID() string { return g.backend.ModelID() }

func (g *Gateway) Close() error { return g.backend.Close() }
