package embed

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rserrors "github.com/reqsift/reqsift/internal/errors"
)

// countingEmbedder records every text it is asked to embed.
type countingEmbedder struct {
	mu       sync.Mutex
	inner    Embedder
	embedded []string
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{inner: NewStaticEmbedder()}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.embedded = append(c.embedded, text)
	c.mu.Unlock()
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.embedded = append(c.embedded, texts...)
	c.mu.Unlock()
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }
func (c *countingEmbedder) ModelID() string { return c.inner.ModelID() }
func (c *countingEmbedder) Close() error    { return c.inner.Close() }

func (c *countingEmbedder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.embedded)
}

func TestCachedEmbedder_RepeatedTextHitsCache(t *testing.T) {
	backend := newCountingEmbedder()
	cached := NewCachedEmbedder(backend, 10)
	ctx := context.Background()

	first, err := cached.Embed(ctx, "the cat sat")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "the cat sat")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, backend.count())
}

func TestCachedEmbedder_BatchEmbedsOnlyMisses(t *testing.T) {
	backend := newCountingEmbedder()
	cached := NewCachedEmbedder(backend, 10)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "warm")
	require.NoError(t, err)

	vectors, err := cached.EmbedBatch(ctx, []string{"cold one", "warm", "cold two"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for _, v := range vectors {
		assert.Len(t, v, StaticDimensions)
	}

	// Only the two misses reached the backend.
	assert.Equal(t, 3, backend.count())
	assert.Equal(t, []string{"warm", "cold one", "cold two"}, backend.embedded)
}

func TestCachedEmbedder_FullyCachedBatchSkipsBackend(t *testing.T) {
	backend := newCountingEmbedder()
	cached := NewCachedEmbedder(backend, 10)
	ctx := context.Background()

	_, err := cached.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	before := backend.count()

	_, err = cached.EmbedBatch(ctx, []string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, before, backend.count())
}

// partialBatchEmbedder fails a fixed set of texts the way the gateway
// does: full-length result slice with nil holes and a BatchError
// wrapped in the typed embedding error.
type partialBatchEmbedder struct {
	inner Embedder
	fail  map[string]bool
}

func (p *partialBatchEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.inner.Embed(ctx, text)
}

func (p *partialBatchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var failed []int
	for i, text := range texts {
		if p.fail[text] {
			failed = append(failed, i)
			continue
		}
		vec, err := p.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	if len(failed) > 0 {
		batchErr := &BatchError{FailedIndices: failed, Cause: errors.New("backend rejected texts")}
		return results, rserrors.New(rserrors.ErrCodeEmbeddingUnavailable, batchErr.Error(), batchErr)
	}
	return results, nil
}

func (p *partialBatchEmbedder) Dimensions() int { return p.inner.Dimensions() }
func (p *partialBatchEmbedder) ModelID() string { return p.inner.ModelID() }
func (p *partialBatchEmbedder) Close() error    { return p.inner.Close() }

func TestCachedEmbedder_PartialFailureKeepsTypedError(t *testing.T) {
	backend := &partialBatchEmbedder{
		inner: NewStaticEmbedder(),
		fail:  map[string]bool{"bad": true},
	}
	cached := NewCachedEmbedder(backend, 10)
	ctx := context.Background()

	// Given: one text already cached, so the miss positions differ from
	// the caller's positions
	_, err := cached.Embed(ctx, "warm")
	require.NoError(t, err)

	// When
	vectors, err := cached.EmbedBatch(ctx, []string{"warm", "bad", "ok"})

	// Then: the error keeps the embedding-unavailable code through the
	// cache layer, and the failed index is in the caller's coordinates
	require.Error(t, err)
	assert.Equal(t, rserrors.ErrCodeEmbeddingUnavailable, rserrors.GetCode(err))
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, []int{1}, batchErr.FailedIndices)

	require.Len(t, vectors, 3)
	assert.NotNil(t, vectors[0])
	assert.Nil(t, vectors[1])
	assert.NotNil(t, vectors[2])
}

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	v1, err := e.Embed(ctx, "retrieval engine")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "retrieval engine")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	other, err := e.Embed(ctx, "completely different text")
	require.NoError(t, err)
	assert.NotEqual(t, v1, other)
}

func TestStaticEmbedder_EmptyTextIsZeroVector(t *testing.T) {
	e := NewStaticEmbedder()
	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	require.Len(t, vec, StaticDimensions)
	for _, x := range vec {
		assert.Zero(t, x)
	}
}
