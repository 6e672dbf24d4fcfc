package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"

	rserrors "github.com/reqsift/reqsift/internal/errors"
)

// DefaultEmbeddingCacheSize is the default number of embeddings kept
// in memory. At 1536 dimensions * 4 bytes * 1000 entries this is
// about 6MB.
const DefaultEmbeddingCacheSize = 1000

// CachedEmbedder wraps an Embedder with an LRU cache keyed by
// (text, model). Repeated queries and re-ingested unchanged chunks hit
// the cache instead of the API.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with a cache holding cacheSize
// embeddings.
func NewCachedEmbedder(inner Embedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{inner: inner, cache: cache}
}

// cacheKey hashes text together with the model ID, so switching models
// never serves stale vectors.
func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.inner.ModelID()))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached embedding if present, otherwise computes
// and caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch checks the cache per text and embeds only the misses in
// one inner batch, preserving input order. A partial inner failure is
// re-indexed into the caller's coordinates before being returned.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	missIndices := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))
	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
			continue
		}
		missIndices = append(missIndices, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	vectors, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		var batchErr *BatchError
		if errors.As(err, &batchErr) && len(vectors) == len(missTexts) {
			failed := make([]int, 0, len(batchErr.FailedIndices))
			for _, mi := range batchErr.FailedIndices {
				failed = append(failed, missIndices[mi])
			}
			for mi, vec := range vectors {
				if vec == nil {
					continue
				}
				results[missIndices[mi]] = vec
				c.cache.Add(c.cacheKey(missTexts[mi]), vec)
			}
			remapped := &BatchError{FailedIndices: failed, Cause: batchErr.Cause}
			return results, rserrors.New(rserrors.ErrCodeEmbeddingUnavailable, remapped.Error(), remapped)
		}
		return nil, err
	}

	for mi, vec := range vectors {
		results[missIndices[mi]] = vec
		c.cache.Add(c.cacheKey(missTexts[mi]), vec)
	}
	return results, nil
}

func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

func (c *CachedEmbedder) ModelID() string { return c.inner.ModelID() }

// Close closes the wrapped embedder. Cached vectors are discarded.
func (c *CachedEmbedder) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}
