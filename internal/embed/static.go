package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync"
)

const (
	// StaticDimensions is the embedding dimension for the static
	// embedder.
	StaticDimensions = 256

	// StaticModelID identifies static-embedder vectors; the vector
	// index refuses to mix them with API-produced ones.
	StaticModelID = "static-hash-v1"

	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var staticTokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// StaticEmbedder generates embeddings by hashing tokens and character
// n-grams into a fixed-size vector. No network, no model download:
// deterministic output with reduced semantic quality, intended for
// tests and offline operation.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a new static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed generates the embedding for a single text. Empty or
// whitespace-only input yields the zero vector.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("static embedder: closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}

	vector := make([]float32, StaticDimensions)

	for _, token := range staticTokenRegex.FindAllString(strings.ToLower(trimmed), -1) {
		vector[hashToIndex(token)] += tokenWeight
	}

	compact := strings.Join(strings.Fields(strings.ToLower(trimmed)), " ")
	for i := 0; i+ngramSize <= len(compact); i++ {
		vector[hashToIndex(compact[i:i+ngramSize])] += ngramWeight
	}

	normalizeUnit(vector)
	return vector, nil
}

// EmbedBatch embeds each text in order.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

func (e *StaticEmbedder) Dimensions() int { return StaticDimensions }

func (e *StaticEmbedder) ModelID() string { return StaticModelID }

func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func hashToIndex(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(StaticDimensions))
}

func normalizeUnit(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}
