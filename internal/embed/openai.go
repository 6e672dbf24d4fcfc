package embed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/openai/openai-go"
)

const (
	// DefaultOpenAIModel is the embedding model used when none is
	// configured.
	DefaultOpenAIModel = "text-embedding-3-small"

	// DefaultOpenAIDimensions is the vector dimension of
	// text-embedding-3-small.
	DefaultOpenAIDimensions = 1536
)

// OpenAIConfig configures the OpenAI embedding backend.
type OpenAIConfig struct {
	Model      string
	Dimensions int
}

// DefaultOpenAIConfig returns the text-embedding-3-small defaults.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:      DefaultOpenAIModel,
		Dimensions: DefaultOpenAIDimensions,
	}
}

// OpenAIEmbedder generates embeddings through the OpenAI API. Rate
// limits, server errors, and transport failures are marked Transient
// so the Gateway retries them; everything else (bad request, auth) is
// permanent.
type OpenAIEmbedder struct {
	mu     sync.RWMutex
	client openai.Client
	config OpenAIConfig
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an OpenAI-backed embedder. The API key is
// read from OPENAI_API_KEY by the client; a missing key fails here
// rather than on the first request.
func NewOpenAIEmbedder(config OpenAIConfig) (*OpenAIEmbedder, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	if config.Model == "" {
		config.Model = DefaultOpenAIModel
	}
	if config.Dimensions <= 0 {
		config.Dimensions = DefaultOpenAIDimensions
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(),
		config: config,
	}, nil
}

// Embed generates the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds all texts in one API request, order-preserving.
// The caller (the Gateway) is responsible for bounding batch size.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("openai embedder: closed")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: openai.EmbeddingModel(e.config.Model),
	})
	if err != nil {
		if isTransientAPIError(err) {
			return nil, Transient(err)
		}
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vec := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v)
		}
		if len(vec) != e.config.Dimensions {
			return nil, fmt.Errorf("openai embedder: model returned %d dimensions, expected %d", len(vec), e.config.Dimensions)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.config.Dimensions }

func (e *OpenAIEmbedder) ModelID() string { return e.config.Model }

func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// isTransientAPIError reports whether the failure is worth retrying:
// rate limit (429), server errors (5xx), request timeout (408), or a
// network-level failure before any HTTP status was produced.
func isTransientAPIError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return true
		case apiErr.StatusCode == 408:
			return true
		case apiErr.StatusCode >= 500:
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
