package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"

	rserrors "github.com/reqsift/reqsift/internal/errors"
)

// QdrantConfig configures the networked vector backend.
type QdrantConfig struct {
	Host       string
	Port       int
	Collection string

	// Vector geometry, shared with VectorConfig semantics.
	Dimensions int
	Metric     string // "cos" or "l2"
}

// DefaultQdrantConfig returns settings for a local Qdrant instance.
func DefaultQdrantConfig(dimensions int) QdrantConfig {
	return QdrantConfig{
		Host:       "localhost",
		Port:       6334,
		Collection: "reqsift_chunks",
		Dimensions: dimensions,
		Metric:     "cos",
	}
}

// QdrantStore is a VectorStore backed by a remote Qdrant instance over
// gRPC. It is the networked alternative to the embedded HNSWStore:
// same interface, same chunk-ID keyed points, but durability and
// scaling are delegated to the server.
//
// Chunk IDs are 32 hex characters, which map one-to-one onto Qdrant's
// UUID point IDs by inserting dashes.
type QdrantStore struct {
	mu     sync.RWMutex
	client *qdrant.Client
	config QdrantConfig
	closed bool
}

var _ VectorStore = (*QdrantStore)(nil)

// NewQdrantStore connects to Qdrant, verifies it is reachable, and
// ensures the target collection exists with the configured geometry.
// Connection failures surface as ErrBackendUnavailable so callers can
// degrade to lexical-only retrieval.
func NewQdrantStore(ctx context.Context, config QdrantConfig) (*QdrantStore, error) {
	if config.Dimensions <= 0 {
		return nil, fmt.Errorf("qdrant store: dimensions must be positive, got %d", config.Dimensions)
	}
	if config.Collection == "" {
		config.Collection = "reqsift_chunks"
	}
	if config.Metric == "" {
		config.Metric = "cos"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: config.Host,
		Port: config.Port,
	})
	if err != nil {
		return nil, rserrors.Wrap(rserrors.ErrCodeBackendUnavailable, err)
	}

	s := &QdrantStore{
		client: client,
		config: config,
	}

	if err := s.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, rserrors.Wrap(rserrors.ErrCodeBackendUnavailable, err)
	}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

// healthCheckWithRetry probes Qdrant with exponential backoff: initial
// 500ms, capped at 10s, giving up after 30s elapsed.
func (s *QdrantStore) healthCheckWithRetry(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		result, err := s.client.HealthCheck(ctx)
		if err != nil {
			return err
		}
		if result == nil || result.Title == "" {
			return fmt.Errorf("health check returned invalid response")
		}
		return nil
	}
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}

// ensureCollection creates the collection if it does not exist.
// Idempotent. If the collection exists its geometry is trusted; a
// dimension mismatch will surface on the first upsert.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return rserrors.Wrap(rserrors.ErrCodeBackendUnavailable, err)
	}
	for _, name := range collections {
		if name == s.config.Collection {
			return nil
		}
	}

	distance := qdrant.Distance_Cosine
	if s.config.Metric == "l2" {
		distance = qdrant.Distance_Euclid
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.Dimensions),
			Distance: distance,
		}),
	})
	if err != nil {
		return rserrors.Wrap(rserrors.ErrCodeBackendUnavailable, err)
	}
	return nil
}

// Upsert writes vectors keyed by chunk ID. The whole batch is
// validated before anything is sent, so a dimension mismatch leaves
// the collection untouched.
func (s *QdrantStore) Upsert(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("qdrant store: %d ids but %d vectors", len(ids), len(vectors))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("qdrant store: closed")
	}

	points := make([]*qdrant.PointStruct, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != s.config.Dimensions {
			return &ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vectors[i])}
		}
		pid, err := chunkPointID(id)
		if err != nil {
			return err
		}
		points[i] = &qdrant.PointStruct{
			Id:      pid,
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{"chunk_id": id}),
		}
	}

	return s.upsertWithRetry(ctx, points)
}

// upsertWithRetry retries transient write failures with exponential
// backoff before giving up with ErrBackendUnavailable.
func (s *QdrantStore) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         points,
		})
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return rserrors.Wrap(rserrors.ErrCodeBackendUnavailable, err)
	}
	return nil
}

// Query returns the k nearest neighbors by the collection's distance
// metric. Qdrant returns a similarity score for cosine collections; it
// is passed through and the distance reconstructed for parity with the
// embedded backend.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, k int) ([]*VectorResult, error) {
	if len(vector) != s.config.Dimensions {
		return nil, &ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vector)}
	}
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("qdrant store: closed")
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayloadInclude("chunk_id"),
	})
	if err != nil {
		return nil, rserrors.Wrap(rserrors.ErrCodeBackendUnavailable, err)
	}

	out := make([]*VectorResult, 0, len(results))
	for _, r := range results {
		id := r.Payload["chunk_id"].GetStringValue()
		if id == "" {
			id = strings.ReplaceAll(r.Id.GetUuid(), "-", "")
		}
		score := r.Score
		if score < 0 {
			score = 0
		}
		out = append(out, &VectorResult{
			ID:       id,
			Distance: scoreToDistance(score, s.config.Metric),
			Score:    score,
		})
	}
	return out, nil
}

// Remove deletes points by chunk ID. Deleting an absent ID is a no-op
// on the server side.
func (s *QdrantStore) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("qdrant store: closed")
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pid, err := chunkPointID(id)
		if err != nil {
			return err
		}
		pointIDs = append(pointIDs, pid)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.config.Collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return rserrors.Wrap(rserrors.ErrCodeBackendUnavailable, err)
	}
	return nil
}

// AllIDs pages through the collection with the Scroll API and returns
// every chunk ID, sorted. Used by consistency checks; a transport
// failure yields an empty slice rather than an error, matching the
// best-effort contract of the interface.
func (s *QdrantStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}

	ctx := context.Background()
	var ids []string
	var offset *qdrant.PointId
	batchSize := uint32(256)

	for {
		results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.config.Collection,
			Limit:          qdrant.PtrOf(batchSize),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude("chunk_id"),
		})
		if err != nil {
			return nil
		}
		for _, r := range results {
			if id := r.Payload["chunk_id"].GetStringValue(); id != "" {
				ids = append(ids, id)
			}
		}
		if uint32(len(results)) < batchSize {
			break
		}
		offset = results[len(results)-1].Id
	}

	sort.Strings(ids)
	return ids
}

// Contains reports whether a chunk ID has a point in the collection.
func (s *QdrantStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	pid, err := chunkPointID(id)
	if err != nil {
		return false
	}
	results, err := s.client.Get(context.Background(), &qdrant.GetPoints{
		CollectionName: s.config.Collection,
		Ids:            []*qdrant.PointId{pid},
	})
	return err == nil && len(results) > 0
}

// Count returns the server-side point count, or 0 if unreachable.
func (s *QdrantStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	info, err := s.client.GetCollectionInfo(context.Background(), s.config.Collection)
	if err != nil {
		return 0
	}
	return int(info.GetPointsCount())
}

// Close releases the gRPC connection. The remote collection is left
// intact.
func (s *QdrantStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// chunkPointID maps a 32-hex-character chunk ID onto a Qdrant UUID
// point ID by inserting dashes in the canonical 8-4-4-4-12 layout.
func chunkPointID(id string) (*qdrant.PointId, error) {
	if len(id) != 32 {
		return nil, fmt.Errorf("qdrant store: chunk ID %q is not 32 hex characters", id)
	}
	uuid := id[0:8] + "-" + id[8:12] + "-" + id[12:16] + "-" + id[16:20] + "-" + id[20:32]
	return qdrant.NewIDUUID(uuid), nil
}

// scoreToDistance reconstructs a distance from Qdrant's similarity
// score so both vector backends report comparable results.
func scoreToDistance(score float32, metric string) float32 {
	if metric == "cos" {
		// Qdrant cosine score is similarity in [-1,1]; the embedded
		// backend reports cosine distance in [0,2].
		return 1 - score
	}
	if score <= 0 {
		return 0
	}
	return 1/score - 1
}
