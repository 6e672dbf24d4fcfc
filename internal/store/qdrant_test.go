package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkPointIDMapsToUUIDLayout(t *testing.T) {
	// Given: a content-addressed 32-hex chunk ID
	id := ChunkID("doc-1", HashText("some chunk text"))
	require.Len(t, id, 32)

	pid, err := chunkPointID(id)

	require.NoError(t, err)
	uuid := pid.GetUuid()
	require.Len(t, uuid, 36)
	// Dashes at the canonical 8-4-4-4-12 positions, hex preserved in
	// order.
	for _, pos := range []int{8, 13, 18, 23} {
		assert.Equal(t, byte('-'), uuid[pos])
	}
	stripped := uuid[0:8] + uuid[9:13] + uuid[14:18] + uuid[19:23] + uuid[24:36]
	assert.Equal(t, id, stripped)
}

func TestChunkPointIDDeterministic(t *testing.T) {
	id := ChunkID("doc-1", HashText("same text"))

	first, err := chunkPointID(id)
	require.NoError(t, err)
	second, err := chunkPointID(id)
	require.NoError(t, err)

	assert.Equal(t, first.GetUuid(), second.GetUuid())
}

func TestChunkPointIDRejectsNonCanonicalIDs(t *testing.T) {
	for _, id := range []string{"", "short", "feed-assigned-id", ChunkID("d", HashText("t")) + "00"} {
		_, err := chunkPointID(id)
		assert.Error(t, err, "id %q", id)
	}
}

func TestScoreToDistance(t *testing.T) {
	// Cosine: similarity 1 is distance 0, orthogonal is 1, opposite
	// is 2, matching the embedded backend's range.
	assert.InDelta(t, 0.0, scoreToDistance(1.0, "cos"), 1e-6)
	assert.InDelta(t, 1.0, scoreToDistance(0.0, "cos"), 1e-6)
	assert.InDelta(t, 2.0, scoreToDistance(-1.0, "cos"), 1e-6)

	// Euclid: inverse of the 1/(1+d) score normalization.
	assert.InDelta(t, 0.0, scoreToDistance(1.0, "l2"), 1e-6)
	assert.InDelta(t, 1.0, scoreToDistance(0.5, "l2"), 1e-6)
	assert.InDelta(t, 0.0, scoreToDistance(0.0, "l2"), 1e-6)
	assert.InDelta(t, 0.0, scoreToDistance(-0.5, "l2"), 1e-6)
}

func TestDefaultQdrantConfig(t *testing.T) {
	cfg := DefaultQdrantConfig(1536)

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, "reqsift_chunks", cfg.Collection)
	assert.Equal(t, 1536, cfg.Dimensions)
	assert.Equal(t, "cos", cfg.Metric)
}
