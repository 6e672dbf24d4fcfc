package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStateStore(t *testing.T) *SQLiteStateStore {
	t.Helper()
	s, err := NewSQLiteStateStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStateStoreChunkRoundTrip(t *testing.T) {
	s := newTestStateStore(t)
	ctx := context.Background()

	chunk := &Chunk{
		ID:         "c1",
		DocumentID: "doc-1",
		Seq:        0,
		Text:       "the cat sat",
		TokenCount: 3,
		Metadata:   map[string]string{"source": "feed"},
	}
	chunk.Normalize()
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{chunk}))

	got, err := s.GetChunk(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "doc-1", got.DocumentID)
	assert.Equal(t, "the cat sat", got.Text)
	assert.Equal(t, map[string]string{"source": "feed"}, got.Metadata)
	assert.Equal(t, chunk.ContentHash, got.ContentHash)

	missing, err := s.GetChunk(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStateStoreGetChunks_PreservesRequestOrder(t *testing.T) {
	s := newTestStateStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		{ID: "c1", DocumentID: "d", Seq: 0, Text: "one", ContentHash: HashText("one")},
		{ID: "c2", DocumentID: "d", Seq: 1, Text: "two", ContentHash: HashText("two")},
		{ID: "c3", DocumentID: "d", Seq: 2, Text: "three", ContentHash: HashText("three")},
	}))

	got, err := s.GetChunks(ctx, []string{"c3", "missing", "c1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c3", got[0].ID)
	assert.Equal(t, "c1", got[1].ID)
}

func TestStateStoreGetChunksByDocument_OrderedBySeq(t *testing.T) {
	s := newTestStateStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		{ID: "c2", DocumentID: "d", Seq: 1, Text: "two", ContentHash: HashText("two")},
		{ID: "c1", DocumentID: "d", Seq: 0, Text: "one", ContentHash: HashText("one")},
		{ID: "x1", DocumentID: "other", Seq: 0, Text: "x", ContentHash: HashText("x")},
	}))

	got, err := s.GetChunksByDocument(ctx, "d")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, "c2", got[1].ID)

	total, err := s.TotalChunkCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestStateStoreSaveChunks_UpsertIsIdempotent(t *testing.T) {
	s := newTestStateStore(t)
	ctx := context.Background()

	chunk := &Chunk{ID: "c1", DocumentID: "d", Seq: 0, Text: "one", ContentHash: HashText("one")}
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{chunk}))
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{chunk}))

	total, err := s.TotalChunkCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestStateStoreDeleteChunks(t *testing.T) {
	s := newTestStateStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		{ID: "c1", DocumentID: "d", Seq: 0, Text: "one", ContentHash: HashText("one")},
		{ID: "c2", DocumentID: "d", Seq: 1, Text: "two", ContentHash: HashText("two")},
	}))
	require.NoError(t, s.DeleteChunks(ctx, []string{"c1", "absent"}))

	got, err := s.GetChunk(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, got)
	total, err := s.TotalChunkCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestStateStoreDocumentLifecycle(t *testing.T) {
	s := newTestStateStore(t)
	ctx := context.Background()

	// Never-ingested documents are nil, not an error.
	doc, err := s.GetDocument(ctx, "d")
	require.NoError(t, err)
	assert.Nil(t, doc)

	require.NoError(t, s.SaveDocument(ctx, &DocumentState{
		DocumentID: "d",
		Version:    1,
		Status:     StatusIndexing,
		ChunkCount: 0,
		UpdatedAt:  time.Now().UTC(),
	}))
	require.NoError(t, s.SaveDocument(ctx, &DocumentState{
		DocumentID: "d",
		Version:    1,
		Status:     StatusIndexed,
		ChunkCount: 2,
		UpdatedAt:  time.Now().UTC(),
	}))

	doc, err = s.GetDocument(ctx, "d")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, int64(1), doc.Version)
	assert.Equal(t, StatusIndexed, doc.Status)
	assert.Equal(t, 2, doc.ChunkCount)

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestStateStoreKeyValueState(t *testing.T) {
	s := newTestStateStore(t)
	ctx := context.Background()

	val, err := s.GetState(ctx, StateKeyIndexDimension)
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, s.SetState(ctx, StateKeyIndexDimension, "768"))
	require.NoError(t, s.SetState(ctx, StateKeyIndexDimension, "1536"))

	val, err = s.GetState(ctx, StateKeyIndexDimension)
	require.NoError(t, err)
	assert.Equal(t, "1536", val)
}
