// Package index owns the write path: applying document versions to the
// lexical and vector indexes as one logical transaction per version,
// diffing against what is already applied so unchanged chunks are
// never re-embedded.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/reqsift/reqsift/internal/embed"
	rserrors "github.com/reqsift/reqsift/internal/errors"
	"github.com/reqsift/reqsift/internal/store"
)

// DefaultEmbedBatch is how many added chunks are embedded and applied
// per round trip. Each batch commits independently, so a mid-ingest
// failure loses at most one batch of progress.
const DefaultEmbedBatch = 32

// Indexer applies document versions to both indexes. It exclusively
// owns write access; the read path only ever sees states the indexer
// has committed.
//
// Consistency model: chunk rows in the state store are written only
// after both indexes confirm the corresponding writes, and the
// document's version advances only after every chunk of that version
// is applied. A retry of a failed ingest therefore resumes from the
// recorded rows instead of duplicating work. Cross-index consistency
// is eventual, not atomic: during the two writes a query may see a
// chunk in one index only, never for longer than that window.
type Indexer struct {
	lexical  store.LexicalIndex
	vector   store.VectorStore
	embedder embed.Embedder
	state    store.StateStore
	logger   *slog.Logger

	batchSize int

	// Per-document locks serialize version application per document
	// while unrelated documents ingest in parallel.
	mu       sync.Mutex
	docLocks map[string]*sync.Mutex
}

// NewIndexer wires the write path.
func NewIndexer(
	lexical store.LexicalIndex,
	vector store.VectorStore,
	embedder embed.Embedder,
	state store.StateStore,
	logger *slog.Logger,
) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		lexical:   lexical,
		vector:    vector,
		embedder:  embedder,
		state:     state,
		logger:    logger,
		batchSize: DefaultEmbedBatch,
		docLocks:  make(map[string]*sync.Mutex),
	}
}

func (ix *Indexer) lockDocument(documentID string) func() {
	ix.mu.Lock()
	lock, ok := ix.docLocks[documentID]
	if !ok {
		lock = &sync.Mutex{}
		ix.docLocks[documentID] = lock
	}
	ix.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// Ingest applies a document version to both indexes.
//
// The chunk-level diff against the applied version skips unchanged
// chunks entirely: no re-embedding, no re-posting. A version lower
// than or equal to the applied one is a logged no-op, protecting
// against out-of-order delivery. Failure partway leaves the document
// in "indexing" with the completed chunks recorded; re-running the
// same call is idempotent and resumes where it stopped.
func (ix *Indexer) Ingest(ctx context.Context, dv *store.DocumentVersion) error {
	if dv == nil || dv.DocumentID == "" {
		return rserrors.New(rserrors.ErrCodeInvalidVersion, "document version has no document ID", nil)
	}
	if dv.Version <= 0 {
		return rserrors.New(rserrors.ErrCodeInvalidVersion,
			fmt.Sprintf("document %s: version must be positive, got %d", dv.DocumentID, dv.Version), nil)
	}

	unlock := ix.lockDocument(dv.DocumentID)
	defer unlock()

	current, err := ix.state.GetDocument(ctx, dv.DocumentID)
	if err != nil {
		return err
	}
	if skip, reason := ix.shouldSkip(current, dv.Version); skip {
		ix.logger.Info("ingest_skipped",
			"document_id", dv.DocumentID,
			"version", dv.Version,
			"reason", reason)
		return nil
	}

	chunks, err := ix.normalizeChunks(dv)
	if err != nil {
		return err
	}
	if err := ix.checkIndexIdentity(ctx); err != nil {
		return err
	}

	existing, err := ix.state.GetChunksByDocument(ctx, dv.DocumentID)
	if err != nil {
		return err
	}
	added, removed, unchanged := diffChunks(existing, chunks)

	ix.logger.Info("ingest_start",
		"document_id", dv.DocumentID,
		"version", dv.Version,
		"added", len(added),
		"removed", len(removed),
		"unchanged", unchanged)

	if err := ix.state.SaveDocument(ctx, &store.DocumentState{
		DocumentID: dv.DocumentID,
		Version:    dv.Version,
		Status:     store.StatusIndexing,
		ChunkCount: len(existing),
		UpdatedAt:  time.Now().UTC(),
	}); err != nil {
		return err
	}

	if err := ix.applyAdded(ctx, added); err != nil {
		return rserrors.New(rserrors.ErrCodePartialIngest,
			fmt.Sprintf("document %s version %d partially applied, retry to resume", dv.DocumentID, dv.Version), err)
	}
	if err := ix.applyRemoved(ctx, removed); err != nil {
		return rserrors.New(rserrors.ErrCodePartialIngest,
			fmt.Sprintf("document %s version %d partially applied, retry to resume", dv.DocumentID, dv.Version), err)
	}

	if err := ix.state.SaveDocument(ctx, &store.DocumentState{
		DocumentID: dv.DocumentID,
		Version:    dv.Version,
		Status:     store.StatusIndexed,
		ChunkCount: len(chunks),
		UpdatedAt:  time.Now().UTC(),
	}); err != nil {
		return err
	}

	ix.logger.Info("ingest_complete",
		"document_id", dv.DocumentID,
		"version", dv.Version,
		"chunk_count", len(chunks))
	return nil
}

// shouldSkip applies the out-of-order protection: versions at or below
// the applied one are no-ops. An equal version still in "indexing" is
// a resume, not a duplicate.
func (ix *Indexer) shouldSkip(current *store.DocumentState, version int64) (bool, string) {
	if current == nil {
		return false, ""
	}
	if version < current.Version {
		return true, "version_below_applied"
	}
	if version == current.Version && current.Status != store.StatusIndexing {
		return true, "version_already_applied"
	}
	return false, ""
}

// normalizeChunks fills derived chunk fields and validates the set.
func (ix *Indexer) normalizeChunks(dv *store.DocumentVersion) ([]*store.Chunk, error) {
	seen := make(map[string]struct{}, len(dv.Chunks))
	chunks := make([]*store.Chunk, 0, len(dv.Chunks))
	for i, c := range dv.Chunks {
		if c == nil || c.Text == "" {
			return nil, rserrors.New(rserrors.ErrCodeInvalidChunk,
				fmt.Sprintf("document %s: chunk %d has no text", dv.DocumentID, i), nil)
		}
		c.DocumentID = dv.DocumentID
		c.Seq = i
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		c.Normalize()
		if _, dup := seen[c.ID]; dup {
			// Identical text repeated in one version collapses to one
			// retrievable chunk.
			continue
		}
		seen[c.ID] = struct{}{}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// checkIndexIdentity pins the index to one embedding model and
// dimension. The first ingest records them; later ingests with a
// different embedder fail fatally rather than mixing vector spaces.
func (ix *Indexer) checkIndexIdentity(ctx context.Context) error {
	wantDim := ix.embedder.Dimensions()
	wantModel := ix.embedder.ModelID()

	dim, err := ix.state.GetState(ctx, store.StateKeyIndexDimension)
	if err != nil {
		return err
	}
	if dim == "" {
		if err := ix.state.SetState(ctx, store.StateKeyIndexDimension, strconv.Itoa(wantDim)); err != nil {
			return err
		}
		return ix.state.SetState(ctx, store.StateKeyIndexModel, wantModel)
	}

	haveDim, err := strconv.Atoi(dim)
	if err != nil {
		return rserrors.New(rserrors.ErrCodeCorruptIndex,
			fmt.Sprintf("stored index dimension %q is not a number", dim), err)
	}
	if haveDim != wantDim {
		return rserrors.New(rserrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index built with dimension %d, embedder produces %d (reindex required)", haveDim, wantDim),
			&store.ErrDimensionMismatch{Expected: haveDim, Got: wantDim})
	}
	model, err := ix.state.GetState(ctx, store.StateKeyIndexModel)
	if err != nil {
		return err
	}
	if model != "" && model != wantModel {
		return rserrors.New(rserrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index built with model %s, embedder is %s (reindex required)", model, wantModel), nil)
	}
	return nil
}

// applyAdded embeds and applies added chunks batch-wise. Within a
// batch the order is vector upsert, lexical upsert, then chunk rows:
// the state store reflects only writes both indexes confirmed.
func (ix *Indexer) applyAdded(ctx context.Context, added []*store.Chunk) error {
	for start := 0; start < len(added); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(added) {
			end = len(added)
		}
		batch := added[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			// Apply whatever the partial batch produced before
			// surfacing the failure; the retry then has less to do.
			var batchErr *embed.BatchError
			if errors.As(err, &batchErr) && len(vectors) == len(batch) {
				if applyErr := ix.applyEmbedded(ctx, batch, vectors); applyErr != nil {
					return applyErr
				}
			}
			return err
		}
		if err := ix.applyEmbedded(ctx, batch, vectors); err != nil {
			return err
		}
	}
	return nil
}

// applyEmbedded writes chunks with non-nil vectors to both indexes and
// then records their rows.
func (ix *Indexer) applyEmbedded(ctx context.Context, batch []*store.Chunk, vectors [][]float32) error {
	ids := make([]string, 0, len(batch))
	vecs := make([][]float32, 0, len(batch))
	chunks := make([]*store.Chunk, 0, len(batch))
	for i, c := range batch {
		if i >= len(vectors) || vectors[i] == nil {
			continue
		}
		ids = append(ids, c.ID)
		vecs = append(vecs, vectors[i])
		chunks = append(chunks, c)
	}
	if len(chunks) == 0 {
		return nil
	}

	if err := ix.vector.Upsert(ctx, ids, vecs); err != nil {
		return err
	}
	if err := ix.lexical.Upsert(ctx, chunks); err != nil {
		return err
	}
	return ix.state.SaveChunks(ctx, chunks)
}

// applyRemoved deletes chunks from both indexes, then their rows.
func (ix *Indexer) applyRemoved(ctx context.Context, removed []string) error {
	if len(removed) == 0 {
		return nil
	}
	if err := ix.vector.Remove(ctx, removed); err != nil {
		return err
	}
	if err := ix.lexical.Remove(ctx, removed); err != nil {
		return err
	}
	return ix.state.DeleteChunks(ctx, removed)
}

// diffChunks splits the new chunk set against the applied rows.
// Content-addressed IDs make this a set diff: an unchanged text keeps
// its ID and is skipped.
func diffChunks(existing, next []*store.Chunk) (added []*store.Chunk, removed []string, unchanged int) {
	existingIDs := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		existingIDs[c.ID] = struct{}{}
	}
	nextIDs := make(map[string]struct{}, len(next))
	for _, c := range next {
		nextIDs[c.ID] = struct{}{}
		if _, ok := existingIDs[c.ID]; ok {
			unchanged++
		} else {
			added = append(added, c)
		}
	}
	for _, c := range existing {
		if _, ok := nextIDs[c.ID]; !ok {
			removed = append(removed, c.ID)
		}
	}
	return added, removed, unchanged
}

// Tombstone deletes a document: all its chunks leave both indexes and
// the state store, and the document is marked tombstoned at its
// current version.
func (ix *Indexer) Tombstone(ctx context.Context, documentID string) error {
	unlock := ix.lockDocument(documentID)
	defer unlock()

	current, err := ix.state.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}

	chunks, err := ix.state.GetChunksByDocument(ctx, documentID)
	if err != nil {
		return err
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := ix.applyRemoved(ctx, ids); err != nil {
		return rserrors.New(rserrors.ErrCodePartialIngest,
			fmt.Sprintf("document %s tombstone partially applied, retry to resume", documentID), err)
	}

	current.Status = store.StatusTombstoned
	current.ChunkCount = 0
	current.UpdatedAt = time.Now().UTC()
	if err := ix.state.SaveDocument(ctx, current); err != nil {
		return err
	}
	ix.logger.Info("document_tombstoned", "document_id", documentID, "removed", len(ids))
	return nil
}

// Reindex forces a full re-ingest of the document's current chunk set,
// bypassing the diff: every chunk is re-embedded and re-upserted into
// both indexes. Used after an embedder change or suspected index
// corruption.
func (ix *Indexer) Reindex(ctx context.Context, documentID string) error {
	unlock := ix.lockDocument(documentID)
	defer unlock()

	current, err := ix.state.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if current == nil || current.Status == store.StatusTombstoned {
		return rserrors.New(rserrors.ErrCodeInvalidVersion,
			fmt.Sprintf("document %s has no indexed version to rebuild", documentID), nil)
	}

	chunks, err := ix.state.GetChunksByDocument(ctx, documentID)
	if err != nil {
		return err
	}
	ix.logger.Info("reindex_start", "document_id", documentID, "chunk_count", len(chunks))

	if err := ix.applyAdded(ctx, chunks); err != nil {
		return rserrors.New(rserrors.ErrCodePartialIngest,
			fmt.Sprintf("document %s reindex partially applied, retry to resume", documentID), err)
	}

	current.UpdatedAt = time.Now().UTC()
	current.Status = store.StatusIndexed
	if err := ix.state.SaveDocument(ctx, current); err != nil {
		return err
	}
	ix.logger.Info("reindex_complete", "document_id", documentID, "chunk_count", len(chunks))
	return nil
}

// State returns the document's index state: applied version, status,
// and chunk count. Nil when the document was never ingested.
func (ix *Indexer) State(ctx context.Context, documentID string) (*store.DocumentState, error) {
	return ix.state.GetDocument(ctx, documentID)
}

// TotalChunks returns the number of chunks recorded across documents.
func (ix *Indexer) TotalChunks(ctx context.Context) (int, error) {
	return ix.state.TotalChunkCount(ctx)
}
