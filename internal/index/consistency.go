package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/reqsift/reqsift/internal/store"
)

// InconsistencyType categorizes detected cross-index issues.
type InconsistencyType int

const (
	// InconsistencyOrphanLexical is a posting without a chunk row.
	InconsistencyOrphanLexical InconsistencyType = iota
	// InconsistencyOrphanVector is a vector without a chunk row.
	InconsistencyOrphanVector
	// InconsistencyMissingLexical is a chunk row missing its postings.
	InconsistencyMissingLexical
	// InconsistencyMissingVector is a chunk row missing its vector.
	InconsistencyMissingVector
)

func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanLexical:
		return "orphan_lexical"
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingLexical:
		return "missing_lexical"
	case InconsistencyMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected cross-index issue.
type Inconsistency struct {
	Type    InconsistencyType
	ChunkID string
}

// CheckResult is the outcome of a consistency check.
type CheckResult struct {
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// ConsistencyChecker compares the three stores. Chunk rows in the
// state store are the source of truth: they are written only after
// both indexes confirm, so anything the indexes hold beyond them is an
// orphan (a crash between index write and row write), and anything
// they lack is damage worth rebuilding.
type ConsistencyChecker struct {
	state   store.StateStore
	lexical store.LexicalIndex
	vector  store.VectorStore
	logger  *slog.Logger
}

// NewConsistencyChecker creates a checker over the given stores.
func NewConsistencyChecker(state store.StateStore, lexical store.LexicalIndex, vector store.VectorStore, logger *slog.Logger) *ConsistencyChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsistencyChecker{state: state, lexical: lexical, vector: vector, logger: logger}
}

// Check scans all three stores and reports every orphaned and missing
// chunk ID. O(n) in total entries.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()

	recorded, err := c.recordedChunkIDs(ctx)
	if err != nil {
		return nil, err
	}

	lexicalIDs, err := c.lexical.AllIDs()
	if err != nil {
		c.logger.Warn("consistency_lexical_ids_failed", "error", err)
	}
	vectorIDs := c.vector.AllIDs()

	var issues []Inconsistency
	lexicalSet := make(map[string]struct{}, len(lexicalIDs))
	for _, id := range lexicalIDs {
		lexicalSet[id] = struct{}{}
		if _, ok := recorded[id]; !ok {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphanLexical, ChunkID: id})
		}
	}
	vectorSet := make(map[string]struct{}, len(vectorIDs))
	for _, id := range vectorIDs {
		vectorSet[id] = struct{}{}
		if _, ok := recorded[id]; !ok {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphanVector, ChunkID: id})
		}
	}
	for id := range recorded {
		if _, ok := lexicalSet[id]; !ok {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingLexical, ChunkID: id})
		}
		if _, ok := vectorSet[id]; !ok {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingVector, ChunkID: id})
		}
	}

	return &CheckResult{
		Checked:         len(recorded),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair deletes orphaned index entries (best-effort). Missing entries
// are only reported; fixing them means re-embedding, which is the
// per-document Reindex operation's job.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) error {
	var orphanLexical, orphanVector []string
	missingDocs := 0
	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanLexical:
			orphanLexical = append(orphanLexical, issue.ChunkID)
		case InconsistencyOrphanVector:
			orphanVector = append(orphanVector, issue.ChunkID)
		case InconsistencyMissingLexical, InconsistencyMissingVector:
			missingDocs++
		}
	}

	if len(orphanLexical) > 0 {
		if err := c.lexical.Remove(ctx, orphanLexical); err != nil {
			c.logger.Warn("orphan_lexical_delete_failed", "count", len(orphanLexical), "error", err)
		} else {
			c.logger.Info("orphan_lexical_deleted", "count", len(orphanLexical))
		}
	}
	if len(orphanVector) > 0 {
		if err := c.vector.Remove(ctx, orphanVector); err != nil {
			c.logger.Warn("orphan_vector_delete_failed", "count", len(orphanVector), "error", err)
		} else {
			c.logger.Info("orphan_vector_deleted", "count", len(orphanVector))
		}
	}
	if missingDocs > 0 {
		c.logger.Warn("index_missing_entries", "count", missingDocs, "hint", "reindex affected documents")
	}
	return nil
}

// QuickCheck compares only entry counts across the stores.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	recordedCount, err := c.state.TotalChunkCount(ctx)
	if err != nil {
		return false, err
	}

	lexicalCount := 0
	if stats := c.lexical.Stats(); stats != nil {
		lexicalCount = stats.ChunkCount
	}
	vectorCount := c.vector.Count()

	consistent := recordedCount == lexicalCount && recordedCount == vectorCount
	if !consistent {
		c.logger.Debug("index_count_mismatch",
			"recorded", recordedCount,
			"lexical", lexicalCount,
			"vector", vectorCount)
	}
	return consistent, nil
}

func (c *ConsistencyChecker) recordedChunkIDs(ctx context.Context) (map[string]struct{}, error) {
	docs, err := c.state.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	recorded := make(map[string]struct{})
	for _, doc := range docs {
		chunks, err := c.state.GetChunksByDocument(ctx, doc.DocumentID)
		if err != nil {
			return nil, err
		}
		for _, ch := range chunks {
			recorded[ch.ID] = struct{}{}
		}
	}
	return recorded, nil
}
