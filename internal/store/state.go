package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	rserrors "github.com/reqsift/reqsift/internal/errors"
)

// SQLiteStateStore implements StateStore on a single SQLite database
// file. WAL mode allows the search path to read chunk metadata while
// an ingestion transaction is in flight.
type SQLiteStateStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

var _ StateStore = (*SQLiteStateStore)(nil)

// NewSQLiteStateStore opens (or creates) the state database at path
// and runs schema migrations. Use ":memory:" for tests.
func NewSQLiteStateStore(path string) (*SQLiteStateStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, rserrors.Wrap(rserrors.ErrCodeStateStore, err)
	}

	// WAL mode must be set via PRAGMA for modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, rserrors.Wrap(rserrors.ErrCodeStateStore, fmt.Errorf("%s: %w", pragma, err))
		}
	}

	if err := initStateSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStateStore{db: db}, nil
}

func initStateSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		document_id TEXT PRIMARY KEY,
		version     INTEGER NOT NULL,
		status      TEXT NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		updated_at  TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id     TEXT PRIMARY KEY,
		document_id  TEXT NOT NULL,
		seq          INTEGER NOT NULL,
		text         TEXT NOT NULL,
		token_count  INTEGER NOT NULL DEFAULT 0,
		metadata     TEXT,
		content_hash TEXT NOT NULL,
		created_at   TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, seq);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return rserrors.Wrap(rserrors.ErrCodeStateStore, fmt.Errorf("create schema: %w", err))
	}
	return nil
}

// SaveChunks upserts chunk rows in one transaction. Re-saving an
// existing chunk ID overwrites the row, which keeps ingestion replay
// idempotent.
func (s *SQLiteStateStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("state store: closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rserrors.Wrap(rserrors.ErrCodeStateStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, document_id, seq, text, token_count, metadata, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			document_id = excluded.document_id,
			seq = excluded.seq,
			text = excluded.text,
			token_count = excluded.token_count,
			metadata = excluded.metadata,
			content_hash = excluded.content_hash
	`)
	if err != nil {
		return rserrors.Wrap(rserrors.ErrCodeStateStore, err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		meta, err := encodeMetadata(c.Metadata)
		if err != nil {
			return rserrors.Wrap(rserrors.ErrCodeStateStore, err)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Seq, c.Text, c.TokenCount, meta, c.ContentHash, createdAt); err != nil {
			return rserrors.Wrap(rserrors.ErrCodeStateStore, fmt.Errorf("upsert chunk %s: %w", c.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return rserrors.Wrap(rserrors.ErrCodeStateStore, err)
	}
	return nil
}

// GetChunk returns a chunk by ID, or nil if absent.
func (s *SQLiteStateStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("state store: closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT chunk_id, document_id, seq, text, token_count, metadata, content_hash, created_at
		FROM chunks WHERE chunk_id = ?
	`, id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, rserrors.Wrap(rserrors.ErrCodeStateStore, err)
	}
	return c, nil
}

// GetChunks returns the chunks for the given IDs, preserving the
// requested order. Missing IDs are skipped.
func (s *SQLiteStateStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("state store: closed")
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT chunk_id, document_id, seq, text, token_count, metadata, content_hash, created_at
		FROM chunks WHERE chunk_id IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, rserrors.Wrap(rserrors.ErrCodeStateStore, err)
	}
	defer rows.Close()

	byID := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, rserrors.Wrap(rserrors.ErrCodeStateStore, err)
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, rserrors.Wrap(rserrors.ErrCodeStateStore, err)
	}

	out := make([]*Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetChunksByDocument returns a document's chunks ordered by sequence.
func (s *SQLiteStateStore) GetChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("state store: closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, document_id, seq, text, token_count, metadata, content_hash, created_at
		FROM chunks WHERE document_id = ? ORDER BY seq
	`, documentID)
	if err != nil {
		return nil, rserrors.Wrap(rserrors.ErrCodeStateStore, err)
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, rserrors.Wrap(rserrors.ErrCodeStateStore, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteChunks removes chunk rows by ID. Absent IDs are ignored.
func (s *SQLiteStateStore) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("state store: closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rserrors.Wrap(rserrors.ErrCodeStateStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM chunks WHERE chunk_id = ?`)
	if err != nil {
		return rserrors.Wrap(rserrors.ErrCodeStateStore, err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return rserrors.Wrap(rserrors.ErrCodeStateStore, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return rserrors.Wrap(rserrors.ErrCodeStateStore, err)
	}
	return nil
}

// GetDocument returns the document's indexing state, or nil if the
// document has never been ingested.
func (s *SQLiteStateStore) GetDocument(ctx context.Context, documentID string) (*DocumentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("state store: closed")
	}

	var d DocumentState
	err := s.db.QueryRowContext(ctx, `
		SELECT document_id, version, status, chunk_count, updated_at
		FROM documents WHERE document_id = ?
	`, documentID).Scan(&d.DocumentID, &d.Version, &d.Status, &d.ChunkCount, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, rserrors.Wrap(rserrors.ErrCodeStateStore, err)
	}
	return &d, nil
}

// SaveDocument upserts the document's state row.
func (s *SQLiteStateStore) SaveDocument(ctx context.Context, doc *DocumentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("state store: closed")
	}

	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (document_id, version, status, chunk_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			version = excluded.version,
			status = excluded.status,
			chunk_count = excluded.chunk_count,
			updated_at = excluded.updated_at
	`, doc.DocumentID, doc.Version, doc.Status, doc.ChunkCount, updatedAt)
	if err != nil {
		return rserrors.Wrap(rserrors.ErrCodeStateStore, err)
	}
	return nil
}

// ListDocuments returns all document states ordered by document ID.
func (s *SQLiteStateStore) ListDocuments(ctx context.Context) ([]*DocumentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("state store: closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, version, status, chunk_count, updated_at
		FROM documents ORDER BY document_id
	`)
	if err != nil {
		return nil, rserrors.Wrap(rserrors.ErrCodeStateStore, err)
	}
	defer rows.Close()

	var out []*DocumentState
	for rows.Next() {
		var d DocumentState
		if err := rows.Scan(&d.DocumentID, &d.Version, &d.Status, &d.ChunkCount, &d.UpdatedAt); err != nil {
			return nil, rserrors.Wrap(rserrors.ErrCodeStateStore, err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// TotalChunkCount returns the number of chunk rows across documents.
func (s *SQLiteStateStore) TotalChunkCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("state store: closed")
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, rserrors.Wrap(rserrors.ErrCodeStateStore, err)
	}
	return n, nil
}

// GetState returns the value for key, or "" if unset.
func (s *SQLiteStateStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", fmt.Errorf("state store: closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", rserrors.Wrap(rserrors.ErrCodeStateStore, err)
	}
	return value, nil
}

// SetState upserts a key-value state entry.
func (s *SQLiteStateStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("state store: closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return rserrors.Wrap(rserrors.ErrCodeStateStore, err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteStateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	var meta sql.NullString
	if err := row.Scan(&c.ID, &c.DocumentID, &c.Seq, &c.Text, &c.TokenCount, &meta, &c.ContentHash, &c.CreatedAt); err != nil {
		return nil, err
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for chunk %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
