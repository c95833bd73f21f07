package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStorage implements Storage on a single SQLite database file.
// Chunks live in the chunks table; the keyword index is either an FTS5 table
// in the same database, maintained by triggers, or a Bleve index beside it;
// vectors are loaded into an in-memory VectorIndex at Initialize.
type SQLiteStorage struct {
	mu          sync.RWMutex
	config      Config
	db          *sql.DB
	keyword     KeywordIndex
	vector      VectorIndex
	initialized bool
	closed      bool

	// Exactly one is set, matching keyword.
	fts       *FTS5KeywordIndex
	documents DocumentIndex
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage creates an SQLite storage. Nothing is opened until Initialize.
func NewSQLiteStorage(cfg Config) *SQLiteStorage {
	if cfg.KeywordIndex == "" {
		cfg.KeywordIndex = KeywordIndexFTS5
	}
	if cfg.VectorIndex == "" {
		cfg.VectorIndex = VectorIndexScan
	}
	return &SQLiteStorage{config: cfg}
}

// Initialize opens the database, creates the schema and loads the indexes.
// Calling it again on an initialized storage is a no-op.
func (s *SQLiteStorage) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.initialized {
		return nil
	}

	db, err := openSQLite(s.config.Path)
	if err != nil {
		return err
	}
	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	keyword, err := s.newKeywordIndex(ctx, db)
	if err != nil {
		_ = db.Close()
		return err
	}

	var vector VectorIndex
	switch s.config.VectorIndex {
	case VectorIndexScan:
		vector = NewScanVectorIndex()
	case VectorIndexHNSW:
		vector = NewHNSWVectorIndex(s.config.Dimensions)
	default:
		_ = keyword.Close()
		_ = db.Close()
		return fmt.Errorf("unknown vector index: %s", s.config.VectorIndex)
	}

	s.db, s.keyword, s.vector = db, keyword, vector
	switch k := keyword.(type) {
	case *FTS5KeywordIndex:
		s.fts = k
	case DocumentIndex:
		s.documents = k
	}
	if err := s.loadIndexes(ctx); err != nil {
		_ = keyword.Close()
		_ = vector.Close()
		_ = db.Close()
		s.db, s.keyword, s.vector, s.fts, s.documents = nil, nil, nil, nil, nil
		return err
	}

	s.initialized = true
	slog.Debug("storage_initialized",
		slog.String("type", TypeSQLite),
		slog.String("path", s.config.Path),
		slog.String("keyword_index", s.config.KeywordIndex),
		slog.String("vector_index", s.config.VectorIndex),
		slog.Int("vectors", vector.Count()))
	return nil
}

func openSQLite(path string) (*sql.DB, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; also keeps an in-memory database alive on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	return db, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		seq        INTEGER PRIMARY KEY,
		id         TEXT NOT NULL UNIQUE,
		path       TEXT NOT NULL,
		content    TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		end_line   INTEGER NOT NULL,
		metadata   TEXT,
		embedding  BLOB,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStorage) newKeywordIndex(ctx context.Context, db *sql.DB) (KeywordIndex, error) {
	switch s.config.KeywordIndex {
	case KeywordIndexFTS5:
		return NewFTS5KeywordIndex(ctx, db)
	case KeywordIndexBleve:
		path := ""
		if s.config.Path != "" {
			path = s.config.Path + ".bleve"
		}
		return NewBleveKeywordIndex(path)
	default:
		return nil, fmt.Errorf("unknown keyword index: %s", s.config.KeywordIndex)
	}
}

// loadIndexes fills the vector index from stored embeddings and brings the
// keyword index in line with the chunks table. FTS5 is checked for integrity;
// a Bleve index is rebuilt when its document count disagrees.
func (s *SQLiteStorage) loadIndexes(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, embedding FROM chunks`)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}
	defer rows.Close()

	var (
		ids     []string
		vectors [][]float32
		docs    []*Document
	)
	for rows.Next() {
		var id, content string
		var blob []byte
		if err := rows.Scan(&id, &content, &blob); err != nil {
			return fmt.Errorf("failed to scan chunk: %w", err)
		}
		docs = append(docs, &Document{ID: id, Content: content})
		if len(blob) > 0 {
			ids = append(ids, id)
			vectors = append(vectors, decodeEmbedding(blob))
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if err := s.vector.Add(ctx, ids, vectors); err != nil {
		return fmt.Errorf("failed to load vectors: %w", err)
	}

	if s.fts != nil {
		return s.fts.Verify(ctx)
	}

	n, err := s.documents.Count(ctx)
	if err != nil {
		return err
	}
	if n != len(docs) {
		slog.Info("keyword_index_rebuild",
			slog.Int("indexed", n),
			slog.Int("chunks", len(docs)))
		if err := s.documents.Clear(ctx); err != nil {
			return err
		}
		if err := s.documents.Index(ctx, docs); err != nil {
			return fmt.Errorf("failed to rebuild keyword index: %w", err)
		}
	}
	return nil
}

// ready must be called with s.mu held.
func (s *SQLiteStorage) ready() error {
	if s.closed {
		return ErrClosed
	}
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

// AddChunk inserts or replaces a single chunk.
func (s *SQLiteStorage) AddChunk(ctx context.Context, chunk *Chunk) error {
	return s.AddChunks(ctx, []*Chunk{chunk})
}

// AddChunks inserts or replaces chunks in one transaction and updates the
// indexes. A Bleve index is written before the commit, so a keyword failure
// leaves the chunks table unchanged.
func (s *SQLiteStorage) AddChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	if err := s.checkDimensions(chunks); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, path, content, start_line, end_line, metadata, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			content = excluded.content,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	docs := make([]*Document, 0, len(chunks))
	var vecIDs, unembedded []string
	var vectors [][]float32
	for _, c := range chunks {
		meta, err := encodeMetadata(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", c.ID, err)
		}
		var blob []byte
		if len(c.Embedding) > 0 {
			blob = encodeEmbedding(c.Embedding)
			vecIDs = append(vecIDs, c.ID)
			vectors = append(vectors, c.Embedding)
		} else {
			unembedded = append(unembedded, c.ID)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.Path, c.Content, c.StartLine, c.EndLine, meta, blob, now.UnixMilli()); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
		docs = append(docs, &Document{ID: c.ID, Content: c.Content})
	}
	if s.documents != nil {
		if err := s.documents.Index(ctx, docs); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}

	if err := s.vector.Delete(ctx, unembedded); err != nil {
		return err
	}
	return s.vector.Add(ctx, vecIDs, vectors)
}

func (s *SQLiteStorage) checkDimensions(chunks []*Chunk) error {
	for _, c := range chunks {
		if len(c.Embedding) > 0 && s.config.Dimensions > 0 && len(c.Embedding) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(c.Embedding)}
		}
	}
	return nil
}

// UpdateChunk replaces an existing chunk.
func (s *SQLiteStorage) UpdateChunk(ctx context.Context, chunk *Chunk) error {
	if _, err := s.GetChunk(ctx, chunk.ID); err != nil {
		return err
	}
	return s.AddChunks(ctx, []*Chunk{chunk})
}

// DeleteChunk removes a chunk. Deleting a missing chunk is not an error.
func (s *SQLiteStorage) DeleteChunk(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete chunk %s: %w", id, err)
	}
	return s.dropFromIndexes(ctx, []string{id})
}

// DeleteChunksByPath removes every chunk of a document.
func (s *SQLiteStorage) DeleteChunksByPath(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}

	ids, err := s.idsByPath(ctx, path)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to delete chunks for %s: %w", path, err)
	}
	return s.dropFromIndexes(ctx, ids)
}

func (s *SQLiteStorage) idsByPath(ctx context.Context, path string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks WHERE path = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStorage) dropFromIndexes(ctx context.Context, ids []string) error {
	if s.documents != nil {
		if err := s.documents.Delete(ctx, ids); err != nil {
			return err
		}
	}
	return s.vector.Delete(ctx, ids)
}

// SearchByVector returns chunks by descending cosine similarity, at or above MinScore.
func (s *SQLiteStorage) SearchByVector(ctx context.Context, vector []float32, opts VectorSearchOptions) ([]*ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, err
	}

	hits, err := s.vector.Search(ctx, vector, searchLimit(opts.Limit))
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	ids := make([]string, 0, len(hits))
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		if h.Score < opts.MinScore {
			continue
		}
		ids = append(ids, h.ID)
		scores[h.ID] = h.Score
	}
	return s.scoredChunks(ctx, ids, scores)
}

// SearchByKeyword returns chunks by descending keyword relevance.
func (s *SQLiteStorage) SearchByKeyword(ctx context.Context, query string, opts KeywordSearchOptions) ([]*ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, err
	}

	hits, err := s.keyword.Search(ctx, query, searchLimit(opts.Limit))
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(hits))
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
		scores[h.ID] = h.Score
	}
	return s.scoredChunks(ctx, ids, scores)
}

// scoredChunks loads chunks for ids, preserving the order of ids.
func (s *SQLiteStorage) scoredChunks(ctx context.Context, ids []string, scores map[string]float64) ([]*ScoredChunk, error) {
	if len(ids) == 0 {
		return []*ScoredChunk{}, nil
	}

	query, args := inClause(`SELECT `+chunkColumns+` FROM chunks WHERE id IN (%s)`, ids)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]*ScoredChunk, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			continue
		}
		results = append(results, &ScoredChunk{Chunk: c, Score: scores[id]})
	}
	return results, nil
}

// GetChunk returns a chunk by ID, or ErrChunkNotFound.
func (s *SQLiteStorage) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, id)
	}
	return c, err
}

// GetChunksByPath returns a document's chunks ordered by start line.
func (s *SQLiteStorage) GetChunksByPath(ctx context.Context, path string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE path = ? ORDER BY start_line`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetStats returns distinct document and chunk counts.
func (s *SQLiteStorage) GetStats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return Stats{}, err
	}

	var stats Stats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT path), COUNT(*) FROM chunks`).
		Scan(&stats.Files, &stats.Chunks)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	return stats, nil
}

// Paths lists indexed document paths.
func (s *SQLiteStorage) Paths(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT path FROM chunks ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to query paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Clear removes every chunk and empties the indexes.
func (s *SQLiteStorage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	if s.documents != nil {
		if err := s.documents.Clear(ctx); err != nil {
			return err
		}
	}
	return s.vector.Clear()
}

// Close releases the database and indexes. Closing twice is a no-op.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if !s.initialized {
		return nil
	}

	return errors.Join(s.keyword.Close(), s.vector.Close(), s.db.Close())
}

const chunkColumns = `id, path, content, start_line, end_line, metadata, embedding, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var (
		c         Chunk
		meta      sql.NullString
		blob      []byte
		updatedAt int64
	)
	if err := row.Scan(&c.ID, &c.Path, &c.Content, &c.StartLine, &c.EndLine, &meta, &blob, &updatedAt); err != nil {
		return nil, err
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", c.ID, err)
		}
	}
	if len(blob) > 0 {
		c.Embedding = decodeEmbedding(blob)
	}
	c.UpdatedAt = time.UnixMilli(updatedAt)
	return &c, nil
}

func encodeMetadata(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// encodeEmbedding packs a vector as little-endian float32.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

