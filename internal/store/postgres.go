package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// DefaultPostgresDimensions is the vector column size when none is configured.
const DefaultPostgresDimensions = 1536

// DB is the subset of pgxpool.Pool used by PostgresStorage.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStorage implements Storage on PostgreSQL with the pgvector extension.
// Vector search uses cosine distance over an ivfflat index; keyword search
// ranks a generated English tsvector column with ts_rank.
type PostgresStorage struct {
	mu          sync.RWMutex
	db          DB
	connString  string
	dims        int
	tableName   string
	table       string // sanitized identifier
	initialized bool
	closed      bool
}

var _ Storage = (*PostgresStorage)(nil)

// NewPostgresStorage creates a storage that connects on Initialize.
func NewPostgresStorage(cfg Config) *PostgresStorage {
	s := newPostgresStorage(cfg)
	s.connString = cfg.ConnectionString
	return s
}

// NewPostgresStorageWithDB creates a storage over an existing connection pool.
func NewPostgresStorageWithDB(db DB, cfg Config) *PostgresStorage {
	s := newPostgresStorage(cfg)
	s.db = db
	return s
}

func newPostgresStorage(cfg Config) *PostgresStorage {
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultPostgresDimensions
	}
	name := cfg.TablePrefix + "hybridsearch_chunks"
	return &PostgresStorage{
		dims:      dims,
		tableName: name,
		table:     pgx.Identifier{name}.Sanitize(),
	}
}

// Initialize connects (if needed) and ensures the extension, table and indexes exist.
func (p *PostgresStorage) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.initialized {
		return nil
	}

	if p.db == nil {
		pool, err := pgxpool.New(ctx, p.connString)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		p.db = pool
	}

	if err := p.ensureSchema(ctx); err != nil {
		return err
	}
	p.initialized = true
	slog.Debug("storage_initialized",
		slog.String("type", TypePostgres),
		slog.String("table", p.tableName),
		slog.Int("dimensions", p.dims))
	return nil
}

func (p *PostgresStorage) ensureSchema(ctx context.Context) error {
	ident := func(suffix string) string {
		return pgx.Identifier{p.tableName + suffix}.Sanitize()
	}
	statements := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			content TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			metadata JSONB,
			embedding vector(%d),
			updated_at BIGINT NOT NULL,
			fts tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
		)`, p.table, p.dims),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (path)", ident("_path_idx"), p.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)",
			ident("_embedding_idx"), p.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (fts)", ident("_fts_idx"), p.table),
	}
	for _, stmt := range statements {
		if _, err := p.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	return nil
}

func (p *PostgresStorage) ready() error {
	if p.closed {
		return ErrClosed
	}
	if !p.initialized {
		return ErrNotInitialized
	}
	return nil
}

// AddChunk inserts or replaces a single chunk.
func (p *PostgresStorage) AddChunk(ctx context.Context, chunk *Chunk) error {
	return p.AddChunks(ctx, []*Chunk{chunk})
}

// AddChunks upserts chunks in one transaction.
func (p *PostgresStorage) AddChunks(ctx context.Context, chunks []*Chunk) (err error) {
	if len(chunks) == 0 {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.ready(); err != nil {
		return err
	}

	tx, txErr := p.db.Begin(ctx)
	if txErr != nil {
		return fmt.Errorf("postgres: begin tx: %w", txErr)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("postgres: rollback failed: %w; original error: %v", rbErr, err)
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("postgres: commit: %w", commitErr)
		}
	}()

	stmt := fmt.Sprintf(`INSERT INTO %s (id, path, content, start_line, end_line, metadata, embedding, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    path = excluded.path,
    content = excluded.content,
    start_line = excluded.start_line,
    end_line = excluded.end_line,
    metadata = excluded.metadata,
    embedding = excluded.embedding,
    updated_at = excluded.updated_at`, p.table)

	now := time.Now().UnixMilli()
	for _, c := range chunks {
		var embedding any
		if len(c.Embedding) > 0 {
			if len(c.Embedding) != p.dims {
				return ErrDimensionMismatch{Expected: p.dims, Got: len(c.Embedding)}
			}
			embedding = pgvector.NewVector(c.Embedding)
		}
		meta, marshalErr := json.Marshal(c.Metadata)
		if marshalErr != nil {
			return fmt.Errorf("postgres: marshal metadata for %q: %w", c.ID, marshalErr)
		}
		if _, execErr := tx.Exec(ctx, stmt, c.ID, c.Path, c.Content, c.StartLine, c.EndLine, meta, embedding, now); execErr != nil {
			return fmt.Errorf("postgres: upsert %q: %w", c.ID, execErr)
		}
	}
	return nil
}

// UpdateChunk replaces an existing chunk.
func (p *PostgresStorage) UpdateChunk(ctx context.Context, chunk *Chunk) error {
	if _, err := p.GetChunk(ctx, chunk.ID); err != nil {
		return err
	}
	return p.AddChunks(ctx, []*Chunk{chunk})
}

// DeleteChunk removes a chunk. Deleting a missing chunk is not an error.
func (p *PostgresStorage) DeleteChunk(ctx context.Context, id string) error {
	return p.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", p.table), id)
}

// DeleteChunksByPath removes every chunk of a document.
func (p *PostgresStorage) DeleteChunksByPath(ctx context.Context, path string) error {
	return p.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE path = $1", p.table), path)
}

// Clear removes every chunk.
func (p *PostgresStorage) Clear(ctx context.Context) error {
	return p.exec(ctx, fmt.Sprintf("DELETE FROM %s", p.table))
}

func (p *PostgresStorage) exec(ctx context.Context, sql string, args ...any) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.ready(); err != nil {
		return err
	}
	if _, err := p.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

// SearchByVector returns chunks by descending cosine similarity, at or above MinScore.
func (p *PostgresStorage) SearchByVector(ctx context.Context, vector []float32, opts VectorSearchOptions) ([]*ScoredChunk, error) {
	if len(vector) != p.dims {
		return nil, ErrDimensionMismatch{Expected: p.dims, Got: len(vector)}
	}
	query := fmt.Sprintf(`SELECT id, path, content, start_line, end_line, metadata, 1 - (embedding <=> $1) AS score
FROM %s
WHERE embedding IS NOT NULL AND 1 - (embedding <=> $1) >= $2
ORDER BY embedding <=> $1 ASC
LIMIT $3`, p.table)
	return p.searchRows(ctx, query, pgvector.NewVector(vector), opts.MinScore, searchLimit(opts.Limit))
}

// SearchByKeyword returns chunks matching every query term, ranked by ts_rank.
func (p *PostgresStorage) SearchByKeyword(ctx context.Context, query string, opts KeywordSearchOptions) ([]*ScoredChunk, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return []*ScoredChunk{}, nil
	}
	sql := fmt.Sprintf(`SELECT id, path, content, start_line, end_line, metadata, ts_rank(fts, q) AS score
FROM %s, to_tsquery('english', $1) q
WHERE fts @@ q
ORDER BY score DESC
LIMIT $2`, p.table)
	return p.searchRows(ctx, sql, strings.Join(terms, " & "), searchLimit(opts.Limit))
}

func (p *PostgresStorage) searchRows(ctx context.Context, sql string, args ...any) ([]*ScoredChunk, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.ready(); err != nil {
		return nil, err
	}

	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search: %w", err)
	}
	defer rows.Close()

	results := make([]*ScoredChunk, 0)
	for rows.Next() {
		var (
			c     Chunk
			meta  []byte
			score float64
		)
		if err := rows.Scan(&c.ID, &c.Path, &c.Content, &c.StartLine, &c.EndLine, &meta, &score); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		if err := decodeJSONMetadata(meta, &c); err != nil {
			return nil, err
		}
		results = append(results, &ScoredChunk{Chunk: &c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: search rows: %w", err)
	}
	return results, nil
}

const pgChunkColumns = `id, path, content, start_line, end_line, metadata, COALESCE(embedding::text, ''), updated_at`

// GetChunk returns a chunk by ID, or ErrChunkNotFound.
func (p *PostgresStorage) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	chunks, err := p.queryChunks(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", pgChunkColumns, p.table), id)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, id)
	}
	return chunks[0], nil
}

// GetChunksByPath returns a document's chunks ordered by start line.
func (p *PostgresStorage) GetChunksByPath(ctx context.Context, path string) ([]*Chunk, error) {
	return p.queryChunks(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE path = $1 ORDER BY start_line", pgChunkColumns, p.table), path)
}

func (p *PostgresStorage) queryChunks(ctx context.Context, sql string, args ...any) ([]*Chunk, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.ready(); err != nil {
		return nil, err
	}

	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		var (
			c         Chunk
			meta      []byte
			embedding string
			updatedAt int64
		)
		if err := rows.Scan(&c.ID, &c.Path, &c.Content, &c.StartLine, &c.EndLine, &meta, &embedding, &updatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		if err := decodeJSONMetadata(meta, &c); err != nil {
			return nil, err
		}
		if c.Embedding, err = parseVectorText(embedding); err != nil {
			return nil, fmt.Errorf("postgres: decode embedding for %q: %w", c.ID, err)
		}
		c.UpdatedAt = time.UnixMilli(updatedAt)
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// GetStats returns distinct document and chunk counts.
func (p *PostgresStorage) GetStats(ctx context.Context) (Stats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.ready(); err != nil {
		return Stats{}, err
	}

	var stats Stats
	err := p.db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(DISTINCT path), COUNT(*) FROM %s", p.table)).
		Scan(&stats.Files, &stats.Chunks)
	if err != nil {
		return Stats{}, fmt.Errorf("postgres: stats: %w", err)
	}
	return stats, nil
}

// Paths lists indexed document paths.
func (p *PostgresStorage) Paths(ctx context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.ready(); err != nil {
		return nil, err
	}

	rows, err := p.db.Query(ctx, fmt.Sprintf("SELECT DISTINCT path FROM %s ORDER BY path", p.table))
	if err != nil {
		return nil, fmt.Errorf("postgres: paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// Close closes the connection pool.
func (p *PostgresStorage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.db != nil {
		p.db.Close()
	}
	return nil
}

func decodeJSONMetadata(raw []byte, c *Chunk) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, &c.Metadata); err != nil {
		return fmt.Errorf("postgres: decode metadata for %q: %w", c.ID, err)
	}
	return nil
}

// parseVectorText parses pgvector's text form "[1,2,3]".
func parseVectorText(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if s == "" {
		return []float32{}, nil
	}
	parts := strings.Split(s, ",")
	v := make([]float32, len(parts))
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, err
		}
		v[i] = float32(f)
	}
	return v, nil
}
