// Package store persists chunks and answers vector and keyword sub-queries.
// Backends: SQLite (FTS5 or Bleve keyword index, scan or HNSW vector index)
// and PostgreSQL with pgvector.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Storage backend types.
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgresql"
)

// Metadata keys written by the indexer.
const (
	MetaTitle   = "title"
	MetaHeaders = "headers"
	MetaHash    = "hash"
)

var (
	// ErrChunkNotFound is returned when a chunk ID does not exist.
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrClosed is returned by operations on a closed storage.
	ErrClosed = errors.New("storage is closed")

	// ErrNotInitialized is returned when Initialize has not been called.
	ErrNotInitialized = errors.New("storage is not initialized")
)

// Chunk is the persisted form of a document span.
type Chunk struct {
	ID        string
	Path      string
	Content   string
	StartLine int // 1-indexed
	EndLine   int // Inclusive
	Metadata  map[string]any
	Embedding []float32 // nil when not embedded
	UpdatedAt time.Time
}

// ScoredChunk is a chunk returned by a sub-query with its backend-native score.
type ScoredChunk struct {
	*Chunk
	Score float64
}

// VectorSearchOptions bounds a vector sub-query.
type VectorSearchOptions struct {
	Limit    int
	MinScore float64
}

// KeywordSearchOptions bounds a keyword sub-query.
type KeywordSearchOptions struct {
	Limit int
}

// Stats reports index size.
type Stats struct {
	Files  int
	Chunks int
}

// DefaultSearchLimit applies when a sub-query limit is not positive.
const DefaultSearchLimit = 10

// Storage persists chunks and serves vector and keyword candidate lists.
// Implementations are safe for concurrent use.
type Storage interface {
	Initialize(ctx context.Context) error
	Close() error

	AddChunk(ctx context.Context, chunk *Chunk) error
	AddChunks(ctx context.Context, chunks []*Chunk) error
	// UpdateChunk replaces an existing chunk; ErrChunkNotFound if absent.
	UpdateChunk(ctx context.Context, chunk *Chunk) error
	DeleteChunk(ctx context.Context, id string) error
	DeleteChunksByPath(ctx context.Context, path string) error

	// SearchByVector returns chunks ordered by descending similarity.
	SearchByVector(ctx context.Context, vector []float32, opts VectorSearchOptions) ([]*ScoredChunk, error)
	// SearchByKeyword returns chunks ordered by descending lexical relevance.
	SearchByKeyword(ctx context.Context, query string, opts KeywordSearchOptions) ([]*ScoredChunk, error)

	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunksByPath(ctx context.Context, path string) ([]*Chunk, error)
	GetStats(ctx context.Context) (Stats, error)
	// Paths lists every indexed document path in lexical order.
	Paths(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

// Config selects and configures a storage backend.
type Config struct {
	Type             string // sqlite | postgresql
	Path             string // sqlite database file; empty means in-memory
	ConnectionString string // postgresql DSN
	TablePrefix      string // postgresql table prefix
	Dimensions       int    // embedding dimensions; 0 infers from first vector (sqlite only)
	VectorIndex      string // sqlite: scan | hnsw
	KeywordIndex     string // sqlite: fts5 | bleve
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'hybridsearch index --force')", e.Expected, e.Got)
}

func searchLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	return limit
}
