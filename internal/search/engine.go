package search

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/hybridsearch/internal/chunk"
	"github.com/Aman-CERP/hybridsearch/internal/embed"
	hserrors "github.com/Aman-CERP/hybridsearch/internal/errors"
	"github.com/Aman-CERP/hybridsearch/internal/index"
	"github.com/Aman-CERP/hybridsearch/internal/store"
)

// State is the engine lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EngineConfig is fixed for the lifetime of an Engine.
type EngineConfig struct {
	// RootDir is the directory of Markdown documents. Sync and ReadFile
	// never leave it.
	RootDir string

	Chunking chunk.Config
	Hybrid   HybridConfig
	Strategy Strategy
	RRFK     int // 0 means DefaultRRFConstant

	Index index.Config

	// Reported by Status.
	Provider    string
	StorageType string
}

// DefaultEngineConfig returns the defaults for root.
func DefaultEngineConfig(root string) EngineConfig {
	return EngineConfig{
		RootDir:     root,
		Chunking:    chunk.DefaultConfig(),
		Hybrid:      DefaultHybridConfig(),
		Strategy:    StrategyWeighted,
		RRFK:        DefaultRRFConstant,
		StorageType: store.TypeSQLite,
	}
}

// Status describes the index behind an engine.
type Status struct {
	Files       int    `json:"files"`
	Chunks      int    `json:"chunks"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	StorageType string `json:"storage_type"`
}

// ReadResult is a line window of a document.
type ReadResult struct {
	Path       string `json:"path"`
	Text       string `json:"text"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	TotalLines int    `json:"total_lines"`
}

// EngineOption configures the search engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	chunkOpts []chunk.Option
	indexOpts []index.Option
}

// WithChunkerOptions passes options to the engine's Markdown chunker.
func WithChunkerOptions(opts ...chunk.Option) EngineOption {
	return func(o *engineOptions) {
		o.chunkOpts = append(o.chunkOpts, opts...)
	}
}

// WithIndexerOptions passes options to the engine's indexer.
func WithIndexerOptions(opts ...index.Option) EngineOption {
	return func(o *engineOptions) {
		o.indexOpts = append(o.indexOpts, opts...)
	}
}

// Engine runs hybrid queries against a storage backend and keeps that
// backend in step with the documents under RootDir. The engine owns storage
// and embedder: Close closes both.
type Engine struct {
	config   EngineConfig
	storage  store.Storage
	embedder embed.Embedder
	chunker  *chunk.MarkdownChunker
	merger   *Merger
	indexer  *index.Indexer
	vector   *VectorSearcher
	keyword  *KeywordSearcher

	// Guards state only; queries run without it.
	mu    sync.Mutex
	state State
}

// NewEngine creates an engine. Storage is not touched until the first
// operation or an explicit Initialize.
func NewEngine(storage store.Storage, embedder embed.Embedder, cfg EngineConfig, opts ...EngineOption) (*Engine, error) {
	if storage == nil {
		return nil, fmt.Errorf("%w: storage is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if cfg.RootDir == "" {
		cfg.RootDir = "."
	}
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	cfg.RootDir = root
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyWeighted
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFConstant
	}
	cfg.Chunking = cfg.Chunking.WithDefaults()

	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	chunker := chunk.NewMarkdownChunker(cfg.Chunking, o.chunkOpts...)
	ix, err := index.New(root, chunker, embedder, storage, cfg.Index, o.indexOpts...)
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:   cfg,
		storage:  storage,
		embedder: embedder,
		chunker:  chunker,
		merger:   NewMergerWithK(cfg.Hybrid, cfg.RRFK),
		indexer:  ix,
		vector:   NewVectorSearcher(storage),
		keyword:  NewKeywordSearcher(storage),
	}, nil
}

// Initialize opens storage. Safe to call more than once.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateReady:
		return nil
	case StateClosed:
		return ErrClosed
	}

	e.state = StateInitializing
	if err := e.storage.Initialize(ctx); err != nil {
		e.state = StateUninitialized
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	e.state = StateReady
	slog.Debug("search_engine_ready",
		slog.String("root", e.config.RootDir),
		slog.String("storage", e.config.StorageType),
		slog.String("model", e.embedder.ModelName()))
	return nil
}

// ensureReady initializes on demand.
func (e *Engine) ensureReady(ctx context.Context) error {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	switch state {
	case StateReady:
		return nil
	case StateClosed:
		return ErrClosed
	}
	return e.Initialize(ctx)
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// Indexer returns the engine's indexer, for callers that drive incremental
// updates themselves (the file watcher).
func (e *Engine) Indexer() *index.Indexer {
	return e.indexer
}

// Search embeds query and runs the vector and keyword sub-queries in
// parallel, then fuses them with the configured strategy. If either step
// fails the search fails; there is no fallback to a single mode.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	start := time.Now()

	query, err := e.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	if opts.MaxResults <= 0 {
		return []Result{}, nil
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var vectorHits, keywordHits []Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		// Loosened floor: fusion weighting happens later.
		vectorHits, err = e.vector.Search(gctx, vec, Options{
			MaxResults: opts.MaxResults,
			MinScore:   opts.MinScore / 2,
		})
		return err
	})
	g.Go(func() error {
		var err error
		keywordHits, err = e.keyword.Search(gctx, query, opts.MaxResults)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := e.merger.Fuse(e.config.Strategy, vectorHits, keywordHits, opts)
	slog.Debug("search_completed",
		slog.String("mode", "hybrid"),
		slog.String("strategy", string(e.config.Strategy)),
		slog.Int("vector_hits", len(vectorHits)),
		slog.Int("keyword_hits", len(keywordHits)),
		slog.Int("results", len(results)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return results, nil
}

// SearchVector runs only the vector sub-query. Scores go through the merger
// with an empty keyword list so they stay comparable with Search.
func (e *Engine) SearchVector(ctx context.Context, query string, opts Options) ([]Result, error) {
	query, err := e.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	if opts.MaxResults <= 0 {
		return []Result{}, nil
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	hits, err := e.vector.Search(ctx, vec, Options{MaxResults: opts.MaxResults, MinScore: opts.MinScore / 2})
	if err != nil {
		return nil, err
	}
	results := e.merger.Fuse(e.config.Strategy, hits, nil, opts)
	slog.Debug("search_completed", slog.String("mode", "vector"), slog.Int("results", len(results)))
	return results, nil
}

// SearchKeyword runs only the keyword sub-query.
func (e *Engine) SearchKeyword(ctx context.Context, query string, opts Options) ([]Result, error) {
	query, err := e.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	if opts.MaxResults <= 0 {
		return []Result{}, nil
	}

	hits, err := e.keyword.Search(ctx, query, opts.MaxResults)
	if err != nil {
		return nil, err
	}
	results := e.merger.Fuse(e.config.Strategy, nil, hits, opts)
	slog.Debug("search_completed", slog.String("mode", "keyword"), slog.Int("results", len(results)))
	return results, nil
}

func (e *Engine) prepare(ctx context.Context, query string) (string, error) {
	if err := e.ensureReady(ctx); err != nil {
		return "", err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", hserrors.New(hserrors.ErrCodeQueryEmpty, "search query is empty", nil)
	}
	return query, nil
}

// ReadFile returns lines [from, from+lines) of a document under the root,
// 1-based. from <= 0 means 1; lines <= 0 means to the end of the file.
func (e *Engine) ReadFile(ctx context.Context, path string, from, lines int) (*ReadResult, error) {
	if err := e.ensureReady(ctx); err != nil {
		return nil, err
	}

	rel, abs, err := e.resolve(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, hserrors.New(hserrors.ErrCodeFileNotFound, "file not found", err).WithDetail("path", rel)
		}
		return nil, hserrors.IOError("failed to open file", err).WithDetail("path", rel)
	}
	defer f.Close()

	if from <= 0 {
		from = 1
	}
	last := 0
	if lines > 0 {
		last = from + lines - 1
	}

	var (
		sb    strings.Builder
		n     int
		taken int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), int(index.DefaultMaxFileSize))
	for scanner.Scan() {
		n++
		if n < from || (last > 0 && n > last) {
			continue
		}
		if taken > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(scanner.Text())
		taken++
	}
	if err := scanner.Err(); err != nil {
		return nil, hserrors.IOError("failed to read file", err).WithDetail("path", rel)
	}

	result := &ReadResult{Path: rel, Text: sb.String(), TotalLines: n}
	if taken > 0 {
		result.StartLine = from
		result.EndLine = from + taken - 1
	}
	return result, nil
}

// resolve maps path to its root-relative and absolute forms, rejecting
// anything that escapes the root.
func (e *Engine) resolve(path string) (rel, abs string, err error) {
	root := e.config.RootDir
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Join(root, filepath.FromSlash(path))
	}
	r, err := filepath.Rel(root, abs)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", "", hserrors.New(hserrors.ErrCodeInvalidPath, ErrInvalidPath.Error(), ErrInvalidPath).
			WithDetail("path", path)
	}
	return filepath.ToSlash(r), abs, nil
}

// Sync brings the index in line with the documents under the root.
func (e *Engine) Sync(ctx context.Context) (*index.SyncReport, error) {
	if err := e.ensureReady(ctx); err != nil {
		return nil, err
	}
	return e.indexer.Sync(ctx)
}

// Rebuild clears the index and indexes every document again.
func (e *Engine) Rebuild(ctx context.Context) (*index.SyncReport, error) {
	if err := e.ensureReady(ctx); err != nil {
		return nil, err
	}
	return e.indexer.Rebuild(ctx)
}

// Status reads document and chunk counts from storage.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	if err := e.ensureReady(ctx); err != nil {
		return nil, err
	}
	stats, err := e.storage.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	return &Status{
		Files:       stats.Files,
		Chunks:      stats.Chunks,
		Provider:    e.config.Provider,
		Model:       e.embedder.ModelName(),
		StorageType: e.config.StorageType,
	}, nil
}

// ModelInfo asks the embedding provider about its model. ok is false when
// the provider has nothing to report. Unlike Status this calls the provider.
func (e *Engine) ModelInfo(ctx context.Context) (info *embed.ModelInfo, ok bool, err error) {
	if err := e.ensureReady(ctx); err != nil {
		return nil, false, err
	}
	return embed.DescribeModel(ctx, e.embedder)
}

// Close releases the indexer, storage and embedder. Further calls return
// ErrClosed; Close itself is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateClosed {
		return nil
	}
	e.state = StateClosed

	var errs []error
	if err := e.indexer.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.storage.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.embedder.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
