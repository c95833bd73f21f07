// Package index keeps a storage backend in step with the Markdown files under
// a root directory: chunk, embed and store new or changed files, and drop the
// chunks of files that are gone.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Aman-CERP/hybridsearch/internal/chunk"
	"github.com/Aman-CERP/hybridsearch/internal/embed"
	hserrors "github.com/Aman-CERP/hybridsearch/internal/errors"
	"github.com/Aman-CERP/hybridsearch/internal/store"
	"github.com/Aman-CERP/hybridsearch/internal/ui"
)

// DefaultMaxFileSize skips files larger than 10MB.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// errNoChunks marks a file that yields no chunks: blank, oversized or not a
// regular file. Such files are never stored.
var errNoChunks = errors.New("file yields no chunks")

// Config controls file selection and concurrency.
type Config struct {
	Include     []string // doublestar globs, root-relative; empty means DefaultInclude
	Exclude     []string
	Workers     int    // embedding workers; 0 means NumCPU/2
	DataDir     string // holds the sync lock; empty disables cross-process locking
	MaxFileSize int64  // 0 means DefaultMaxFileSize
}

// SyncReport summarizes a sync.
type SyncReport struct {
	Added     int           `json:"added"`
	Updated   int           `json:"updated"`
	Removed   int           `json:"removed"`
	Unchanged int           `json:"unchanged"`
	Failed    int           `json:"failed"`
	Chunks    int           `json:"chunks"` // chunks written by this sync
	Duration  time.Duration `json:"duration"`
}

// Indexer writes chunked, embedded documents into storage.
type Indexer struct {
	root     string
	config   Config
	matcher  *Matcher
	chunker  *chunk.MarkdownChunker
	embedder embed.Embedder
	storage  store.Storage
	pool     *ants.Pool
	lock     *FileLock
	renderer ui.Renderer

	// Serializes writers within the process.
	mu sync.Mutex
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithRenderer reports sync progress to r.
func WithRenderer(r ui.Renderer) Option {
	return func(ix *Indexer) {
		ix.renderer = r
	}
}

// New creates an indexer for the files under root.
func New(root string, chunker *chunk.MarkdownChunker, embedder embed.Embedder, storage store.Storage, cfg Config, opts ...Option) (*Indexer, error) {
	if chunker == nil {
		return nil, fmt.Errorf("%w: chunker is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if storage == nil {
		return nil, fmt.Errorf("%w: storage is required", ErrNilDependency)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	matcher, err := NewMatcher(cfg.Include, cfg.Exclude)
	if err != nil {
		return nil, hserrors.ConfigError("invalid index patterns", err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() / 2
	}
	if workers < 1 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}

	ix := &Indexer{
		root:     absRoot,
		config:   cfg,
		matcher:  matcher,
		chunker:  chunker,
		embedder: embedder,
		storage:  storage,
		pool:     pool,
	}
	if cfg.DataDir != "" {
		ix.lock = NewFileLock(cfg.DataDir)
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// Root returns the absolute indexed directory.
func (ix *Indexer) Root() string {
	return ix.root
}

// Matcher returns the include/exclude matcher.
func (ix *Indexer) Matcher() *Matcher {
	return ix.matcher
}

// Close releases the worker pool.
func (ix *Indexer) Close() error {
	ix.pool.Release()
	return nil
}

// Sync brings storage in line with the files on disk. Per-file failures are
// logged and counted; Sync itself fails only when the plan cannot be built,
// the lock is held elsewhere, or ctx is cancelled.
func (ix *Indexer) Sync(ctx context.Context) (*SyncReport, error) {
	release, err := ix.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	return ix.sync(ctx, time.Now())
}

// acquire takes the cross-process lock, then the in-process writer mutex.
func (ix *Indexer) acquire() (func(), error) {
	unlock := func() {}
	if ix.lock != nil {
		acquired, err := ix.lock.TryLock()
		if err != nil {
			return nil, hserrors.IOError("failed to lock index", err)
		}
		if !acquired {
			return nil, hserrors.New(hserrors.ErrCodeIndexLocked, "index is being updated by another process", nil).
				WithDetail("lock", ix.lock.Path())
		}
		unlock = func() {
			if err := ix.lock.Unlock(); err != nil {
				slog.Warn("index_unlock_failed", slog.String("error", err.Error()))
			}
		}
	}

	ix.mu.Lock()
	return func() {
		ix.mu.Unlock()
		unlock()
	}, nil
}

// sync runs one sync pass. The caller holds the locks.
func (ix *Indexer) sync(ctx context.Context, start time.Time) (*SyncReport, error) {
	ix.progress(ui.ProgressEvent{Stage: ui.StageScanning, Message: "Scanning " + ix.root})
	plan, err := ix.Diff(ctx)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{Unchanged: len(plan.Unchanged)}
	if err := ix.applyWrites(ctx, plan, report); err != nil {
		return report, err
	}

	for i, path := range plan.Removed {
		ix.progress(ui.ProgressEvent{Stage: ui.StageRemoving, Current: i + 1, Total: len(plan.Removed), CurrentFile: path})
		if err := ix.storage.DeleteChunksByPath(ctx, path); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			ix.fileError(path, err)
			continue
		}
		report.Removed++
	}

	report.Duration = time.Since(start)
	slog.Info("index_sync_complete",
		slog.Int("added", report.Added),
		slog.Int("updated", report.Updated),
		slog.Int("removed", report.Removed),
		slog.Int("unchanged", report.Unchanged),
		slog.Int("failed", report.Failed),
		slog.Int("chunks", report.Chunks),
		slog.Int64("duration_ms", report.Duration.Milliseconds()),
		slog.String("root", ix.root))
	return report, nil
}

// applyWrites indexes the added and updated files of plan on the worker pool
// and records the outcome in report.
func (ix *Indexer) applyWrites(ctx context.Context, plan *Plan, report *SyncReport) error {
	type job struct {
		path  string
		isNew bool
	}
	jobs := make([]job, 0, len(plan.Added)+len(plan.Updated))
	for _, p := range plan.Added {
		jobs = append(jobs, job{path: p, isNew: true})
	}
	for _, p := range plan.Updated {
		jobs = append(jobs, job{path: p})
	}
	if len(jobs) == 0 {
		return nil
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		done      int
		submitErr error
	)
	for _, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		err := ix.pool.Submit(func() {
			defer wg.Done()
			n, err := ix.indexFile(ctx, j.path)

			mu.Lock()
			defer mu.Unlock()
			done++
			ix.progress(ui.ProgressEvent{Stage: ui.StageIndexing, Current: done, Total: len(jobs), CurrentFile: j.path})
			switch {
			case errors.Is(err, errNoChunks):
				// A file that was indexed before and now yields nothing
				// lost its chunks, which is an update.
				if j.isNew {
					report.Unchanged++
				} else {
					report.Updated++
				}
			case err != nil:
				report.Failed++
				if ctx.Err() == nil {
					ix.fileError(j.path, err)
				}
			default:
				report.Chunks += n
				if j.isNew {
					report.Added++
				} else {
					report.Updated++
				}
			}
		})
		if err != nil {
			wg.Done()
			submitErr = fmt.Errorf("failed to submit %s: %w", j.path, err)
			break
		}
	}
	wg.Wait()

	if submitErr != nil {
		return submitErr
	}
	return ctx.Err()
}

// IndexFile chunks, embeds and stores one file, replacing its previous
// chunks. It returns the number of chunks written.
func (ix *Indexer) IndexFile(ctx context.Context, rel string) (int, error) {
	rel, err := ix.relative(rel)
	if err != nil {
		return 0, err
	}
	if !ix.matcher.Match(rel) {
		return 0, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	n, err := ix.indexFile(ctx, rel)
	if errors.Is(err, errNoChunks) {
		return 0, nil
	}
	return n, err
}

func (ix *Indexer) indexFile(ctx context.Context, rel string) (int, error) {
	abs := filepath.Join(ix.root, filepath.FromSlash(rel))

	info, err := os.Lstat(abs)
	if err != nil {
		return 0, hserrors.IOError("failed to stat file", err).WithDetail("path", rel)
	}
	switch ix.skipReason(info) {
	case "irregular":
		slog.Debug("index_skip_irregular", slog.String("path", rel))
		return 0, ix.clearSkipped(ctx, rel)
	case "oversized":
		slog.Warn("index_skip_oversized",
			slog.String("path", rel),
			slog.Int64("size", info.Size()),
			slog.Int64("max", ix.config.MaxFileSize))
		return 0, ix.clearSkipped(ctx, rel)
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return 0, hserrors.IOError("failed to read file", err).WithDetail("path", rel)
	}
	hash := hashContent(content)

	chunks := ix.chunker.Chunk(string(content), rel)
	if len(chunks) == 0 {
		return 0, ix.clearSkipped(ctx, rel)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed %s: %w", rel, err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("failed to embed %s: got %d vectors for %d chunks", rel, len(vectors), len(chunks))
	}

	now := time.Now()
	records := make([]*store.Chunk, len(chunks))
	for i, c := range chunks {
		records[i] = toStoreChunk(c, vectors[i], hash, now)
	}

	if err := ix.storage.DeleteChunksByPath(ctx, rel); err != nil {
		return 0, fmt.Errorf("failed to replace %s: %w", rel, err)
	}
	if err := ix.storage.AddChunks(ctx, records); err != nil {
		return 0, fmt.Errorf("failed to store %s: %w", rel, err)
	}

	slog.Debug("index_file_complete", slog.String("path", rel), slog.Int("chunks", len(records)))
	return len(records), nil
}

// RemoveFile deletes every chunk of rel.
func (ix *Indexer) RemoveFile(ctx context.Context, rel string) error {
	rel, err := ix.relative(rel)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.storage.DeleteChunksByPath(ctx, rel); err != nil {
		return fmt.Errorf("failed to remove %s: %w", rel, err)
	}
	slog.Debug("index_file_removed", slog.String("path", rel))
	return nil
}

// Rebuild clears storage and indexes everything from scratch. Storage is
// only cleared once both locks are held.
func (ix *Indexer) Rebuild(ctx context.Context) (*SyncReport, error) {
	start := time.Now()

	release, err := ix.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := ix.storage.Clear(ctx); err != nil {
		return nil, fmt.Errorf("failed to clear index: %w", err)
	}
	return ix.sync(ctx, start)
}

// skipReason returns why a file is never chunked, or "" when it is indexable.
func (ix *Indexer) skipReason(info os.FileInfo) string {
	switch {
	case info.Mode()&os.ModeSymlink != 0 || !info.Mode().IsRegular():
		return "irregular"
	case info.Size() > ix.config.MaxFileSize:
		return "oversized"
	default:
		return ""
	}
}

// clearSkipped drops any chunks left from an earlier version of rel and
// reports errNoChunks.
func (ix *Indexer) clearSkipped(ctx context.Context, rel string) error {
	if err := ix.storage.DeleteChunksByPath(ctx, rel); err != nil {
		return fmt.Errorf("failed to clear %s: %w", rel, err)
	}
	return errNoChunks
}

// relative normalizes p to a slash-separated path under root. Absolute paths
// must lie inside root.
func (ix *Indexer) relative(p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(ix.root, p)
		if err != nil {
			return "", hserrors.New(hserrors.ErrCodeInvalidPath, "path is outside the indexed directory", err).WithDetail("path", p)
		}
		p = rel
	}
	p = filepath.ToSlash(filepath.Clean(p))
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", hserrors.New(hserrors.ErrCodeInvalidPath, "path is outside the indexed directory", nil).WithDetail("path", p)
	}
	return p, nil
}

func (ix *Indexer) progress(e ui.ProgressEvent) {
	if ix.renderer != nil {
		ix.renderer.UpdateProgress(e)
	}
}

func (ix *Indexer) fileError(path string, err error) {
	slog.Warn("index_file_failed", slog.String("path", path), slog.String("error", err.Error()))
	if ix.renderer != nil {
		ix.renderer.AddError(ui.ErrorEvent{File: path, Err: err})
	}
}

func toStoreChunk(c chunk.Chunk, vector []float32, hash string, now time.Time) *store.Chunk {
	meta := map[string]any{store.MetaHash: hash}
	if c.Metadata.Title != "" {
		meta[store.MetaTitle] = c.Metadata.Title
	}
	if len(c.Metadata.Headers) > 0 {
		meta[store.MetaHeaders] = c.Metadata.Headers
	}
	return &store.Chunk{
		ID:        c.ID,
		Path:      c.Path,
		Content:   c.Content,
		StartLine: c.StartLine,
		EndLine:   c.EndLine,
		Metadata:  meta,
		Embedding: vector,
		UpdatedAt: now,
	}
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
