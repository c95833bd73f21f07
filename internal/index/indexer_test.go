package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridsearch/internal/chunk"
	"github.com/Aman-CERP/hybridsearch/internal/embed"
	hserrors "github.com/Aman-CERP/hybridsearch/internal/errors"
	"github.com/Aman-CERP/hybridsearch/internal/store"
)

// flakyEmbedder fails any batch containing "boom".
type flakyEmbedder struct {
	*embed.StaticEmbedder
}

func (f flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, "boom") {
			return nil, errors.New("provider unavailable")
		}
	}
	return f.StaticEmbedder.EmbedBatch(ctx, texts)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

type fixture struct {
	root    string
	storage *store.SQLiteStorage
	indexer *Indexer
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	root := t.TempDir()
	s := store.NewSQLiteStorage(store.Config{})
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	chunker := chunk.NewMarkdownChunker(chunk.Config{TokensPerChunk: 20, OverlapTokens: 2})
	ix, err := New(root, chunker, flakyEmbedder{embed.NewStaticEmbedder(64)}, s, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })

	return &fixture{root: root, storage: s, indexer: ix}
}

func TestIndexer_Sync(t *testing.T) {
	ctx := context.Background()

	// Given: two Markdown files, one text file and one hidden directory
	f := newFixture(t, Config{Workers: 2})
	writeFile(t, f.root, "guide.md", "# Guide\n\nInstall the database first.\n")
	writeFile(t, f.root, "docs/faq.md", "# FAQ\n\nBackups run nightly.\n")
	writeFile(t, f.root, "notes.txt", "not markdown")
	writeFile(t, f.root, ".obsidian/cache.md", "# hidden")

	// When: syncing an empty index
	report, err := f.indexer.Sync(ctx)
	require.NoError(t, err)

	// Then: only the Markdown files are added, with hashes in metadata
	assert.Equal(t, 2, report.Added)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 0, report.Removed)
	assert.Equal(t, 2, report.Chunks)

	paths, err := f.storage.Paths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/faq.md", "guide.md"}, paths)

	chunks, err := f.storage.GetChunksByPath(ctx, "guide.md")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "guide.md:1", chunks[0].ID)
	assert.Equal(t, "Guide", chunks[0].Metadata[store.MetaTitle])
	assert.NotEmpty(t, storedHash(chunks[0]))
	assert.Len(t, chunks[0].Embedding, 64)

	// When: one file changes, one is deleted, and sync runs again
	writeFile(t, f.root, "guide.md", "# Guide\n\nInstall the database first.\nThen configure it.\n")
	require.NoError(t, os.Remove(filepath.Join(f.root, "docs", "faq.md")))

	report, err = f.indexer.Sync(ctx)
	require.NoError(t, err)

	// Then: the report reflects the delta
	assert.Equal(t, 0, report.Added)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 0, report.Unchanged)

	paths, err = f.storage.Paths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"guide.md"}, paths)

	// When: nothing changed
	report, err = f.indexer.Sync(ctx)
	require.NoError(t, err)

	// Then: everything is unchanged
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 0, report.Added+report.Updated+report.Removed)
}

func TestIndexer_SyncCountsFailures(t *testing.T) {
	// Given: one file the embedder cannot handle
	ctx := context.Background()
	f := newFixture(t, Config{})
	writeFile(t, f.root, "ok.md", "# Fine\n\nregular text\n")
	writeFile(t, f.root, "bad.md", "# Bad\n\nboom\n")

	// When: syncing
	report, err := f.indexer.Sync(ctx)

	// Then: the good file lands and the failure is counted, not fatal
	require.NoError(t, err)
	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 1, report.Failed)

	paths, err := f.storage.Paths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok.md"}, paths)
}

func TestIndexer_ExcludePatterns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Exclude: []string{"drafts/**"}})
	writeFile(t, f.root, "drafts/wip.md", "# WIP")
	writeFile(t, f.root, "final.md", "# Final")

	report, err := f.indexer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Added)

	paths, err := f.storage.Paths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"final.md"}, paths)
}

func TestIndexer_IndexAndRemoveFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	// Given: a long document spanning several chunks
	var b strings.Builder
	b.WriteString("# Manual\n")
	for i := 0; i < 12; i++ {
		b.WriteString("this line has exactly six words\n")
	}
	writeFile(t, f.root, "manual.md", b.String())

	// When: indexing it by absolute path
	n, err := f.indexer.IndexFile(ctx, filepath.Join(f.root, "manual.md"))
	require.NoError(t, err)

	// Then: every chunk is stored under the relative path
	assert.Greater(t, n, 1)
	chunks, err := f.storage.GetChunksByPath(ctx, "manual.md")
	require.NoError(t, err)
	assert.Len(t, chunks, n)

	// When: re-indexing, chunks are replaced rather than duplicated
	n2, err := f.indexer.IndexFile(ctx, "manual.md")
	require.NoError(t, err)
	assert.Equal(t, n, n2)
	stats, err := f.storage.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, stats.Chunks)

	// When: removing the file
	require.NoError(t, f.indexer.RemoveFile(ctx, "manual.md"))
	stats, err = f.storage.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Chunks)
}

func TestIndexer_IndexFileSkipsUnmatched(t *testing.T) {
	f := newFixture(t, Config{})
	writeFile(t, f.root, "script.sh", "echo hi")

	n, err := f.indexer.IndexFile(context.Background(), "script.sh")

	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIndexer_RejectsPathsOutsideRoot(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.indexer.IndexFile(context.Background(), "../outside.md")
	assert.Equal(t, hserrors.ErrCodeInvalidPath, hserrors.GetCode(err))

	err = f.indexer.RemoveFile(context.Background(), filepath.Join(filepath.Dir(f.root), "x.md"))
	assert.Equal(t, hserrors.ErrCodeInvalidPath, hserrors.GetCode(err))
}

func TestIndexer_Rebuild(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	writeFile(t, f.root, "a.md", "# A")

	_, err := f.indexer.Sync(ctx)
	require.NoError(t, err)

	report, err := f.indexer.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Added, "rebuild re-adds everything")
}

func TestIndexer_SyncSettlesOnFilesWithoutChunks(t *testing.T) {
	ctx := context.Background()

	// Given: a blank Markdown file, an oversized one and a regular one
	f := newFixture(t, Config{MaxFileSize: 64})
	writeFile(t, f.root, "empty.md", "\n   \n")
	writeFile(t, f.root, "huge.md", "# Huge\n\n"+strings.Repeat("word ", 40))
	writeFile(t, f.root, "real.md", "# Real\n\nsome content\n")

	// When: syncing an empty index
	report, err := f.indexer.Sync(ctx)
	require.NoError(t, err)

	// Then: only the regular file is added; the others have nothing to store
	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 2, report.Unchanged)
	assert.Equal(t, 0, report.Failed)

	// When: syncing twice more without changes
	for i := 0; i < 2; i++ {
		report, err = f.indexer.Sync(ctx)
		require.NoError(t, err)

		// Then: every file is unchanged and nothing is written
		assert.Equal(t, 3, report.Unchanged)
		assert.Equal(t, 0, report.Added+report.Updated+report.Removed+report.Failed)
		assert.Zero(t, report.Chunks)
	}
}

func TestIndexer_SyncClearsDocumentThatBecameBlank(t *testing.T) {
	ctx := context.Background()

	// Given: an indexed document
	f := newFixture(t, Config{})
	writeFile(t, f.root, "notes.md", "# Notes\n\nremember the milk\n")
	_, err := f.indexer.Sync(ctx)
	require.NoError(t, err)

	// When: its content is erased and sync runs
	writeFile(t, f.root, "notes.md", "  \n")
	report, err := f.indexer.Sync(ctx)
	require.NoError(t, err)

	// Then: the stale chunks are dropped and the change counts as an update
	assert.Equal(t, 1, report.Updated)
	paths, err := f.storage.Paths(ctx)
	require.NoError(t, err)
	assert.Empty(t, paths)

	// When: syncing again
	report, err = f.indexer.Sync(ctx)
	require.NoError(t, err)

	// Then: the blank file has settled
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 0, report.Added+report.Updated)
}

func TestIndexer_IndexFileBlankIsNotAnError(t *testing.T) {
	f := newFixture(t, Config{})
	writeFile(t, f.root, "blank.md", "\n\n")

	n, err := f.indexer.IndexFile(context.Background(), "blank.md")

	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIndexer_RebuildLockedKeepsIndex(t *testing.T) {
	ctx := context.Background()

	// Given: an indexed document and another holder of the data-dir lock
	dataDir := t.TempDir()
	f := newFixture(t, Config{DataDir: dataDir})
	writeFile(t, f.root, "guide.md", "# Guide\n\nInstall the database first.\n")
	_, err := f.indexer.Sync(ctx)
	require.NoError(t, err)

	other := NewFileLock(dataDir)
	require.NoError(t, other.Lock())
	defer other.Unlock()

	// When: rebuilding
	_, err = f.indexer.Rebuild(ctx)

	// Then: the rebuild is refused and the existing chunks survive
	require.Error(t, err)
	assert.Equal(t, hserrors.ErrCodeIndexLocked, hserrors.GetCode(err))
	stats, err := f.storage.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Chunks)
}

func TestIndexer_SyncLocked(t *testing.T) {
	// Given: another holder of the data-dir lock
	dataDir := t.TempDir()
	f := newFixture(t, Config{DataDir: dataDir})
	other := NewFileLock(dataDir)
	require.NoError(t, other.Lock())
	defer other.Unlock()

	// When: syncing
	_, err := f.indexer.Sync(context.Background())

	// Then: the sync refuses with a retryable lock error
	require.Error(t, err)
	assert.Equal(t, hserrors.ErrCodeIndexLocked, hserrors.GetCode(err))
	assert.True(t, hserrors.IsRetryable(err))
}

func TestIndexer_SyncCancelled(t *testing.T) {
	f := newFixture(t, Config{})
	writeFile(t, f.root, "a.md", "# A")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.indexer.Sync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_RequiresDependencies(t *testing.T) {
	s := store.NewSQLiteStorage(store.Config{})
	chunker := chunk.NewMarkdownChunker(chunk.DefaultConfig())
	e := embed.NewStaticEmbedder(8)

	_, err := New(".", nil, e, s, Config{})
	assert.ErrorIs(t, err, ErrNilDependency)
	_, err = New(".", chunker, nil, s, Config{})
	assert.ErrorIs(t, err, ErrNilDependency)
	_, err = New(".", chunker, e, nil, Config{})
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = New(".", chunker, e, s, Config{Include: []string{"[bad"}})
	assert.Equal(t, hserrors.ErrCodeConfigInvalid, hserrors.GetCode(err))
}
