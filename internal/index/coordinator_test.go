package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_AppliesEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	c := NewCoordinator(f.indexer)
	h := c.Handlers()

	// Given: a new file reported by the watcher
	writeFile(t, f.root, "notes.md", "# Notes\n\nfirst draft\n")
	h.OnAdd(ctx, "notes.md")

	chunks, err := f.storage.GetChunksByPath(ctx, "notes.md")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "first draft")

	// When: it changes
	writeFile(t, f.root, "notes.md", "# Notes\n\nsecond draft\n")
	h.OnChange(ctx, "notes.md")

	// Then: the stored chunk follows
	chunks, err = f.storage.GetChunksByPath(ctx, "notes.md")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "second draft")

	// When: it is deleted
	require.NoError(t, os.Remove(filepath.Join(f.root, "notes.md")))
	h.OnUnlink(ctx, "notes.md")

	chunks, err = f.storage.GetChunksByPath(ctx, "notes.md")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	assert.Equal(t, CoordinatorStats{Indexed: 2, Removed: 1}, c.Stats())
}

func TestCoordinator_CountsFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	c := NewCoordinator(f.indexer)

	// File vanished before the event was handled.
	c.OnAdd(ctx, "gone.md")
	// Embedder rejects the content.
	writeFile(t, f.root, "bad.md", "boom")
	c.OnChange(ctx, "bad.md")
	// Outside the root.
	c.OnUnlink(ctx, "../escape.md")

	assert.Equal(t, CoordinatorStats{Failed: 3}, c.Stats())
}
