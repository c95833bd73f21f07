package index

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/Aman-CERP/hybridsearch/internal/watcher"
)

// CoordinatorStats counts the file events a Coordinator has applied.
type CoordinatorStats struct {
	Indexed int64
	Removed int64
	Failed  int64
}

// Coordinator applies watcher events to the index incrementally.
// Failures are logged and counted; one bad file never stops the watch.
type Coordinator struct {
	indexer *Indexer

	indexed atomic.Int64
	removed atomic.Int64
	failed  atomic.Int64
}

// NewCoordinator creates a coordinator for ix.
func NewCoordinator(ix *Indexer) *Coordinator {
	return &Coordinator{indexer: ix}
}

// Handlers returns watcher callbacks bound to this coordinator.
func (c *Coordinator) Handlers() watcher.Handlers {
	return watcher.Handlers{
		OnAdd:    c.OnAdd,
		OnChange: c.OnChange,
		OnUnlink: c.OnUnlink,
	}
}

// OnAdd indexes a new file.
func (c *Coordinator) OnAdd(ctx context.Context, path string) {
	c.indexFile(ctx, path, "add")
}

// OnChange re-indexes a modified file.
func (c *Coordinator) OnChange(ctx context.Context, path string) {
	c.indexFile(ctx, path, "change")
}

// OnUnlink drops the chunks of a removed file.
func (c *Coordinator) OnUnlink(ctx context.Context, path string) {
	if err := c.indexer.RemoveFile(ctx, path); err != nil {
		c.failed.Add(1)
		slog.Warn("watch_remove_failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	c.removed.Add(1)
	slog.Info("watch_file_removed", slog.String("path", path))
}

func (c *Coordinator) indexFile(ctx context.Context, path, reason string) {
	n, err := c.indexer.IndexFile(ctx, path)
	if err != nil {
		c.failed.Add(1)
		slog.Warn("watch_index_failed",
			slog.String("path", path),
			slog.String("event", reason),
			slog.String("error", err.Error()))
		return
	}
	c.indexed.Add(1)
	slog.Info("watch_file_indexed",
		slog.String("path", path),
		slog.String("event", reason),
		slog.Int("chunks", n))
}

// Stats returns the running counters.
func (c *Coordinator) Stats() CoordinatorStats {
	return CoordinatorStats{
		Indexed: c.indexed.Load(),
		Removed: c.removed.Load(),
		Failed:  c.failed.Load(),
	}
}
