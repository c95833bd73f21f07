package index

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/hybridsearch/internal/store"
)

// Plan lists the work a sync has to do. All paths are root-relative.
// Unchanged also holds files that yield no chunks, since there is nothing to
// store for them.
type Plan struct {
	Added     []string
	Updated   []string
	Removed   []string
	Unchanged []string
	Duration  time.Duration
}

// Diff compares the files on disk with what storage holds. Storage is the
// record of what was indexed; the disk is the source of truth.
func (ix *Indexer) Diff(ctx context.Context) (*Plan, error) {
	start := time.Now()

	files, err := ix.matcher.scan(ctx, ix.root)
	if err != nil {
		return nil, err
	}
	indexed, err := ix.storage.Paths(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed paths: %w", err)
	}

	onDisk := make(map[string]bool, len(files))
	for _, f := range files {
		onDisk[f] = true
	}
	inStore := make(map[string]bool, len(indexed))
	for _, p := range indexed {
		inStore[p] = true
	}

	plan := &Plan{}
	for _, f := range files {
		if !inStore[f] {
			if ix.yieldsNoChunks(f) {
				plan.Unchanged = append(plan.Unchanged, f)
			} else {
				plan.Added = append(plan.Added, f)
			}
			continue
		}
		same, err := ix.hashMatches(ctx, f)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Unreadable or unknown: let the write path report it.
			slog.Debug("index_hash_check_failed", slog.String("path", f), slog.String("error", err.Error()))
			same = false
		}
		if same {
			plan.Unchanged = append(plan.Unchanged, f)
		} else {
			plan.Updated = append(plan.Updated, f)
		}
	}
	// Indexed paths that no longer exist, or now fall outside include/exclude.
	for _, p := range indexed {
		if !onDisk[p] {
			plan.Removed = append(plan.Removed, p)
		}
	}

	plan.Duration = time.Since(start)
	slog.Debug("index_diff_complete",
		slog.Int("added", len(plan.Added)),
		slog.Int("updated", len(plan.Updated)),
		slog.Int("removed", len(plan.Removed)),
		slog.Int("unchanged", len(plan.Unchanged)),
		slog.Int64("duration_ms", plan.Duration.Milliseconds()))
	return plan, nil
}

// hashMatches compares the file's content hash with the one stored on its chunks.
func (ix *Indexer) hashMatches(ctx context.Context, rel string) (bool, error) {
	chunks, err := ix.storage.GetChunksByPath(ctx, rel)
	if err != nil {
		return false, err
	}
	if len(chunks) == 0 {
		return false, nil
	}
	stored := storedHash(chunks[0])
	if stored == "" {
		return false, nil
	}

	content, err := os.ReadFile(filepath.Join(ix.root, filepath.FromSlash(rel)))
	if err != nil {
		return false, err
	}
	return hashContent(content) == stored, nil
}

// yieldsNoChunks reports whether rel is a file the indexer would never store:
// not a regular file, over the size limit, or blank. Files that cannot be
// inspected are left to the write path, which reports the error.
func (ix *Indexer) yieldsNoChunks(rel string) bool {
	abs := filepath.Join(ix.root, filepath.FromSlash(rel))
	info, err := os.Lstat(abs)
	if err != nil {
		return false
	}
	if ix.skipReason(info) != "" {
		return true
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return false
	}
	return len(bytes.TrimSpace(content)) == 0
}

func storedHash(c *store.Chunk) string {
	if c == nil || c.Metadata == nil {
		return ""
	}
	h, _ := c.Metadata[store.MetaHash].(string)
	return h
}
