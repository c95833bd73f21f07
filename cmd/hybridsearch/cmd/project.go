package cmd

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/Aman-CERP/hybridsearch/internal/chunk"
	"github.com/Aman-CERP/hybridsearch/internal/config"
	"github.com/Aman-CERP/hybridsearch/internal/embed"
	"github.com/Aman-CERP/hybridsearch/internal/index"
	"github.com/Aman-CERP/hybridsearch/internal/search"
	"github.com/Aman-CERP/hybridsearch/internal/store"
	"github.com/Aman-CERP/hybridsearch/internal/ui"
)

// project is a resolved root directory and its effective configuration.
type project struct {
	root string
	cfg  *config.Config
}

func loadProject(dir string) (*project, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	return &project{root: root, cfg: cfg}, nil
}

// engineOptions adjusts how openEngine builds the engine.
type engineOptions struct {
	// strategy overrides search.strategy when set.
	strategy string

	// renderer receives sync progress when set.
	renderer ui.Renderer
}

// openEngine builds storage, embedder and engine from the project config.
// The engine owns both dependencies; closing it closes them.
func (p *project) openEngine(opts engineOptions) (*search.Engine, error) {
	engCfg := p.cfg.EngineConfig(p.root)
	if opts.strategy != "" {
		strategy, err := search.ParseStrategy(opts.strategy)
		if err != nil {
			return nil, err
		}
		engCfg.Strategy = strategy
	}

	counter, err := p.cfg.TokenCounter()
	if err != nil {
		return nil, err
	}

	storage, err := store.NewStorage(p.cfg.StoreConfig(p.root))
	if err != nil {
		return nil, err
	}
	embedder, err := embed.NewEmbedder(p.cfg.EmbedConfig())
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	engineOpts := []search.EngineOption{search.WithChunkerOptions(chunk.WithTokenCounter(counter))}
	if opts.renderer != nil {
		engineOpts = append(engineOpts, search.WithIndexerOptions(index.WithRenderer(opts.renderer)))
	}

	engine, err := search.NewEngine(storage, embedder, engCfg, engineOpts...)
	if err != nil {
		return nil, errors.Join(err, storage.Close(), embedder.Close())
	}
	return engine, nil
}

// newRenderer picks the progress display for out.
func (p *project) newRenderer(out io.Writer, plain bool) ui.Renderer {
	return ui.NewRenderer(ui.NewConfig(out, ui.WithRootDir(p.root), ui.WithForcePlain(plain)))
}

// completionStats adapts a sync report for the renderer summary.
func (p *project) completionStats(r *index.SyncReport) ui.CompletionStats {
	return ui.CompletionStats{
		Added:     r.Added,
		Updated:   r.Updated,
		Removed:   r.Removed,
		Unchanged: r.Unchanged,
		Failed:    r.Failed,
		Chunks:    r.Chunks,
		Duration:  r.Duration,
		Provider:  p.cfg.Embedding.Provider,
		Model:     p.cfg.Embedding.Model,
		Storage:   p.cfg.Storage.Type,
	}
}
