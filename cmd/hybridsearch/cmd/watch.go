package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridsearch/internal/index"
	"github.com/Aman-CERP/hybridsearch/internal/output"
	"github.com/Aman-CERP/hybridsearch/internal/search"
	"github.com/Aman-CERP/hybridsearch/internal/watcher"
)

func newWatchCmd(g *globalOptions) *cobra.Command {
	var polling bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the index up to date as files change",
		Long: `Sync the index once, then watch the directory and re-index Markdown
files as they are added, changed or deleted. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := loadProject(g.dir)
			if err != nil {
				return err
			}
			engine, err := p.openEngine(engineOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			return runWatch(cmd.Context(), output.New(cmd.OutOrStdout()), p, engine, polling)
		},
	}

	cmd.Flags().BoolVar(&polling, "poll", false, "Poll for changes instead of using filesystem notifications")

	return cmd
}

func runWatch(ctx context.Context, out *output.Writer, p *project, engine *search.Engine, polling bool) error {
	report, err := engine.Sync(ctx)
	if err != nil {
		return err
	}
	_ = printSyncReport(out, report, "text")

	ix := engine.Indexer()
	coordinator := index.NewCoordinator(ix)

	opts := p.cfg.WatchOptions()
	opts.Filter = ix.Matcher().Match
	opts.ForcePolling = polling

	w, err := watcher.New(p.root, coordinator.Handlers(), opts)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	out.Statusf("👀", "Watching %s (%s). Press Ctrl+C to stop.", p.root, w.Mode())

	<-ctx.Done()
	if err := w.Stop(); err != nil {
		slog.Warn("watcher_stop_failed", slog.String("error", err.Error()))
	}

	stats := coordinator.Stats()
	out.Newline()
	out.Successf("Stopped: %d files indexed, %d removed, %d failed", stats.Indexed, stats.Removed, stats.Failed)
	return nil
}
