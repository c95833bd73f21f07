package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridsearch/internal/index"
	"github.com/Aman-CERP/hybridsearch/internal/output"
	"github.com/Aman-CERP/hybridsearch/internal/search"
)

func newIndexCmd(g *globalOptions) *cobra.Command {
	var (
		force bool
		plain bool
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the Markdown files under the directory",
		Long: `Scan the directory, chunk every matching Markdown file, embed the chunks
and store them. Only files whose content changed since the last run are
re-embedded; files deleted from disk are removed from the index.

Use --force to drop the index and rebuild it from scratch.`,
		Example: `  hybridsearch index
  hybridsearch index --dir ./docs --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd.Context(), cmd, g, force, plain)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Rebuild the index from scratch")
	cmd.Flags().BoolVar(&plain, "plain", false, "Plain progress output (no TUI)")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, g *globalOptions, force, plain bool) error {
	p, err := loadProject(g.dir)
	if err != nil {
		return err
	}

	renderer := p.newRenderer(cmd.OutOrStdout(), plain)
	engine, err := p.openEngine(engineOptions{renderer: renderer})
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	slog.Info("index_started", slog.String("root", p.root), slog.Bool("force", force))
	run := engine.Sync
	if force {
		run = engine.Rebuild
	}
	report, err := run(ctx)
	if err != nil {
		return err
	}
	renderer.Complete(p.completionStats(report))
	return nil
}

func newSyncCmd(g *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Bring the index up to date and print a report",
		Long: `Reconcile the index with the files on disk without progress display.
Intended for scripts and cron jobs; use --format json for a machine-readable
report.`,
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

			report, err := engine.Sync(cmd.Context())
			if err != nil {
				return err
			}
			return printSyncReport(output.New(cmd.OutOrStdout()), report, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func printSyncReport(out *output.Writer, r *index.SyncReport, format string) error {
	if format == "json" {
		return out.JSON(r)
	}
	out.Successf("Synced: %d added, %d updated, %d removed, %d unchanged (%d chunks)",
		r.Added, r.Updated, r.Removed, r.Unchanged, r.Chunks)
	if r.Failed > 0 {
		out.Warningf("%d files failed; run with --debug for details", r.Failed)
	}
	return nil
}

// engineStatus is shared by status and the empty-index hint of search.
func engineStatus(ctx context.Context, engine *search.Engine) (search.Status, error) {
	st, err := engine.Status(ctx)
	if err != nil {
		return search.Status{}, err
	}
	return *st, nil
}
