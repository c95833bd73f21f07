package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridsearch/internal/output"
	"github.com/Aman-CERP/hybridsearch/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit    int
	minScore float64
	mode     string // hybrid, vector, keyword
	strategy string // weighted, rrf
	format   string // text, json
	explain  bool
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed documents",
		Long: `Search the indexed documents.

The default hybrid mode runs a vector and a keyword search and fuses the two
rankings, either by weighted normalized ranks or by Reciprocal Rank Fusion.
Results are whole documents, best first, with the best matching chunk as the
snippet.`,
		Example: `  hybridsearch search "backup schedule"
  hybridsearch search "rotate credentials" -n 5 --strategy rrf
  hybridsearch search "ERR_206" --mode keyword
  hybridsearch search "deploy" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, g, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().Float64Var(&opts.minScore, "min-score", -1, "Drop results scoring below this value (default from config)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Search mode: hybrid, vector, keyword")
	cmd.Flags().StringVar(&opts.strategy, "strategy", "", "Fusion strategy: weighted, rrf (default from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show the vector and keyword contribution of each result")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, g *globalOptions, query string, opts searchOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", opts.format)
	}

	p, err := loadProject(g.dir)
	if err != nil {
		return err
	}
	engine, err := p.openEngine(engineOptions{strategy: opts.strategy})
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	searchFn, err := searchMode(engine, opts.mode)
	if err != nil {
		return err
	}

	searchOpts := p.cfg.SearchOptions()
	if opts.limit > 0 {
		searchOpts.MaxResults = opts.limit
	}
	if opts.minScore >= 0 {
		searchOpts.MinScore = opts.minScore
	}

	slog.Info("search_started", slog.String("query", query), slog.String("mode", opts.mode), slog.Int("limit", searchOpts.MaxResults))
	results, err := searchFn(ctx, query, searchOpts)
	if err != nil {
		return err
	}
	slog.Info("search_complete", slog.Int("results", len(results)))

	out := output.New(cmd.OutOrStdout())
	if opts.format == "json" {
		if results == nil {
			results = []search.Result{}
		}
		return out.JSON(results)
	}

	out.Results(query, results, opts.explain)
	if len(results) == 0 {
		if st, err := engineStatus(ctx, engine); err == nil && st.Chunks == 0 {
			out.Warning("The index is empty. Run 'hybridsearch index' first.")
		}
	}
	return nil
}

type searchFunc func(ctx context.Context, query string, opts search.Options) ([]search.Result, error)

func searchMode(engine *search.Engine, mode string) (searchFunc, error) {
	switch strings.ToLower(mode) {
	case "", "hybrid":
		return engine.Search, nil
	case "vector", "semantic":
		return engine.SearchVector, nil
	case "keyword", "text":
		return engine.SearchKeyword, nil
	default:
		return nil, fmt.Errorf("unknown search mode %q (want hybrid, vector or keyword)", mode)
	}
}
