package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridsearch/internal/mcp"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var noSync bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve search to MCP clients over stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing the
search, search_vector, search_keyword, read_file, status and sync tools.

Nothing but protocol messages is written to stdout; logs go to the log file
(see 'hybridsearch logs').`,
		Example: `  # Claude Desktop / any MCP client configuration:
  #   "command": "hybridsearch", "args": ["serve", "--dir", "/path/to/docs"]
  hybridsearch serve --dir ./docs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			p, err := loadProject(g.dir)
			if err != nil {
				return err
			}
			engine, err := p.openEngine(engineOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			if !noSync {
				// A stale index is still searchable; report and continue.
				if _, err := engine.Sync(ctx); err != nil {
					slog.Warn("startup_sync_failed", slog.String("error", err.Error()))
				}
			}

			srv, err := mcp.NewServer(engine, p.root, p.cfg.SearchOptions())
			if err != nil {
				return err
			}
			return srv.Serve(ctx)
		},
	}

	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Skip the index sync at startup")

	return cmd
}
