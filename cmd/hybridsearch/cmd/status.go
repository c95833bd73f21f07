package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridsearch/internal/embed"
	"github.com/Aman-CERP/hybridsearch/internal/output"
	"github.com/Aman-CERP/hybridsearch/internal/profiling"
	"github.com/Aman-CERP/hybridsearch/internal/search"
	"github.com/Aman-CERP/hybridsearch/internal/store"
)

// statusJSON is the --json form of status.
type statusJSON struct {
	Root        string `json:"root"`
	Files       int    `json:"files"`
	Chunks      int    `json:"chunks"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	StorageType string `json:"storage_type"`
	IndexBytes  int64  `json:"index_bytes,omitempty"`

	ModelDetails *embed.ModelInfo `json:"model_details,omitempty"`
}

func newStatusCmd(g *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what is indexed",
		Args:  cobra.NoArgs,
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

			st, err := engineStatus(cmd.Context(), engine)
			if err != nil {
				return err
			}
			size := p.indexSize()
			details := modelDetails(cmd.Context(), engine)

			out := output.New(cmd.OutOrStdout())
			if asJSON {
				return out.JSON(statusJSON{
					Root:        p.root,
					Files:       st.Files,
					Chunks:      st.Chunks,
					Provider:    st.Provider,
					Model:       st.Model,
					StorageType: st.StorageType,
					IndexBytes:  size,

					ModelDetails: details,
				})
			}
			out.IndexStatus(p.root, st)
			if size > 0 {
				out.Statusf("", "Index size: %s", profiling.FormatBytes(uint64(size)))
			}
			if details != nil {
				out.Statusf("", "Model:     %s parameters, %s, %s",
					details.Parameters, details.Format, profiling.FormatBytes(uint64(details.Size)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

// indexSize is the size of the SQLite database, or 0 for other backends.
func (p *project) indexSize() int64 {
	cfg := p.cfg.StoreConfig(p.root)
	if cfg.Type != store.TypeSQLite {
		return 0
	}
	info, err := os.Stat(cfg.Path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// modelDetails returns provider model details, or nil when the provider has
// none or cannot be reached.
func modelDetails(ctx context.Context, engine *search.Engine) *embed.ModelInfo {
	info, ok, err := engine.ModelInfo(ctx)
	if !ok {
		return nil
	}
	if err != nil {
		slog.Warn("model_info_failed", slog.String("error", err.Error()))
		return nil
	}
	return info
}
