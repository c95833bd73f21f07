package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridsearch/internal/output"
)

func newReadCmd(g *globalOptions) *cobra.Command {
	var (
		from  int
		lines int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "read <path>",
		Short: "Print a line range of an indexed document",
		Example: `  hybridsearch read guides/install.md
  hybridsearch read guides/install.md --from 40 --lines 20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(g.dir)
			if err != nil {
				return err
			}
			engine, err := p.openEngine(engineOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			res, err := engine.ReadFile(cmd.Context(), args[0], from, lines)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			if asJSON {
				return out.JSON(res)
			}
			out.File(*res)
			return nil
		},
	}

	cmd.Flags().IntVar(&from, "from", 1, "First line, 1-based")
	cmd.Flags().IntVar(&lines, "lines", 0, "Number of lines (0 reads to the end)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}
