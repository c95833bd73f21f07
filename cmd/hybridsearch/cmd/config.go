package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/hybridsearch/internal/config"
	"github.com/Aman-CERP/hybridsearch/internal/output"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the user and project configuration files.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/hybridsearch/config.yaml)
  3. Project config (.hybridsearch.yaml in the indexed directory)
  4. .env in the indexed directory (never overrides the environment)
  5. Environment variables (HYBRIDSEARCH_*)`,
	}

	cmd.AddCommand(newConfigInitCmd(g), newConfigShowCmd(g), newConfigPathCmd())
	return cmd
}

func newConfigInitCmd(g *globalOptions) *cobra.Command {
	var (
		force   bool
		project bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the defaults",
		Example: `  # User config
  hybridsearch config init

  # .hybridsearch.yaml in the indexed directory
  hybridsearch config init --project

  # Replace an existing file, keeping a backup
  hybridsearch config init --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.GetUserConfigPath()
			if project {
				root, err := filepath.Abs(g.dir)
				if err != nil {
					return err
				}
				path = filepath.Join(root, config.ProjectConfigName)
			}
			return runConfigInit(output.New(cmd.OutOrStdout()), path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file (a backup is kept)")
	cmd.Flags().BoolVar(&project, "project", false, "Write the project config instead of the user config")

	return cmd
}

func runConfigInit(out *output.Writer, path string, force bool) error {
	var backup string
	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warning("Configuration already exists")
			out.Statusf("📁", "Location: %s", path)
			out.Status("💡", "Use --force to replace it with the defaults")
			return nil
		}
		var err error
		if backup, err = config.BackupFile(path); err != nil {
			return fmt.Errorf("failed to back up config: %w", err)
		}
	}

	if err := config.NewConfig().WriteYAML(path); err != nil {
		return err
	}

	out.Success("Wrote configuration")
	out.Statusf("📁", "Location: %s", path)
	if backup != "" {
		out.Statusf("💾", "Backup: %s", backup)
	}
	return nil
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	var (
		jsonOutput bool
		defaults   bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Show the configuration after merging defaults, user config, project
config, .env and environment variables. API keys are masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.NewConfig()
			if !defaults {
				p, err := loadProject(g.dir)
				if err != nil {
					return err
				}
				cfg = p.cfg
			}

			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				// APIKey is never marshaled to JSON.
				return out.JSON(cfg)
			}
			shown := *cfg
			if shown.Embedding.APIKey != "" {
				shown.Embedding.APIKey = "********"
			}
			data, err := yaml.Marshal(&shown)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Show the built-in defaults only")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
