// Package cmd implements the hybridsearch command line.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	hserrors "github.com/Aman-CERP/hybridsearch/internal/errors"
	"github.com/Aman-CERP/hybridsearch/internal/logging"
	"github.com/Aman-CERP/hybridsearch/internal/profiling"
	"github.com/Aman-CERP/hybridsearch/pkg/version"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	dir     string
	debug   bool
	profile profiling.Options

	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "hybridsearch",
		Short: "Hybrid semantic and keyword search over Markdown documents",
		Long: `hybridsearch indexes a directory of Markdown files into heading-aware
chunks, embeds them, and answers queries by fusing vector similarity with
full-text keyword ranking.

Run 'hybridsearch index' in your docs directory, then 'hybridsearch search'.
'hybridsearch serve' exposes the same search to MCP clients over stdio.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.start(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return g.stop()
		},
	}
	cmd.SetVersionTemplate("hybridsearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&g.dir, "dir", "C", ".", "Directory to index and search")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging (also written to stderr)")
	cmd.PersistentFlags().StringVar(&g.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(
		newIndexCmd(g),
		newSyncCmd(g),
		newSearchCmd(g),
		newReadCmd(g),
		newStatusCmd(g),
		newWatchCmd(g),
		newServeCmd(g),
		newConfigCmd(g),
		newLogsCmd(),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command, printing errors with their suggestion.
func Execute(ctx context.Context) error {
	cmd := NewRootCmd()
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), hserrors.FormatForCLI(err))
	}
	return err
}

func (g *globalOptions) start(cmd *cobra.Command) error {
	// The log viewer reads the log; it does not write one.
	if cmd.Name() == "logs" {
		return nil
	}

	logCfg := logging.DefaultConfig()
	switch {
	case cmd.Name() == "serve":
		// stdout and stderr belong to the MCP client.
		level := ""
		if g.debug {
			level = "debug"
		}
		logCfg = logging.ServerConfig(level)
	case g.debug:
		logCfg = logging.DebugConfig()
	}
	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	g.loggingCleanup = cleanup

	if g.profile.Enabled() {
		g.profiler, err = profiling.Start(g.profile)
		if err != nil {
			return err
		}
	}
	slog.Debug("command_started", slog.String("command", cmd.CommandPath()), slog.String("version", version.Version))
	return nil
}

func (g *globalOptions) stop() error {
	var err error
	if g.profiler != nil {
		err = g.profiler.Stop()
		g.profiler = nil
	}
	if g.loggingCleanup != nil {
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
	return err
}
