// Package cli implements the lintscale command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/lintscale"
	"github.com/ZanzyTHEbar/lintscale/internal/config"
	"github.com/ZanzyTHEbar/lintscale/internal/observability"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

type globalFlags struct {
	root       string
	configPath string
	logLevel   string
	pretty     bool
}

// Execute runs the root command and maps its result onto a process exit code.
func Execute(ctx context.Context, args []string) int {
	root := NewRoot()
	root.SetArgs(args)
	return exitCode(ctx, root.ExecuteContext(ctx), root)
}

func exitCode(ctx context.Context, err error, cmd *cobra.Command) int {
	var exit *ExitError
	switch {
	case err == nil:
		return lintscale.ExitClean
	case errors.As(err, &exit):
		return exit.Code
	case lintscale.HasCode(err, lintscale.ErrCodeCancelled), ctx.Err() != nil:
		fmt.Fprintln(cmd.ErrOrStderr(), "lintscale: run cancelled")
		return lintscale.ExitCancelled
	default:
		fmt.Fprintf(cmd.ErrOrStderr(), "lintscale: %v\n", err)
		return lintscale.ExitToolFailure
	}
}

func NewRoot() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "lintscale",
		Short:         "Run a workspace's linters, formatters and analyzers as one phased job",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.root, "dir", "C", ".", "Workspace root")
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file (default <dir>/"+config.FileName+")")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	root.PersistentFlags().BoolVar(&g.pretty, "pretty", false, "Human readable log output")

	root.AddCommand(
		RunCmd(g),
		PlanCmd(g),
		ToolsCmd(g),
		CacheCmd(g),
	)
	return root
}

// workspaceRoot returns the absolute workspace root.
func (g *globalFlags) workspaceRoot() (string, error) {
	abs, err := filepath.Abs(g.root)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", lintscale.NewConfigurationError("workspace root", err)
	}
	if !info.IsDir() {
		return "", lintscale.NewConfigurationError(fmt.Sprintf("workspace root %s is not a directory", abs), nil)
	}
	return abs, nil
}

// load reads the config file and builds the logger. An explicit --config must exist.
func (g *globalFlags) load(cmd *cobra.Command) (string, config.Config, zerolog.Logger, error) {
	root, err := g.workspaceRoot()
	if err != nil {
		return "", config.Config{}, zerolog.Nop(), err
	}
	path, optional := g.configPath, false
	if path == "" {
		path, optional = filepath.Join(root, config.FileName), true
	}
	cfg, err := config.Load(path, optional)
	if err != nil {
		return "", config.Config{}, zerolog.Nop(), err
	}
	if g.logLevel != "" {
		cfg.Run.LogLevel = g.logLevel
	}
	logger := observability.NewLogger(cmd.ErrOrStderr(), "lintscale", cfg.Run.LogLevel, g.pretty)
	return root, cfg, logger, nil
}
