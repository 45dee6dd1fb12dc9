package cli

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/lintscale"
	"github.com/ZanzyTHEbar/lintscale/internal/config"
	"github.com/ZanzyTHEbar/lintscale/internal/observability"
	"github.com/ZanzyTHEbar/lintscale/internal/workspace"
	engine "github.com/ZanzyTHEbar/lintscale/pkg/lintscale"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type runFlags struct {
	jobs            int
	only            []string
	sensitivity     string
	mode            string
	failOn          string
	bail            bool
	noCache         bool
	workspaceScoped bool
	enable          []string
	disable         []string
	format          string
	metricsFile     string
}

// apply overrides cfg values with the flags the user actually set.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("jobs") {
		cfg.Run.Jobs = f.jobs
	}
	if flags.Changed("only") {
		cfg.Selection.Only = f.only
	}
	if flags.Changed("sensitivity") {
		cfg.Selection.Sensitivity = f.sensitivity
	}
	if flags.Changed("mode") {
		cfg.Run.Mode = f.mode
	}
	if flags.Changed("fail-on") {
		cfg.Run.FailOn = f.failOn
	}
	if flags.Changed("bail") {
		cfg.Run.Bail = f.bail
	}
	if f.noCache {
		cfg.Cache.Enabled = false
	}
	if flags.Changed("workspace-scoped") {
		cfg.Selection.WorkspaceScoped = f.workspaceScoped
	}
	if len(f.enable) > 0 || len(f.disable) > 0 {
		categories := make(map[string]bool, len(cfg.Selection.Categories))
		for k, v := range cfg.Selection.Categories {
			categories[k] = v
		}
		for _, c := range f.enable {
			categories[c] = true
		}
		for _, c := range f.disable {
			categories[c] = false
		}
		cfg.Selection.Categories = categories
	}
}

func addSelectionFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().StringSliceVar(&f.only, "only", nil, "Run only these tool ids")
	cmd.Flags().StringVar(&f.sensitivity, "sensitivity", "", "Sensitivity: "+strings.Join(lintscale.SensitivityNames(), ", "))
	cmd.Flags().StringVar(&f.mode, "mode", "", "Run mode: check or fix")
	cmd.Flags().BoolVar(&f.workspaceScoped, "workspace-scoped", false, "Include tools scoped to this project")
	cmd.Flags().StringSliceVar(&f.enable, "enable-category", nil, "Enable a tool category")
	cmd.Flags().StringSliceVar(&f.disable, "disable-category", nil, "Disable a tool category")
}

func RunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Select, execute and report every applicable tool",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			root, cfg, logger, err := g.load(cmd)
			if err != nil {
				return err
			}
			f.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if f.format != formatText && f.format != formatJSON {
				return lintscale.NewConfigurationError(fmt.Sprintf("unknown output format %q", f.format), nil)
			}

			opts := []engine.Option{
				engine.WithLogger(logger),
				engine.WithObserver(observability.NewLogObserver(logger)),
			}
			var registry *prometheus.Registry
			if f.metricsFile != "" {
				registry = prometheus.NewRegistry()
				metrics := observability.NewPrometheusObserver(registry)
				if err := metrics.Register(); err != nil {
					return err
				}
				opts = append(opts, engine.WithObserver(metrics))
			}

			rt, err := engine.Build(ctx, cfg, root, opts...)
			if err != nil {
				return err
			}
			defer rt.Close()

			facts, err := workspace.NewScanner(workspace.WithLogger(logger)).Scan(ctx, root, args...)
			if err != nil {
				return err
			}
			mods, err := cfg.Modifiers()
			if err != nil {
				return err
			}
			result, err := rt.Engine.Run(ctx, facts, mods)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if f.format == formatJSON {
				err = writeJSON(out, result)
			} else {
				err = writeText(out, result)
			}
			if err != nil {
				return err
			}
			if registry != nil {
				if err := prometheus.WriteToTextfile(f.metricsFile, registry); err != nil {
					logger.Warn().Err(err).Str("path", f.metricsFile).Msg("Failed to write metrics")
				}
			}
			if result.ExitCode != lintscale.ExitClean {
				return &ExitError{Code: result.ExitCode}
			}
			return nil
		},
	}
	addSelectionFlags(cmd, f)
	cmd.Flags().IntVarP(&f.jobs, "jobs", "j", 0, "Maximum concurrent tool runs")
	cmd.Flags().StringVar(&f.failOn, "fail-on", "", "Lowest severity that fails the run: error, warning, note")
	cmd.Flags().BoolVar(&f.bail, "bail", false, "Stop launching work after the first failure")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "Disable the result cache")
	cmd.Flags().StringVarP(&f.format, "format", "o", formatText, "Output format: text or json")
	cmd.Flags().StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics in text format to this file")
	return cmd
}
