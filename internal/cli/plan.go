package cli

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/lintscale/internal/workspace"
	engine "github.com/ZanzyTHEbar/lintscale/pkg/lintscale"
	"github.com/spf13/cobra"
)

func PlanCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	var all bool
	cmd := &cobra.Command{
		Use:   "plan [paths...]",
		Short: "Show which tools a run would execute, in order, and why others were left out",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			root, cfg, logger, err := g.load(cmd)
			if err != nil {
				return err
			}
			f.apply(cmd, &cfg)
			cfg.Cache.Enabled = false
			if err := cfg.Validate(); err != nil {
				return err
			}
			rt, err := engine.Build(ctx, cfg, root, engine.WithLogger(logger))
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
			plan, err := rt.Engine.Plan(facts, mods)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, phase := range plan.Phases() {
				fmt.Fprintf(out, "%s:\n", phase)
				for _, e := range plan.EntriesFor(phase) {
					fmt.Fprintf(out, "  %s\t%s\n", e.Key(), strings.Join(e.Action.Command, " "))
				}
			}
			if len(plan.Entries) == 0 {
				fmt.Fprintln(out, "no applicable tools")
			}
			for _, d := range plan.Decisions {
				if d.Selected || !all {
					continue
				}
				fmt.Fprintf(out, "skipped %s: %s\n", d.ToolID, d.Reason)
			}
			return nil
		},
	}
	addSelectionFlags(cmd, f)
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Also list tools that were not selected")
	return cmd
}
