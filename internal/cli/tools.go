package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	engine "github.com/ZanzyTHEbar/lintscale/pkg/lintscale"
	"github.com/spf13/cobra"
)

func ToolsCmd(g *globalFlags) *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools known to the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, cfg, logger, err := g.load(cmd)
			if err != nil {
				return err
			}
			cfg.Cache.Enabled = false
			rt, err := engine.Build(cmd.Context(), cfg, root, engine.WithLogger(logger))
			if err != nil {
				return err
			}
			defer rt.Close()

			tools := rt.Registry.Tools()
			if language != "" {
				tools = rt.Registry.ByLanguage(language)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPHASE\tFAMILY\tCATEGORY\tACTIONS")
			for _, t := range tools {
				actions := make([]string, len(t.Actions))
				for i, a := range t.Actions {
					actions[i] = a.ID
				}
				category := t.Category
				if category == "" {
					category = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Phase, t.Family, category, strings.Join(actions, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "Only tools for this language")
	return cmd
}
