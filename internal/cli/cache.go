package cli

import (
	"fmt"

	engine "github.com/ZanzyTHEbar/lintscale/pkg/lintscale"
	"github.com/spf13/cobra"
)

func CacheCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the result cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached tool outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, cfg, logger, err := g.load(cmd)
			if err != nil {
				return err
			}
			store, err := engine.OpenStore(cfg, root)
			if err != nil {
				return err
			}
			rt, err := engine.Build(cmd.Context(), cfg, root, engine.WithLogger(logger), engine.WithCacheStore(store))
			if err != nil {
				_ = store.Close()
				return err
			}
			defer rt.Close()
			if err := rt.ClearCache(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s cache in %s\n", cfg.Cache.Backend, cfg.CacheDir(root))
			return nil
		},
	})
	return cmd
}
