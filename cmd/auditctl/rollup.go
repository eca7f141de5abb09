package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/xela07ax/aurora-telemetry/internal/app"
	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"github.com/xela07ax/aurora-telemetry/internal/rollup"
)

func newRollupCmd(c *cli) *cobra.Command {
	var (
		horizon time.Duration
		full    bool
	)
	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Recompute rollup buckets over a horizon",
		Long: `Recomputes every rollup window from raw events, using the same code path
as the periodic roller. --full recomputes the whole history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !full && horizon <= 0 {
				return errors.New("either --horizon or --full is required")
			}
			if full {
				horizon = 0
			}

			windows := make([]domain.Window, 0, len(c.cfg.Rollup.Windows))
			for _, sec := range c.cfg.Rollup.Windows {
				w, err := domain.ParseWindow(sec)
				if err != nil {
					return err
				}
				windows = append(windows, w)
			}

			store, err := app.OpenStore(cmd.Context(), c.cfg.Database, c.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			agg := rollup.NewAggregator(store, rollup.Options{Windows: windows}, nil, c.logger)
			if err := agg.Recompute(cmd.Context(), horizon); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rollups recomputed for %d windows\n", len(windows))
			return nil
		},
	}
	cmd.Flags().DurationVar(&horizon, "horizon", 0, "recompute buckets newer than now-horizon (e.g. 24h)")
	cmd.Flags().BoolVar(&full, "full", false, "recompute the whole history")
	cmd.MarkFlagsMutuallyExclusive("horizon", "full")
	return cmd
}
