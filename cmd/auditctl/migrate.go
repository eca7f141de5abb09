package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xela07ax/aurora-telemetry/internal/app"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the events, rollup and consent tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbCfg := c.cfg.Database
			dbCfg.AutoMigrate = true
			store, err := app.OpenStore(cmd.Context(), dbCfg, c.logger)
			if err != nil {
				return err
			}
			store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema is up to date (%s)\n", dbCfg.Driver)
			return nil
		},
	}
}
