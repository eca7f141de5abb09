package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xela07ax/aurora-telemetry/internal/infra"
	"go.uber.org/zap"
)

// cli: общее состояние подкоманд, заполняется в PersistentPreRunE
type cli struct {
	cfgFile string
	cfg     *infra.Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "auditctl",
		Short:         "Operator tools for the Aurora audit log and telemetry store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig(c.cfgFile)
			if err != nil {
				return err
			}
			// в терминале читаемый вывод, уровень берем из конфига
			cfg.Logger.Format = "console"
			logger, err := infra.NewLogger(cfg.Logger)
			if err != nil {
				return err
			}
			c.cfg, c.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default ./config.yaml or ./configs/config.yaml)")

	root.AddCommand(
		newVerifyCmd(c),
		newCompactCmd(c),
		newRollupCmd(c),
		newMigrateCmd(c),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
