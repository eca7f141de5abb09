package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xela07ax/aurora-telemetry/internal/audit"
	"go.uber.org/zap"
)

// errChainBroken: код выхода 1 для CI и крона
var errChainBroken = errors.New("audit chain verification failed")

func newVerifyCmd(c *cli) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain of the audit log",
		Long: `Reads the audit log line by line and reports every parse error, prev-hash
mismatch and hash mismatch. Exits non-zero if any violation is found.
A missing log file is reported as a warning and is not a failure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = c.cfg.Audit.LogPath
			}
			rep, err := audit.VerifyFile(path)
			if err != nil {
				return err
			}
			if rep.Missing {
				c.logger.Warn("audit log not found, nothing to verify", zap.String("path", path))
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), rep.String())
			if !rep.OK() {
				return errChainBroken
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "audit log to verify (default audit.log_path)")
	return cmd
}
