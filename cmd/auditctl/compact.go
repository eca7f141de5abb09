package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/xela07ax/aurora-telemetry/internal/audit"
)

func newCompactCmd(c *cli) *cobra.Command {
	var (
		archiveDir string
		retention  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Archive audit records older than the retention period",
		Long: `Moves records older than --retention into a gzip archive and rewrites the
live log so that its chain starts from genesis again. A log with unparseable
lines is left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if archiveDir == "" {
				archiveDir = c.cfg.Audit.ArchiveDir
			}
			if retention <= 0 {
				retention = c.cfg.Audit.Retention
			}

			l, err := audit.Open(c.cfg.Audit.LogPath, audit.Options{FileLock: c.cfg.Audit.FileLock}, nil, c.logger)
			if err != nil {
				return err
			}
			res, err := l.Compact(cmd.Context(), archiveDir, retention, time.Now())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "archived %d, retained %d\n", res.Archived, res.Retained)
			if res.ArchivePath != "" {
				fmt.Fprintf(out, "archive: %s\n", res.ArchivePath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&archiveDir, "archive-dir", "", "archive directory (default audit.archive_dir)")
	cmd.Flags().DurationVar(&retention, "retention", 0, "keep records newer than this (default audit.retention)")
	return cmd
}
