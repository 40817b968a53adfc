package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/runlog/internal/config"
	"github.com/roach88/runlog/internal/maintenance"
	"github.com/roach88/runlog/internal/store"
	"github.com/roach88/runlog/pkg/client"
)

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dir  string
		keep int
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a verified backup of the database",
		Long: `Copy the database into the backup directory with VACUUM INTO, verify
the copy, and prune old backups beyond --keep.

Example:
  runlog backup --dest ./backups --keep 7`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			return withGuardedStore(cmd, rootOpts, func(cfg config.Config, st *store.Store) error {
				if dir == "" {
					dir = cfg.BackupDir
				}
				if dir == "" {
					return NewExitError(ExitCommandError,
						"backup directory required (--dest or backup_dir in config)")
				}
				if keep == 0 {
					keep = cfg.KeepBackups
				}
				path, err := maintenance.Backup(cmd.Context(), st, dir, keep, newLogger(cfg, rootOpts))
				if err != nil {
					return WrapExitError(ExitFailure, "backup", err)
				}
				return out.Success(map[string]any{"backup": path, "keep": keep})
			})
		},
	}

	cmd.Flags().StringVar(&dir, "dest", "", "backup directory (defaults to config backup_dir)")
	cmd.Flags().IntVar(&keep, "keep", 0, "backups to retain (defaults to config keep_backups)")
	return cmd
}

// NewRetentionCommand creates the retention command.
func NewRetentionCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		days      int
		batchSize int
		dryRun    bool
		vacuum    bool
	)

	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Delete runs and events older than the retention window",
		Long: `Delete runs and run events older than --days in batches. With
--dry-run, report what would be deleted without touching anything.

Example:
  runlog retention --days 90 --dry-run
  runlog retention --days 90 --vacuum`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			return withGuardedStore(cmd, rootOpts, func(cfg config.Config, st *store.Store) error {
				if days == 0 {
					days = cfg.RetentionDays
				}
				res, err := maintenance.Retention(cmd.Context(), st, maintenance.RetentionOptions{
					Days:      days,
					BatchSize: batchSize,
					DryRun:    dryRun,
					Vacuum:    vacuum,
				}, newLogger(cfg, rootOpts))
				if err != nil {
					return WrapExitError(ExitFailure, "retention", err)
				}
				if rootOpts.Format == "text" {
					verb := "deleted"
					if res.DryRun {
						verb = "would delete"
					}
					return out.Success(fmt.Sprintf("%s %d runs and %d events older than %s",
						verb, res.RunsDeleted, res.EventsDeleted, res.Cutoff.Format(time.RFC3339)))
				}
				return out.Success(res)
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "retention window in days (defaults to config retention_days)")
	cmd.Flags().IntVar(&batchSize, "batch", 0, "rows per delete batch")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without deleting")
	cmd.Flags().BoolVar(&vacuum, "vacuum", false, "vacuum after deleting")
	return cmd
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		serverURL string
		bufferDir string
		agentName string
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay buffered telemetry against a running service",
		Long: `Drain NDJSON failover buffer files oldest-first against the service.
Replay halts as soon as the service looks unavailable again; rerun later
to pick up where it stopped.

Example:
  runlog replay --buffer-dir ~/.runlog/buffer --server http://127.0.0.1:8787`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if serverURL == "" {
				serverURL = "http://" + cfg.Addr
			}
			if bufferDir == "" {
				return NewExitError(ExitCommandError, "buffer directory required (--buffer-dir)")
			}

			c, err := client.New(client.Config{
				BaseURL:   serverURL,
				AgentName: agentName,
				BufferDir: bufferDir,
				Strict:    true,
				Logger:    newLogger(cfg, rootOpts),
			})
			if err != nil {
				return WrapExitError(ExitCommandError, "build client", err)
			}

			pending, err := c.Buffered()
			if err != nil {
				return WrapExitError(ExitFailure, "scan buffer", err)
			}
			if pending == 0 {
				return out.Success("buffer empty, nothing to replay")
			}
			out.VerboseLog("replaying %d buffered entries", pending)

			if err := c.Replay(cmd.Context()); err != nil {
				return WrapExitError(ExitFailure, "replay", err)
			}
			return out.Success(map[string]any{"replayed": pending})
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "service base URL (defaults to config addr)")
	cmd.Flags().StringVar(&bufferDir, "buffer-dir", "", "failover buffer directory")
	cmd.Flags().StringVar(&agentName, "agent", "runlog-replay", "agent name for the replay client")
	return cmd
}
