package cli

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/runlog/internal/config"
	"github.com/roach88/runlog/internal/engine"
	"github.com/roach88/runlog/internal/guard"
	"github.com/roach88/runlog/internal/query"
	"github.com/roach88/runlog/internal/server"
	"github.com/roach88/runlog/internal/store"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion service",
		Long: `Acquire the writer guard, open the database, apply pending
migrations, and serve the ingestion API until interrupted.

Example:
  runlog serve --db ./runlog.db
  runlog serve --config /etc/runlog.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts)
		},
	}
	return cmd
}

func runServe(cmd *cobra.Command, rootOpts *RootOptions) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}
	log := newLogger(cfg, rootOpts)

	g, err := guard.Acquire(cfg.EffectiveGuardPath())
	if err != nil {
		return WrapExitError(ExitCommandError, "acquire writer guard", err)
	}
	defer g.Release()

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if ok, msg, err := st.IntegrityCheck(ctx, store.IntegrityQuick); err != nil {
		return WrapExitError(ExitFailure, "integrity check", err)
	} else if !ok {
		return NewExitError(ExitFailure, fmt.Sprintf("database failed integrity check: %s", msg))
	}

	if err := st.CreateSchema(ctx); err != nil {
		return WrapExitError(ExitFailure, "migrate", err)
	}

	eng := engine.New(st, log,
		engine.WithMaxInFlight(cfg.MaxInFlight),
		engine.WithBusyRetry(cfg.BusyAttempts, time.Duration(cfg.BusyBackoffMS)*time.Millisecond),
	)
	srv := server.New(cfg, log, eng, query.New(st, log), st)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(runCtx); err != nil {
		return WrapExitError(ExitFailure, "server", err)
	}
	return nil
}

// openStore opens the configured database.
func openStore(cfg config.Config, log zerolog.Logger) (*store.Store, error) {
	journal := store.JournalDelete
	if cfg.Journal == "wal" {
		journal = store.JournalWAL
	}
	st, err := store.Open(cfg.DBPath, store.Options{Journal: journal, Logger: log})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}
	return st, nil
}
