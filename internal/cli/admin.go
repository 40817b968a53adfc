package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/runlog/internal/config"
	"github.com/roach88/runlog/internal/guard"
	"github.com/roach88/runlog/internal/model"
	"github.com/roach88/runlog/internal/store"
)

// withGuardedStore acquires the writer guard, opens the store, runs fn, and
// cleans up. Every mutating admin command goes through here.
func withGuardedStore(cmd *cobra.Command, rootOpts *RootOptions, fn func(config.Config, *store.Store) error) error {
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

	return fn(cfg, st)
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database and apply the full schema",
		Long: `Create the SQLite database if it does not exist and migrate it to
the current schema version. Safe to run repeatedly.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			return withGuardedStore(cmd, rootOpts, func(_ config.Config, st *store.Store) error {
				if err := st.CreateSchema(cmd.Context()); err != nil {
					return WrapExitError(ExitFailure, "create schema", err)
				}
				return out.Success(map[string]any{
					"database":       st.Path(),
					"schema_version": model.CurrentSchemaVersion,
				})
			})
		},
	}
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var target int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply schema migrations up to --to (default: latest). Downgrades
are not supported; restoring a backup is the rollback path.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			return withGuardedStore(cmd, rootOpts, func(_ config.Config, st *store.Store) error {
				ctx := cmd.Context()
				from, err := st.SchemaVersion(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "read schema version", err)
				}
				if err := st.Migrate(ctx, target); err != nil {
					return WrapExitError(ExitFailure, "migrate", err)
				}
				return out.Success(map[string]any{"from": from, "to": target})
			})
		},
	}

	cmd.Flags().IntVar(&target, "to", model.CurrentSchemaVersion, "target schema version")
	return cmd
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the schema matches the current version",
		Long: `Check that every expected table, column, and index exists. Reports
each missing element; exits 1 when the schema is incomplete.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			return withGuardedStore(cmd, rootOpts, func(_ config.Config, st *store.Store) error {
				res, err := st.VerifySchema(cmd.Context())
				if err != nil {
					return WrapExitError(ExitFailure, "verify schema", err)
				}
				if !res.OK {
					_ = out.Error("E_SCHEMA", "schema verification failed", res.Diagnostics)
					return NewExitError(ExitFailure,
						fmt.Sprintf("schema incomplete: %s", strings.Join(res.Diagnostics, "; ")))
				}
				return out.Success(map[string]any{"schema_version": res.Version, "ok": true})
			})
		},
	}
}

// NewIntegrityCommand creates the integrity command.
func NewIntegrityCommand(rootOpts *RootOptions) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:           "integrity",
		Short:         "Run a database integrity check",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			return withGuardedStore(cmd, rootOpts, func(_ config.Config, st *store.Store) error {
				mode := store.IntegrityQuick
				if full {
					mode = store.IntegrityFull
				}
				ok, msg, err := st.IntegrityCheck(cmd.Context(), mode)
				if err != nil {
					return WrapExitError(ExitFailure, "integrity check", err)
				}
				if !ok {
					_ = out.Error("E_CORRUPT", "integrity check failed", msg)
					return NewExitError(ExitFailure, "database failed integrity check")
				}
				return out.Success(map[string]any{"ok": true, "mode": string(mode)})
			})
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "run the full check instead of quick_check")
	return cmd
}
