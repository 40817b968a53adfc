package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/runlog/internal/model"
)

// Migration is one schema step. Each migration runs in its own transaction
// and records itself in schema_migrations on success.
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

// migrations is the ordered chain from an empty file to the current schema.
// Fresh databases run the whole chain; existing databases resume after their
// recorded version. Never reorder or edit a shipped migration; append.
var migrations = []Migration{
	{
		Version:     1,
		Description: "runs table with idempotency key and core indexes",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS runs (
				event_id         TEXT NOT NULL,
				run_id           TEXT NOT NULL,
				agent_name       TEXT NOT NULL,
				job_type         TEXT NOT NULL,
				trigger_type     TEXT NOT NULL DEFAULT '',
				start_time       DATETIME NOT NULL,
				end_time         DATETIME,
				status           TEXT NOT NULL DEFAULT 'running',
				duration_ms      INTEGER NOT NULL DEFAULT 0 CHECK (duration_ms >= 0),
				items_discovered INTEGER NOT NULL DEFAULT 0 CHECK (items_discovered >= 0),
				items_succeeded  INTEGER NOT NULL DEFAULT 0 CHECK (items_succeeded >= 0),
				items_failed     INTEGER NOT NULL DEFAULT 0 CHECK (items_failed >= 0),
				input_summary    TEXT NOT NULL DEFAULT '',
				output_summary   TEXT NOT NULL DEFAULT '',
				error_summary    TEXT NOT NULL DEFAULT '',
				error_details    TEXT NOT NULL DEFAULT '',
				metrics_json     TEXT NOT NULL DEFAULT '',
				schema_version   INTEGER NOT NULL DEFAULT 1,
				created_at       DATETIME NOT NULL,
				updated_at       DATETIME NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_event_id ON runs(event_id)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_run_id ON runs(run_id)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_agent_name ON runs(agent_name)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_job_type ON runs(job_type)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_start_time ON runs(start_time)`,
		},
	},
	{
		Version:     2,
		Description: "run_events append-only log",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS run_events (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id        TEXT NOT NULL,
				event_type    TEXT NOT NULL,
				timestamp     DATETIME NOT NULL,
				message       TEXT NOT NULL DEFAULT '',
				metadata_json TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id)`,
		},
	},
	{
		Version:     3,
		Description: "taxonomy columns and website lookup index",
		Statements: []string{
			`ALTER TABLE runs ADD COLUMN product TEXT`,
			`ALTER TABLE runs ADD COLUMN platform TEXT`,
			`ALTER TABLE runs ADD COLUMN product_family TEXT`,
			`ALTER TABLE runs ADD COLUMN website TEXT`,
			`ALTER TABLE runs ADD COLUMN website_section TEXT`,
			`ALTER TABLE runs ADD COLUMN item_name TEXT`,
			`CREATE INDEX IF NOT EXISTS idx_runs_website_section ON runs(website, website_section)`,
		},
	},
	{
		Version:     4,
		Description: "git provenance columns",
		Statements: []string{
			`ALTER TABLE runs ADD COLUMN git_repo TEXT`,
			`ALTER TABLE runs ADD COLUMN git_branch TEXT`,
			`ALTER TABLE runs ADD COLUMN git_run_tag TEXT`,
			`ALTER TABLE runs ADD COLUMN git_commit_hash TEXT`,
			`ALTER TABLE runs ADD COLUMN git_commit_author TEXT`,
			`ALTER TABLE runs ADD COLUMN git_commit_timestamp DATETIME`,
			`ALTER TABLE runs ADD COLUMN git_commit_source TEXT
				CHECK (git_commit_source IS NULL OR git_commit_source IN ('manual','llm','ci'))`,
		},
	},
	{
		Version:     5,
		Description: "insight_id and retention support indexes",
		Statements: []string{
			`ALTER TABLE runs ADD COLUMN insight_id TEXT`,
			`CREATE INDEX IF NOT EXISTS idx_runs_insight_id ON runs(insight_id)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
		},
	},
	{
		Version:     6,
		Description: "opaque context_json payload",
		Statements: []string{
			`ALTER TABLE runs ADD COLUMN context_json TEXT NOT NULL DEFAULT ''`,
		},
	},
}

// CreateSchema brings the store to the current schema version. Idempotent:
// already-applied migrations are skipped.
func (s *Store) CreateSchema(ctx context.Context) error {
	return s.Migrate(ctx, model.CurrentSchemaVersion)
}

// Migrate applies ordered migrations up to toVersion. Each migration is one
// transaction; a failure rolls that migration back and stops the chain with
// the store at the last fully applied version.
func (s *Store) Migrate(ctx context.Context, toVersion int) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if toVersion < current {
		return fmt.Errorf("migrate: downgrade from v%d to v%d not supported", current, toVersion)
	}
	if toVersion > migrations[len(migrations)-1].Version {
		return fmt.Errorf("migrate: unknown target version v%d", toVersion)
	}

	for _, m := range migrations {
		if m.Version <= current || m.Version > toVersion {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migrate to v%d (%s): %w", m.Version, m.Description, err)
		}
		s.log.Info().
			Int("version", m.Version).
			Str("description", m.Description).
			Msg("applied schema migration")
	}

	return nil
}

func (s *Store) applyMigration(ctx context.Context, m Migration) error {
	tx, err := s.writer.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, description, applied_at)
		VALUES (?, ?, ?)
	`, m.Version, m.Description, model.NormalizeTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return tx.Commit()
}

func (s *Store) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.writer.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration version, 0 for a
// fresh file.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	h := s.writer
	if h == nil {
		h = s.reader
	}
	var version sql.NullInt64
	err := h.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		// A missing table means a fresh file.
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("schema version: %w", err)
	}
	return int(version.Int64), nil
}

// Migrations exposes the chain for the CLI's migration listing.
func Migrations() []Migration {
	out := make([]Migration, len(migrations))
	copy(out, migrations)
	return out
}
