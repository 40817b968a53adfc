package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/runlog/internal/model"
)

// VerifyResult reports schema verification. Diagnostics is human-readable
// and empty when OK is true.
type VerifyResult struct {
	OK          bool
	Version     int
	Diagnostics []string
}

// requiredColumns lists every column verification expects, per table.
var requiredColumns = map[string][]string{
	"runs": {
		"event_id", "run_id", "agent_name", "job_type", "trigger_type",
		"start_time", "end_time", "status", "duration_ms",
		"items_discovered", "items_succeeded", "items_failed",
		"input_summary", "output_summary", "error_summary", "error_details",
		"metrics_json", "context_json",
		"product", "platform", "product_family",
		"website", "website_section", "item_name", "insight_id",
		"git_repo", "git_branch", "git_run_tag", "git_commit_hash",
		"git_commit_author", "git_commit_timestamp", "git_commit_source",
		"schema_version", "created_at", "updated_at",
	},
	"run_events": {
		"id", "run_id", "event_type", "timestamp", "message", "metadata_json",
	},
	"schema_migrations": {
		"version", "description", "applied_at",
	},
}

// requiredIndexes lists the indexes the query paths depend on.
var requiredIndexes = []string{
	"idx_runs_event_id",
	"idx_runs_run_id",
	"idx_runs_agent_name",
	"idx_runs_job_type",
	"idx_runs_start_time",
	"idx_runs_website_section",
	"idx_runs_insight_id",
	"idx_runs_created_at",
	"idx_run_events_run_id",
}

// VerifySchema checks that every required table, column, and index exists
// and that the recorded schema version is current. It never mutates the
// file, so it is safe against a store another process owns.
func (s *Store) VerifySchema(ctx context.Context) (VerifyResult, error) {
	res := VerifyResult{OK: true}

	for table, cols := range requiredColumns {
		present, err := s.tableColumns(ctx, table)
		if err != nil {
			return VerifyResult{}, err
		}
		if present == nil {
			res.OK = false
			res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("missing table %s", table))
			continue
		}
		for _, col := range cols {
			if !present[col] {
				res.OK = false
				res.Diagnostics = append(res.Diagnostics,
					fmt.Sprintf("table %s missing column %s", table, col))
			}
		}
	}

	for _, idx := range requiredIndexes {
		ok, err := s.indexExists(ctx, idx)
		if err != nil {
			return VerifyResult{}, err
		}
		if !ok {
			res.OK = false
			res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("missing index %s", idx))
		}
	}

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return VerifyResult{}, err
	}
	res.Version = version
	if version != model.CurrentSchemaVersion {
		res.OK = false
		res.Diagnostics = append(res.Diagnostics,
			fmt.Sprintf("schema version %d, want %d", version, model.CurrentSchemaVersion))
	}

	return res, nil
}

// tableColumns returns the column set of a table, or nil if the table does
// not exist.
func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.reader.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column name: %w", err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	if len(cols) == 0 {
		return nil, nil
	}
	return cols, nil
}

func (s *Store) indexExists(ctx context.Context, name string) (bool, error) {
	var n string
	err := s.reader.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'index' AND name = ?`, name).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("index lookup %s: %w", name, err)
	}
	return true, nil
}
