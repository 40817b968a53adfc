package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/roach88/runlog/internal/model"
)

const runColumns = `
	event_id, run_id, agent_name, job_type, trigger_type,
	start_time, end_time, status, duration_ms,
	items_discovered, items_succeeded, items_failed,
	input_summary, output_summary, error_summary, error_details,
	metrics_json, context_json,
	product, platform, product_family, website, website_section, item_name, insight_id,
	git_repo, git_branch, git_run_tag, git_commit_hash,
	git_commit_author, git_commit_timestamp, git_commit_source,
	schema_version, created_at, updated_at`

const insertRunSQL = `
	INSERT INTO runs (` + runColumns + `)
	VALUES (
		:event_id, :run_id, :agent_name, :job_type, :trigger_type,
		:start_time, :end_time, :status, :duration_ms,
		:items_discovered, :items_succeeded, :items_failed,
		:input_summary, :output_summary, :error_summary, :error_details,
		:metrics_json, :context_json,
		:product, :platform, :product_family, :website, :website_section, :item_name, :insight_id,
		:git_repo, :git_branch, :git_run_tag, :git_commit_hash,
		:git_commit_author, :git_commit_timestamp, :git_commit_source,
		:schema_version, :created_at, :updated_at
	)
	ON CONFLICT(event_id) DO NOTHING`

// InsertRun writes a canonicalized run. Uses ON CONFLICT(event_id) DO
// NOTHING for idempotency: a duplicate event_id leaves the existing row
// untouched and returns inserted=false.
func (s *Store) InsertRun(ctx context.Context, r *model.Run) (inserted bool, err error) {
	res, err := sqlx.NamedExecContext(ctx, s.writer, insertRunSQL, r)
	if err != nil {
		return false, fmt.Errorf("insert run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert run: rows affected: %w", err)
	}
	return n > 0, nil
}

// InsertRunTx is InsertRun inside a caller-owned transaction; batch
// ingestion groups records this way to amortize fsync.
func (s *Store) InsertRunTx(ctx context.Context, tx *sqlx.Tx, r *model.Run) (inserted bool, err error) {
	res, err := tx.NamedExecContext(ctx, insertRunSQL, r)
	if err != nil {
		return false, fmt.Errorf("insert run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert run: rows affected: %w", err)
	}
	return n > 0, nil
}

// BeginTx starts a write transaction on the single writer connection.
func (s *Store) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := s.writer.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, nil
}

// patchableColumns is the PATCH whitelist. event_id, run_id, and created_at
// are invariant for the life of a row; everything else may be rewritten.
var patchableColumns = map[string]bool{
	"agent_name": true, "job_type": true, "trigger_type": true,
	"start_time": true, "end_time": true, "status": true, "duration_ms": true,
	"items_discovered": true, "items_succeeded": true, "items_failed": true,
	"input_summary": true, "output_summary": true,
	"error_summary": true, "error_details": true,
	"metrics_json": true, "context_json": true,
	"product": true, "platform": true, "product_family": true,
	"website": true, "website_section": true, "item_name": true, "insight_id": true,
	"git_repo": true, "git_branch": true, "git_run_tag": true,
	"git_commit_hash": true, "git_commit_author": true,
	"git_commit_timestamp": true, "git_commit_source": true,
	"schema_version": true,
}

// PatchableColumn reports whether a PATCH may target the column.
func PatchableColumn(name string) bool {
	return patchableColumns[name]
}

// UpdateRun applies a whitelisted partial update to the row with eventID.
// fields maps column name to new value (nil clears a nullable column).
// updated_at is always rewritten. Returns found=false when no row matches.
func (s *Store) UpdateRun(ctx context.Context, eventID string, fields map[string]any, updatedAt time.Time) (found bool, err error) {
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !patchableColumns[col] {
			return false, fmt.Errorf("update run: column %s not patchable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var set strings.Builder
	args := make([]any, 0, len(cols)+2)
	for _, col := range cols {
		fmt.Fprintf(&set, "%s = ?, ", col)
		args = append(args, fields[col])
	}
	set.WriteString("updated_at = ?")
	args = append(args, model.NormalizeTime(updatedAt), eventID)

	res, err := s.writer.ExecContext(ctx,
		`UPDATE runs SET `+set.String()+` WHERE event_id = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("update run %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update run %s: rows affected: %w", eventID, err)
	}
	return n > 0, nil
}

// InsertRunEvent appends one run event. Events carry no idempotency key;
// every call inserts a row.
func (s *Store) InsertRunEvent(ctx context.Context, e *model.RunEvent) error {
	res, err := sqlx.NamedExecContext(ctx, s.writer, `
		INSERT INTO run_events (run_id, event_type, timestamp, message, metadata_json)
		VALUES (:run_id, :event_type, :timestamp, :message, :metadata_json)
	`, e)
	if err != nil {
		return fmt.Errorf("insert run event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// DeleteRunsBefore removes up to limit runs with created_at older than
// cutoff. Retention calls this in a loop so no single transaction holds the
// write lock for long. Returns the number of rows removed.
func (s *Store) DeleteRunsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := s.writer.ExecContext(ctx, `
		DELETE FROM runs WHERE rowid IN (
			SELECT rowid FROM runs WHERE created_at < ? LIMIT ?
		)
	`, model.NormalizeTime(cutoff), limit)
	if err != nil {
		return 0, fmt.Errorf("delete runs before %s: %w", cutoff, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete runs: rows affected: %w", err)
	}
	return n, nil
}

// DeleteRunEventsBefore removes up to limit run events older than cutoff.
func (s *Store) DeleteRunEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := s.writer.ExecContext(ctx, `
		DELETE FROM run_events WHERE id IN (
			SELECT id FROM run_events WHERE timestamp < ? LIMIT ?
		)
	`, model.NormalizeTime(cutoff), limit)
	if err != nil {
		return 0, fmt.Errorf("delete run events before %s: %w", cutoff, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete run events: rows affected: %w", err)
	}
	return n, nil
}

// Vacuum reclaims space after retention deletes.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.writer.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}
