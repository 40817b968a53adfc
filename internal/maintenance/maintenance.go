// Package maintenance implements operator-driven upkeep: verified backups
// with rotation, retention sweeps, and integrity checks. Every operation
// here runs inside the writer guard, never concurrently with a serving
// process.
package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/runlog/internal/metrics"
	"github.com/roach88/runlog/internal/store"
)

// DefaultBatchSize is how many rows one retention transaction removes.
// Small enough to keep any single write-lock hold short.
const DefaultBatchSize = 100_000

const backupTimeFormat = "20060102_150405"

// Backup writes a verified copy of the store into dir and prunes old copies
// beyond keep. Returns the path of the new backup.
func Backup(ctx context.Context, st *store.Store, dir string, keep int, log zerolog.Logger) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir %s: %w", dir, err)
	}

	target := filepath.Join(dir, fmt.Sprintf("runlog_%s.db", time.Now().UTC().Format(backupTimeFormat)))
	if err := st.Backup(ctx, target); err != nil {
		metrics.BackupsTotal.WithLabelValues("failure").Inc()
		return "", err
	}
	metrics.BackupsTotal.WithLabelValues("success").Inc()

	if err := rotate(dir, keep, log); err != nil {
		// The new backup is safe; rotation failure is not fatal.
		log.Warn().Err(err).Msg("backup rotation failed")
	}
	return target, nil
}

// rotate removes the oldest backups beyond keep. Timestamped names sort
// lexicographically in age order.
func rotate(dir string, keep int, log zerolog.Logger) error {
	if keep < 1 {
		keep = 1
	}
	matches, err := filepath.Glob(filepath.Join(dir, "runlog_*.db"))
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}
	sort.Strings(matches)

	for len(matches) > keep {
		victim := matches[0]
		matches = matches[1:]
		if err := os.Remove(victim); err != nil {
			return fmt.Errorf("remove old backup %s: %w", victim, err)
		}
		log.Info().Str("path", victim).Msg("old backup removed")
	}
	return nil
}

// RetentionOptions configures a retention sweep.
type RetentionOptions struct {
	// Days keeps rows younger than this many days. Zero disables the
	// sweep entirely; retention is opt-in.
	Days int

	// BatchSize rows per delete transaction.
	BatchSize int

	// DryRun reports what would be deleted without deleting.
	DryRun bool

	// Vacuum reclaims file space after the sweep.
	Vacuum bool
}

// RetentionResult reports a sweep's effect.
type RetentionResult struct {
	Cutoff        time.Time `json:"cutoff"`
	RunsDeleted   int64     `json:"runs_deleted"`
	EventsDeleted int64     `json:"events_deleted"`
	Batches       int       `json:"batches"`
	DryRun        bool      `json:"dry_run"`
}

// Retention removes runs and run events older than the cutoff in batches,
// logging progress as it goes.
func Retention(ctx context.Context, st *store.Store, opts RetentionOptions, log zerolog.Logger) (*RetentionResult, error) {
	if opts.Days <= 0 {
		return nil, fmt.Errorf("retention: days must be positive")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -opts.Days)
	res := &RetentionResult{Cutoff: cutoff, DryRun: opts.DryRun}

	totalRuns, err := st.CountRunsBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	totalEvents, err := st.CountRunEventsBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		res.RunsDeleted = totalRuns
		res.EventsDeleted = totalEvents
		log.Info().Time("cutoff", cutoff).Int64("runs", totalRuns).
			Int64("events", totalEvents).Msg("retention dry run")
		return res, nil
	}

	started := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := st.DeleteRunsBefore(ctx, cutoff, opts.BatchSize)
		if err != nil {
			return res, err
		}
		if n == 0 {
			break
		}
		res.RunsDeleted += n
		res.Batches++
		metrics.RetentionDeletedTotal.WithLabelValues("runs").Add(float64(n))
		logProgress(log, "runs", res.RunsDeleted, totalRuns, started)
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := st.DeleteRunEventsBefore(ctx, cutoff, opts.BatchSize)
		if err != nil {
			return res, err
		}
		if n == 0 {
			break
		}
		res.EventsDeleted += n
		res.Batches++
		metrics.RetentionDeletedTotal.WithLabelValues("run_events").Add(float64(n))
		logProgress(log, "run_events", res.EventsDeleted, totalEvents, started)
	}

	if opts.Vacuum {
		log.Info().Msg("vacuuming")
		if err := st.Vacuum(ctx); err != nil {
			return res, err
		}
	}

	log.Info().Time("cutoff", cutoff).Int64("runs", res.RunsDeleted).
		Int64("events", res.EventsDeleted).Int("batches", res.Batches).
		Dur("elapsed", time.Since(started)).Msg("retention complete")
	return res, nil
}

// logProgress emits one line per batch with a simple completion estimate.
func logProgress(log zerolog.Logger, table string, done, total int64, started time.Time) {
	evt := log.Info().Str("table", table).Int64("deleted", done).Int64("total", total)
	if total > 0 && done > 0 && done < total {
		elapsed := time.Since(started)
		remaining := time.Duration(float64(elapsed) / float64(done) * float64(total-done))
		evt = evt.Dur("eta", remaining.Round(time.Second))
	}
	evt.Msg("retention progress")
}

// Integrity runs the requested integrity check and returns its verdict.
func Integrity(ctx context.Context, st *store.Store, full bool) (bool, string, error) {
	mode := store.IntegrityQuick
	if full {
		mode = store.IntegrityFull
	}
	return st.IntegrityCheck(ctx, mode)
}
