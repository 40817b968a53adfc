package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runlog/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, s.CreateSchema(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testStoreRun(eventID string) *model.Run {
	r := &model.Run{
		EventID:   eventID,
		RunID:     "run-" + eventID,
		AgentName: "scraper",
		JobType:   "crawl",
		Status:    model.StatusRunning,
		StartTime: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	_ = r.Canonicalize(time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC))
	return r
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	s, err := Open(path, Options{})
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file should exist")
}

func TestOpen_VerifiesPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path, Options{})
	require.NoError(t, err)
	defer s.Close()

	var mode string
	require.NoError(t, s.writer.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "delete", mode)

	var sync int
	require.NoError(t, s.writer.QueryRow("PRAGMA synchronous").Scan(&sync))
	assert.Equal(t, 2, sync, "synchronous should be FULL")

	var busy int
	require.NoError(t, s.writer.QueryRow("PRAGMA busy_timeout").Scan(&busy))
	assert.Equal(t, 30_000, busy)
}

func TestOpen_WALOptIn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path, Options{Journal: JournalWAL})
	require.NoError(t, err)
	defer s.Close()

	var mode string
	require.NoError(t, s.writer.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	// Checkpoint is meaningful under WAL.
	assert.NoError(t, s.Checkpoint(context.Background()))
}

func TestCheckpoint_NoOpUnderDelete(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Checkpoint(context.Background()))
}

func TestMigrate_FreshDatabaseReachesCurrent(t *testing.T) {
	s := newTestStore(t)

	version, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.CurrentSchemaVersion, version)

	// One schema_migrations row per migration.
	var rows int
	require.NoError(t, s.writer.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&rows))
	assert.Equal(t, len(Migrations()), rows)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSchema(ctx))
	require.NoError(t, s.CreateSchema(ctx))

	var rows int
	require.NoError(t, s.writer.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&rows))
	assert.Equal(t, len(Migrations()), rows)
}

func TestMigrate_Stepwise(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path, Options{})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx, 2))
	version, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	// v2 schema has no taxonomy columns yet.
	cols, err := s.tableColumns(ctx, "runs")
	require.NoError(t, err)
	assert.False(t, cols["website"])

	require.NoError(t, s.Migrate(ctx, model.CurrentSchemaVersion))
	cols, err = s.tableColumns(ctx, "runs")
	require.NoError(t, err)
	assert.True(t, cols["website"])
	assert.True(t, cols["context_json"])
}

func TestMigrate_RejectsDowngradeAndUnknown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.Migrate(ctx, 1), "downgrade should be rejected")
	assert.Error(t, s.Migrate(ctx, model.CurrentSchemaVersion+1), "unknown target should be rejected")
}

func TestVerifySchema_OK(t *testing.T) {
	s := newTestStore(t)

	res, err := s.VerifySchema(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK, "diagnostics: %v", res.Diagnostics)
	assert.Equal(t, model.CurrentSchemaVersion, res.Version)
	assert.Empty(t, res.Diagnostics)
}

func TestVerifySchema_ReportsMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path, Options{})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	// Stop at v4: insight_id and context_json are absent.
	require.NoError(t, s.Migrate(ctx, 4))

	res, err := s.VerifySchema(ctx)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Diagnostics)
}

func TestVerifySchema_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path, Options{})
	require.NoError(t, err)
	defer s.Close()

	res, err := s.VerifySchema(context.Background())
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestIntegrityCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, mode := range []IntegrityMode{IntegrityQuick, IntegrityFull} {
		ok, msg, err := s.IntegrityCheck(ctx, mode)
		require.NoError(t, err)
		assert.True(t, ok, "mode %s: %s", mode, msg)
		assert.Equal(t, "ok", msg)
	}
}

func TestBackup_ProducesVerifiedCopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertRun(ctx, testStoreRun("bk-1"))
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, s.Backup(ctx, target))

	copyStore, err := Open(target, Options{})
	require.NoError(t, err)
	defer copyStore.Close()

	got, err := copyStore.GetRun(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, "bk-1", got.EventID)
}

func TestBackup_RefusesExistingTarget(t *testing.T) {
	s := newTestStore(t)
	target := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, os.WriteFile(target, []byte("occupied"), 0o644))

	assert.Error(t, s.Backup(context.Background(), target))
}
