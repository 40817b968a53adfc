package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runlog/internal/logging"
	"github.com/roach88/runlog/internal/model"
	"github.com/roach88/runlog/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "runs.db"), store.Options{})
	require.NoError(t, err)
	require.NoError(t, s.CreateSchema(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func insertAgedRun(t *testing.T, s *store.Store, eventID string, age time.Duration) {
	t.Helper()
	created := time.Now().UTC().Add(-age)
	r := &model.Run{
		EventID:   eventID,
		RunID:     "run-" + eventID,
		AgentName: "scraper",
		JobType:   "crawl",
		Status:    model.StatusSuccess,
		StartTime: created,
		CreatedAt: created,
	}
	require.NoError(t, r.Canonicalize(created))
	_, err := s.InsertRun(context.Background(), r)
	require.NoError(t, err)
}

func TestBackup_CreatesAndRotates(t *testing.T) {
	s := newTestStore(t)
	insertAgedRun(t, s, "bk-1", time.Hour)
	dir := t.TempDir()
	log := logging.Nop()
	ctx := context.Background()

	// Pre-seed fake old backups so rotation has victims.
	for _, name := range []string{
		"runlog_20240101_000000.db",
		"runlog_20240102_000000.db",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("old"), 0o644))
	}

	path, err := Backup(ctx, s, dir, 2, log)
	require.NoError(t, err)
	assert.FileExists(t, path)

	matches, err := filepath.Glob(filepath.Join(dir, "runlog_*.db"))
	require.NoError(t, err)
	assert.Len(t, matches, 2, "oldest backup pruned")
	assert.NotContains(t, matches, filepath.Join(dir, "runlog_20240101_000000.db"))

	// The copy is a usable store.
	copyStore, err := store.Open(path, store.Options{})
	require.NoError(t, err)
	defer copyStore.Close()
	got, err := copyStore.GetRun(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, "bk-1", got.EventID)
}

func TestRetention_DryRunCountsOnly(t *testing.T) {
	s := newTestStore(t)
	insertAgedRun(t, s, "old-1", 100*24*time.Hour)
	insertAgedRun(t, s, "old-2", 95*24*time.Hour)
	insertAgedRun(t, s, "new-1", 24*time.Hour)
	ctx := context.Background()

	res, err := Retention(ctx, s, RetentionOptions{Days: 90, DryRun: true}, logging.Nop())
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, int64(2), res.RunsDeleted)

	// Nothing actually removed.
	sum, err := s.GetSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.TotalRuns)
}

func TestRetention_DeletesInBatches(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		insertAgedRun(t, s, fmt.Sprintf("old-%d", i), 100*24*time.Hour)
	}
	insertAgedRun(t, s, "new-1", time.Hour)

	oldEvent := &model.RunEvent{RunID: "run-old-0", EventType: "progress", Message: "x"}
	oldEvent.Canonicalize(time.Now().UTC().Add(-100 * 24 * time.Hour))
	oldEvent.Timestamp = time.Now().UTC().Add(-100 * 24 * time.Hour)
	require.NoError(t, s.InsertRunEvent(context.Background(), oldEvent))

	res, err := Retention(context.Background(), s,
		RetentionOptions{Days: 90, BatchSize: 2, Vacuum: true}, logging.Nop())
	require.NoError(t, err)

	assert.Equal(t, int64(5), res.RunsDeleted)
	assert.Equal(t, int64(1), res.EventsDeleted)
	assert.GreaterOrEqual(t, res.Batches, 4, "batch size 2 forces multiple passes")

	sum, err := s.GetSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.TotalRuns)
}

func TestRetention_RejectsZeroDays(t *testing.T) {
	s := newTestStore(t)

	_, err := Retention(context.Background(), s, RetentionOptions{}, logging.Nop())
	assert.Error(t, err)
}

func TestIntegrity(t *testing.T) {
	s := newTestStore(t)

	for _, full := range []bool{false, true} {
		ok, msg, err := Integrity(context.Background(), s, full)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "ok", msg)
	}
}
