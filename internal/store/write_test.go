package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runlog/internal/model"
)

func TestInsertRun_DuplicateEventIDIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testStoreRun("evt-1")
	first.InputSummary = "original"
	inserted, err := s.InsertRun(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same event_id, different payload. The existing row must win.
	second := testStoreRun("evt-1")
	second.InputSummary = "replacement"
	second.Status = model.StatusFailure
	inserted, err = s.InsertRun(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.GetRun(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "original", got.InputSummary)
	assert.Equal(t, model.StatusRunning, got.Status)
}

func TestInsertRun_RoundTripsNullableFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	website := "example.com"
	source := model.GitSourceManual
	commitTS := model.NormalizeTime(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))

	r := testStoreRun("evt-null")
	r.Website = &website
	r.GitCommitSource = &source
	r.GitCommitTimestamp = &commitTS

	inserted, err := s.InsertRun(ctx, r)
	require.NoError(t, err)
	require.True(t, inserted)

	got, err := s.GetRun(ctx, "evt-null")
	require.NoError(t, err)
	require.NotNil(t, got.Website)
	assert.Equal(t, "example.com", *got.Website)
	require.NotNil(t, got.GitCommitTimestamp)
	assert.True(t, got.GitCommitTimestamp.Equal(commitTS))
	assert.Nil(t, got.Product, "unset optional columns stay NULL")
	assert.Nil(t, got.EndTime)
}

func TestInsertRunTx_BatchCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)

	for _, id := range []string{"b-1", "b-2", "b-1"} {
		_, err := s.InsertRunTx(ctx, tx, testStoreRun(id))
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())

	runs, err := s.ListRuns(ctx, ListFilter{}, ListPage{})
	require.NoError(t, err)
	assert.Len(t, runs, 2, "duplicate in the batch collapses to one row")
}

func TestInsertRunTx_RollbackLeavesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	_, err = s.InsertRunTx(ctx, tx, testStoreRun("rb-1"))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	_, err = s.GetRun(ctx, "rb-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := testStoreRun("up-1")
	_, err := s.InsertRun(ctx, r)
	require.NoError(t, err)

	end := model.NormalizeTime(time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC))
	found, err := s.UpdateRun(ctx, "up-1", map[string]any{
		"status":          model.StatusSuccess,
		"end_time":        end,
		"duration_ms":     int64(300_000),
		"output_summary":  "done",
		"items_succeeded": int64(42),
	}, time.Date(2025, 1, 1, 0, 5, 1, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, found)

	got, err := s.GetRun(ctx, "up-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, got.Status)
	require.NotNil(t, got.EndTime)
	assert.True(t, got.EndTime.Equal(end))
	assert.Equal(t, int64(300_000), got.DurationMS)
	assert.Equal(t, int64(42), got.ItemsSucceeded)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))
}

func TestUpdateRun_ClearsNullableColumn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	website := "example.com"
	r := testStoreRun("up-null")
	r.Website = &website
	_, err := s.InsertRun(ctx, r)
	require.NoError(t, err)

	found, err := s.UpdateRun(ctx, "up-null", map[string]any{"website": nil}, time.Now())
	require.NoError(t, err)
	assert.True(t, found)

	got, err := s.GetRun(ctx, "up-null")
	require.NoError(t, err)
	assert.Nil(t, got.Website)
}

func TestUpdateRun_NotFound(t *testing.T) {
	s := newTestStore(t)

	found, err := s.UpdateRun(context.Background(), "missing",
		map[string]any{"status": model.StatusSuccess}, time.Now())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdateRun_RejectsNonPatchableColumn(t *testing.T) {
	s := newTestStore(t)

	for _, col := range []string{"event_id", "run_id", "created_at", "nonsense"} {
		_, err := s.UpdateRun(context.Background(), "x", map[string]any{col: "v"}, time.Now())
		assert.Error(t, err, "column %s must be rejected", col)
	}
}

func TestInsertRunEvent_AssignsID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &model.RunEvent{
		RunID:     "run-1",
		EventType: "checkpoint",
		Message:   "halfway",
	}
	e.Canonicalize(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, s.InsertRunEvent(ctx, e))
	assert.Positive(t, e.ID)

	// No idempotency key: a second insert appends another row.
	e2 := &model.RunEvent{RunID: "run-1", EventType: "checkpoint", Message: "halfway"}
	e2.Canonicalize(time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC))
	require.NoError(t, s.InsertRunEvent(ctx, e2))

	events, err := s.ListRunEvents(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Less(t, events[0].ID, events[1].ID)
}

func TestDeleteRunsBefore_Batched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, created := range []time.Time{old, old, old, recent} {
		r := testStoreRun(string(rune('a' + i)))
		r.CreatedAt = model.NormalizeTime(created)
		_, err := s.InsertRun(ctx, r)
		require.NoError(t, err)
	}

	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	n, err := s.CountRunsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// limit=2 forces two passes.
	deleted, err := s.DeleteRunsBefore(ctx, cutoff, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	deleted, err = s.DeleteRunsBefore(ctx, cutoff, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := s.ListRuns(ctx, ListFilter{}, ListPage{})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	require.NoError(t, s.Vacuum(ctx))
}

func TestDeleteRunEventsBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, ts := range []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	} {
		e := &model.RunEvent{RunID: "run-1", EventType: "progress", Message: "step"}
		e.Canonicalize(ts)
		require.NoError(t, s.InsertRunEvent(ctx, e), "event %d", i)
	}

	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	n, err := s.CountRunEventsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	deleted, err := s.DeleteRunEventsBefore(ctx, cutoff, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	events, err := s.ListRunEvents(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
