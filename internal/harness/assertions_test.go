package harness

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runlog/internal/logging"
	"github.com/roach88/runlog/internal/model"
	"github.com/roach88/runlog/internal/store"
)

func newAssertionContext(t *testing.T) *AssertionContext {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"), store.Options{Logger: logging.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.CreateSchema(context.Background()))
	return &AssertionContext{Store: st, Ctx: context.Background()}
}

func seedRun(t *testing.T, actx *AssertionContext, eventID, status string) {
	t.Helper()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &model.Run{
		EventID:   eventID,
		RunID:     "run-" + eventID,
		AgentName: "scraper",
		JobType:   "crawl",
		Status:    status,
		StartTime: now,
	}
	require.NoError(t, r.Canonicalize(now))
	require.NoError(t, r.Validate())
	_, err := actx.Store.InsertRun(actx.Ctx, r)
	require.NoError(t, err)
}

func TestAssertRunState_SubsetMatch(t *testing.T) {
	actx := newAssertionContext(t)
	seedRun(t, actx, "e1", model.StatusSuccess)

	failures := EvaluateAssertions([]Assertion{
		{Type: AssertRunState, EventID: "e1", Expect: map[string]any{
			"status":     "success",
			"agent_name": "scraper",
		}},
	}, actx)
	assert.Empty(t, failures)
}

func TestAssertRunState_Mismatch(t *testing.T) {
	actx := newAssertionContext(t)
	seedRun(t, actx, "e1", model.StatusRunning)

	failures := EvaluateAssertions([]Assertion{
		{Type: AssertRunState, EventID: "e1", Expect: map[string]any{"status": "success"}},
	}, actx)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "Expected: e1.status = success")
}

func TestAssertRunState_NotFound(t *testing.T) {
	actx := newAssertionContext(t)

	failures := EvaluateAssertions([]Assertion{
		{Type: AssertRunState, EventID: "ghost", Expect: map[string]any{"status": "success"}},
	}, actx)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "not found")
}

func TestAssertRunCount(t *testing.T) {
	actx := newAssertionContext(t)
	seedRun(t, actx, "e1", model.StatusSuccess)
	seedRun(t, actx, "e2", model.StatusFailure)

	failures := EvaluateAssertions([]Assertion{
		{Type: AssertRunCount, Agent: "scraper", Count: 2},
		{Type: AssertRunCount, Agent: "scraper", Status: model.StatusFailure, Count: 1},
		{Type: AssertRunCount, Agent: "nobody", Count: 0},
	}, actx)
	assert.Empty(t, failures)

	failures = EvaluateAssertions([]Assertion{
		{Type: AssertRunCount, Agent: "scraper", Count: 5},
	}, actx)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "2 runs")
}

func TestAssertEventCount(t *testing.T) {
	actx := newAssertionContext(t)
	seedRun(t, actx, "e1", model.StatusRunning)

	ev := &model.RunEvent{RunID: "run-e1", EventType: "checkpoint", Message: "halfway"}
	ev.Canonicalize(time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC))
	require.NoError(t, actx.Store.InsertRunEvent(actx.Ctx, ev))

	failures := EvaluateAssertions([]Assertion{
		{Type: AssertEventCount, RunID: "run-e1", Count: 1},
		{Type: AssertEventCount, RunID: "run-e2", Count: 0},
	}, actx)
	assert.Empty(t, failures)
}
