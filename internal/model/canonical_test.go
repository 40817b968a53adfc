package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRun() Run {
	return Run{
		EventID:   "evt-1",
		RunID:     "run-1",
		AgentName: "scraper",
		JobType:   "crawl",
		Status:    StatusRunning,
		StartTime: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCanonicalize_Defaults(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 123_456_789, time.UTC)

	r := testRun()
	require.NoError(t, r.Canonicalize(now))

	assert.Equal(t, CurrentSchemaVersion, r.SchemaVersion)
	assert.Equal(t, now.Truncate(time.Millisecond), r.CreatedAt)
	assert.Equal(t, now.Truncate(time.Millisecond), r.UpdatedAt)
	assert.Equal(t, StatusRunning, r.Status)
}

func TestCanonicalize_TrimsAndNilsEmptyOptionals(t *testing.T) {
	r := testRun()
	r.AgentName = "  scraper  "
	empty := "   "
	website := " example.com "
	r.Website = &website
	r.Product = &empty

	require.NoError(t, r.Canonicalize(time.Now()))

	assert.Equal(t, "scraper", r.AgentName)
	require.NotNil(t, r.Website)
	assert.Equal(t, "example.com", *r.Website)
	assert.Nil(t, r.Product, "whitespace-only optional should become nil")
}

func TestCanonicalize_StatusAliases(t *testing.T) {
	cases := map[string]string{
		"failed":    StatusFailure,
		"FAILED":    StatusFailure,
		"completed": StatusSuccess,
		"succeeded": StatusSuccess,
		"canceled":  StatusCancelled,
		"Running":   StatusRunning,
	}
	for in, want := range cases {
		r := testRun()
		r.Status = in
		require.NoError(t, r.Canonicalize(time.Now()), "status %q", in)
		assert.Equal(t, want, r.Status, "status %q", in)
	}
}

func TestCanonicalize_UnknownStatus(t *testing.T) {
	r := testRun()
	r.Status = "exploded"
	err := r.Canonicalize(time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exploded")
}

func TestCanonicalize_ComputesDuration(t *testing.T) {
	r := testRun()
	end := r.StartTime.Add(2 * time.Second)
	r.EndTime = &end
	r.Status = "success"

	require.NoError(t, r.Canonicalize(time.Now()))
	assert.Equal(t, int64(2000), r.DurationMS)
}

func TestCanonicalize_KeepsCallerDuration(t *testing.T) {
	r := testRun()
	end := r.StartTime.Add(2 * time.Second)
	r.EndTime = &end
	r.DurationMS = 1500

	require.NoError(t, r.Canonicalize(time.Now()))
	assert.Equal(t, int64(1500), r.DurationMS)
}

func TestCanonicalize_NormalizesZones(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	r := testRun()
	r.StartTime = time.Date(2025, 1, 1, 4, 0, 0, 0, loc)

	require.NoError(t, r.Canonicalize(time.Now()))
	assert.Equal(t, time.UTC, r.StartTime.Location())
	assert.Equal(t, 12, r.StartTime.Hour())
}

func TestCanonicalize_GitCommitSource(t *testing.T) {
	for _, src := range []string{"manual", "llm", "ci", "LLM"} {
		r := testRun()
		s := src
		r.GitCommitSource = &s
		require.NoError(t, r.Canonicalize(time.Now()), "source %q", src)
	}

	r := testRun()
	bad := "robot"
	r.GitCommitSource = &bad
	require.Error(t, r.Canonicalize(time.Now()))
}

func TestDurationMS_ClampsNegative(t *testing.T) {
	now := time.Now()
	assert.Equal(t, int64(0), DurationMS(now, now.Add(-time.Second)))
}

func TestRunEventCanonicalize(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	e := RunEvent{RunID: " run-1 ", EventType: " checkpoint "}
	e.Canonicalize(now)

	assert.Equal(t, "run-1", e.RunID)
	assert.Equal(t, "checkpoint", e.EventType)
	assert.Equal(t, now, e.Timestamp)
}
