package model

import (
	"fmt"
	"strings"
	"time"
)

// NormalizeTime converts t to UTC truncated to millisecond precision.
// All persisted timestamps pass through here so that stored text sorts
// chronologically and round-trips exactly.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// Canonicalize rewrites r in place into its stored form:
//
//   - string fields are trimmed; empty optional pointers become nil
//   - status is folded through the alias table
//   - schema_version defaults to CurrentSchemaVersion
//   - created_at/updated_at default to now
//   - all timestamps are normalized to UTC millisecond precision
//   - duration_ms is derived from the run interval when absent
//
// Returns an error only for a status or git_commit_source outside the
// accepted sets; structural validation is Validate's job.
func (r *Run) Canonicalize(now time.Time) error {
	r.EventID = strings.TrimSpace(r.EventID)
	r.RunID = strings.TrimSpace(r.RunID)
	r.AgentName = strings.TrimSpace(r.AgentName)
	r.JobType = strings.TrimSpace(r.JobType)
	r.TriggerType = strings.TrimSpace(r.TriggerType)
	r.InputSummary = strings.TrimSpace(r.InputSummary)
	r.OutputSummary = strings.TrimSpace(r.OutputSummary)
	r.ErrorSummary = strings.TrimSpace(r.ErrorSummary)
	r.ErrorDetails = strings.TrimSpace(r.ErrorDetails)
	r.MetricsJSON = strings.TrimSpace(r.MetricsJSON)
	r.ContextJSON = strings.TrimSpace(r.ContextJSON)

	for _, p := range []**string{
		&r.Product, &r.Platform, &r.ProductFamily,
		&r.Website, &r.WebsiteSection, &r.ItemName, &r.InsightID,
		&r.GitRepo, &r.GitBranch, &r.GitRunTag,
		&r.GitCommitHash, &r.GitCommitAuthor, &r.GitCommitSource,
	} {
		trimOptional(p)
	}

	status, err := CanonicalStatus(r.Status)
	if err != nil {
		return err
	}
	r.Status = status

	if r.GitCommitSource != nil {
		src := strings.ToLower(*r.GitCommitSource)
		if !ValidGitCommitSource(src) {
			return fmt.Errorf("invalid git_commit_source %q", *r.GitCommitSource)
		}
		r.GitCommitSource = &src
	}

	if r.SchemaVersion == 0 {
		r.SchemaVersion = CurrentSchemaVersion
	}

	now = NormalizeTime(now)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	} else {
		r.CreatedAt = NormalizeTime(r.CreatedAt)
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	} else {
		r.UpdatedAt = NormalizeTime(r.UpdatedAt)
	}

	r.StartTime = NormalizeTime(r.StartTime)
	if r.EndTime != nil {
		end := NormalizeTime(*r.EndTime)
		r.EndTime = &end
		if r.DurationMS == 0 {
			r.DurationMS = DurationMS(r.StartTime, end)
		}
	}
	if r.GitCommitTimestamp != nil {
		ts := NormalizeTime(*r.GitCommitTimestamp)
		r.GitCommitTimestamp = &ts
	}

	return nil
}

// DurationMS returns the run interval in milliseconds, clamped at zero for
// intervals that would be negative.
func DurationMS(start, end time.Time) int64 {
	d := end.Sub(start).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}

// Canonicalize trims and timestamps a RunEvent for buffering or storage.
func (e *RunEvent) Canonicalize(now time.Time) {
	e.RunID = strings.TrimSpace(e.RunID)
	e.EventType = strings.TrimSpace(e.EventType)
	e.Message = strings.TrimSpace(e.Message)
	e.MetadataJSON = strings.TrimSpace(e.MetadataJSON)
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.Timestamp = NormalizeTime(e.Timestamp)
}

func trimOptional(p **string) {
	if *p == nil {
		return
	}
	v := strings.TrimSpace(**p)
	if v == "" {
		*p = nil
		return
	}
	*p = &v
}
