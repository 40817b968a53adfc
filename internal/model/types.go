package model

import "time"

// CurrentSchemaVersion is the schema version written by new records and
// recorded in schema_migrations by the final migration.
const CurrentSchemaVersion = 6

// Bounds on free-form payload fields. Oversized payloads are validation
// errors, never silently truncated.
const (
	MaxSummaryLen      = 10_000
	MaxErrorDetailsLen = 50_000
	MaxJSONPayloadLen  = 262_144
	MaxIdentifierLen   = 256
)

// Run describes one unit of work executed by an agent.
//
// EventID is the idempotency key: two submissions carrying the same EventID
// refer to the same logical write and the store keeps exactly one row.
// RunID groups retries and continuations of the same logical run and is not
// unique.
type Run struct {
	EventID     string `db:"event_id" json:"event_id" validate:"required,max=256"`
	RunID       string `db:"run_id" json:"run_id" validate:"required,max=256"`
	AgentName   string `db:"agent_name" json:"agent_name" validate:"required,max=256"`
	JobType     string `db:"job_type" json:"job_type" validate:"required,max=256"`
	TriggerType string `db:"trigger_type" json:"trigger_type" validate:"max=256"`

	StartTime time.Time  `db:"start_time" json:"start_time" validate:"required"`
	EndTime   *time.Time `db:"end_time" json:"end_time,omitempty"`

	Status     string `db:"status" json:"status" validate:"required"`
	DurationMS int64  `db:"duration_ms" json:"duration_ms" validate:"gte=0"`

	ItemsDiscovered int64 `db:"items_discovered" json:"items_discovered" validate:"gte=0"`
	ItemsSucceeded  int64 `db:"items_succeeded" json:"items_succeeded" validate:"gte=0"`
	ItemsFailed     int64 `db:"items_failed" json:"items_failed" validate:"gte=0"`

	InputSummary  string `db:"input_summary" json:"input_summary,omitempty"`
	OutputSummary string `db:"output_summary" json:"output_summary,omitempty"`
	ErrorSummary  string `db:"error_summary" json:"error_summary,omitempty"`
	ErrorDetails  string `db:"error_details" json:"error_details,omitempty"`
	MetricsJSON   string `db:"metrics_json" json:"metrics_json,omitempty"`
	ContextJSON   string `db:"context_json" json:"context_json,omitempty"`

	Product        *string `db:"product" json:"product,omitempty"`
	Platform       *string `db:"platform" json:"platform,omitempty"`
	ProductFamily  *string `db:"product_family" json:"product_family,omitempty"`
	Website        *string `db:"website" json:"website,omitempty"`
	WebsiteSection *string `db:"website_section" json:"website_section,omitempty"`
	ItemName       *string `db:"item_name" json:"item_name,omitempty"`
	InsightID      *string `db:"insight_id" json:"insight_id,omitempty"`

	GitRepo            *string    `db:"git_repo" json:"git_repo,omitempty"`
	GitBranch          *string    `db:"git_branch" json:"git_branch,omitempty"`
	GitRunTag          *string    `db:"git_run_tag" json:"git_run_tag,omitempty"`
	GitCommitHash      *string    `db:"git_commit_hash" json:"git_commit_hash,omitempty"`
	GitCommitAuthor    *string    `db:"git_commit_author" json:"git_commit_author,omitempty"`
	GitCommitTimestamp *time.Time `db:"git_commit_timestamp" json:"git_commit_timestamp,omitempty"`
	GitCommitSource    *string    `db:"git_commit_source" json:"git_commit_source,omitempty"`

	SchemaVersion int       `db:"schema_version" json:"schema_version"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// RunEvent is an append-only sub-event attached to a run (checkpoint,
// progress note). RunEvents carry no idempotency key and are never patched.
type RunEvent struct {
	ID           int64     `db:"id" json:"id,omitempty"`
	RunID        string    `db:"run_id" json:"run_id" validate:"required,max=256"`
	EventType    string    `db:"event_type" json:"event_type" validate:"required,max=256"`
	Timestamp    time.Time `db:"timestamp" json:"timestamp"`
	Message      string    `db:"message" json:"message,omitempty"`
	MetadataJSON string    `db:"metadata_json" json:"metadata_json,omitempty"`
}

// GitCommitSource values accepted on Run.GitCommitSource.
const (
	GitSourceManual = "manual"
	GitSourceLLM    = "llm"
	GitSourceCI     = "ci"
)

// ValidGitCommitSource reports whether s is one of the accepted
// git_commit_source values.
func ValidGitCommitSource(s string) bool {
	switch s {
	case GitSourceManual, GitSourceLLM, GitSourceCI:
		return true
	}
	return false
}
