// Package model defines the telemetry records exchanged between agents and
// the ingestion service: Run (one unit of agent work, idempotency-keyed on
// event_id) and RunEvent (append-only sub-events within a run).
//
// The package owns canonicalization and validation. Every record crosses
// exactly one canonicalization boundary before it is persisted or buffered:
// strings are trimmed, status aliases are folded to their canonical form,
// timestamps are normalized to UTC with millisecond precision, and defaults
// (schema_version, created_at, updated_at) are filled in. Readers can rely
// on stored rows always holding canonical values.
package model
