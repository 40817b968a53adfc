// Package store provides SQLite-backed durable storage for run telemetry.
//
// The store holds three tables:
//   - runs: one row per unit of agent work, UNIQUE on event_id
//   - run_events: append-only sub-events within a run
//   - schema_migrations: ordered migration history, one row per version
//
// # Critical Patterns
//
// Idempotent writes: run inserts use ON CONFLICT(event_id) DO NOTHING and
// report created-vs-duplicate via RowsAffected. A duplicate submission never
// mutates the existing row.
//
// Single writer: the writer handle is capped at one connection; host-wide
// exclusivity is enforced separately by the guard package. Reads go through
// an independent read-only pool so queries never block behind writes.
//
// Canonical rows: callers canonicalize records (package model) before
// writing; every stored status is one of the six canonical values and every
// stored timestamp is UTC at millisecond precision.
//
// # Database Configuration
//
//   - journal_mode=DELETE: container-volume compatibility (WAL opt-in)
//   - synchronous=FULL: durability over throughput
//   - busy_timeout=30000: wait for locks up to 30 seconds
//   - foreign_keys=ON: referential integrity for run_events
//
// Pragmas are verified after being set; divergence is logged as a warning
// because production readers rely on the configured values.
package store
