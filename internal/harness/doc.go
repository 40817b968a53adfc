// Package harness provides a conformance testing framework for the
// ingestion pipeline.
//
// Scenarios are YAML files describing a sequence of writes (inserts,
// patches, run events) with expected outcomes, plus assertions against the
// final store state. Each scenario runs against a fresh database through
// the real write engine, with a deterministic clock so the resulting trace
// is reproducible and can be pinned with golden files.
package harness
