// Package engine implements the single-writer ingestion engine.
//
// The engine sits between the HTTP layer and the store. All mutations pass
// through it so that the process has exactly one path to the writer
// connection.
//
// ARCHITECTURE:
//
// Write Gate:
// A buffered token channel bounds concurrent write admissions. When the gate
// is full, new writes are rejected immediately with ErrOverloaded rather than
// queued, so callers get fast backpressure instead of timeouts.
//
// Busy Retry:
// SQLITE_BUSY and SQLITE_LOCKED are transient when another process briefly
// holds the file lock. The engine retries those writes with exponential
// backoff; all other errors surface on the first attempt.
//
// Idempotency:
// Insert outcomes distinguish created from duplicate. A duplicate is a
// success: the row the caller wanted recorded already exists, byte-for-byte
// owned by the first writer. Replayed buffers depend on this.
//
// CRITICAL PATTERNS:
//
// CP-1: Canonicalize, validate, then write. No record reaches the store
// without passing through model.Run.Canonicalize and Validate.
//
// CP-2: Patch semantics are presence-based. A field absent from the patch is
// untouched; an explicit JSON null clears a nullable column; a value
// replaces. The whitelist in the store is the final arbiter of what a patch
// may touch.
package engine
