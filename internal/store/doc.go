// Package store provides SQLite-backed history of analysis runs.
//
// Each run stores:
//   - Runs: identity, input digests and the canonical report
//   - Regions: the blob tiling, one row per region
//   - Cliques: unresolved ambiguity groups
//   - Diagnostics: parse errors, ambiguous symbols, contradictions
//
// # Ordering
//
// Runs are ordered by seq, a logical counter assigned at write time, and
// then by id. Wall time is never used, so listings are stable.
//
// # Replay
//
// The report column holds canonical JSON. ReadReport decodes it and
// recomputes the report digest; a mismatch means the row was altered.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
