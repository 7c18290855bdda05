// Package store provides SQLite-backed persistence for cadence.
//
// Tables:
//   - asset_records: materialization and observation history (latest wins)
//   - runs: launched runs, unique per request key
//   - cursors: evaluator cursors per (scope, asset)
//   - backfills: backfill rows with their resumable cursors
//   - ticks: per-tick summaries for reporting
//
// # Patterns
//
// Idempotent writes: run insertion uses ON CONFLICT(request_key) DO NOTHING
// and returns the existing run id, so re-requesting after a crash never
// launches a duplicate.
//
// Deterministic reads: every list query has a total ORDER BY, and list
// functions return empty slices rather than nil.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
