// Package launcher defines how the evaluator and backfill executor request
// runs, and provides Queue, a launcher backed by the SQLite store.
//
// Requests are idempotent by request key: requesting the same key twice
// returns the run created by the first request. External workers poll
// PendingRuns, mark runs started, and report the outcome with Complete.
// A successful completion writes a materialization record for the run's
// asset partition, which is what the condition primitives observe.
package launcher
