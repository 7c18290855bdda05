// Package backfill submits, iterates and cancels partition backfills.
//
// A backfill targets either an explicit set of partition ranges, which are
// materialized into per-partition target states on the first iteration, or
// a set of assets whose own conditions drive the backfill through a
// scheduler.Evaluator scoped to the backfill.
//
// The Executor performs one iteration per backfill per pass. Each iteration
// observes the runs it launched earlier, propagates upstream failures,
// requests the next runs whose in-backfill upstreams have succeeded, and
// persists the cursor. Iterations are idempotent: request keys derive from
// the backfill scope, the target and its attempt number, so an iteration
// re-run after a crash gets back the runs it already launched.
//
// Failures are isolated per backfill. An error or panic during an
// iteration marks that backfill FAILED with a captured ErrorInfo; it never
// reaches the caller of RunPass and never affects other backfills.
package backfill
