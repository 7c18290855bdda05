// Package scheduler implements the scheduling evaluator: once per tick it
// evaluates every asset's condition tree against a consistent snapshot of
// instance state and produces the set of asset partitions to request.
//
// Assets are visited level by level in topological order. Assets within a
// level share no dependency edge and are evaluated concurrently on a
// bounded worker pool; a level starts only after the previous one finished,
// so downstream conditions observe upstream requests made in the same tick.
//
// Per-asset cursors make evaluation incremental. A partition whose last
// outcome was false is skipped while the asset's condition, the observed
// state of its inputs and its time boundary are unchanged. Cursors are only
// persisted by Commit, after the host has launched the requested runs;
// re-running an uncommitted tick reproduces the same request keys.
//
// Failures are isolated per asset: an error or panic while evaluating one
// asset is reported as an EvaluationError, the asset contributes no
// requests, its cursor is left as it was, and the tick continues.
package scheduler
