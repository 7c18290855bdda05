// Package daemon hosts the scheduling loop.
//
// Each tick reloads the asset manifest, evaluates the live schedule,
// hands the requested runs to the launcher, commits the evaluator cursors,
// records a tick summary and then advances every active backfill by one
// iteration. Ticks run one after another on a single goroutine; a slow
// tick delays the next one instead of overlapping it.
//
// Failures stay contained. A manifest that no longer compiles keeps the
// last good graph in service, a failing asset is reported in the tick
// summary, and a failing backfill is marked FAILED without affecting the
// others.
package daemon
