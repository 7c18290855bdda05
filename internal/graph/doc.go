// Package graph holds the read-only asset graph snapshot: asset definitions,
// their dependencies and partition mappings, and a deterministic topological
// order.
//
// A Graph is immutable once built by New. The host rebuilds it between ticks
// when definitions change. Per-tick derived data (existing partition keys and
// windows) lives in a PartitionCache created for one tick and dropped with it.
package graph
