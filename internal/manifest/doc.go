// Package manifest compiles CUE asset definitions into graph nodes.
//
// A manifest directory holds one CUE package. Every field under the
// top-level "asset" struct defines one asset, keyed by its "/"-separated
// asset key:
//
//	asset: "raw/events": {
//		partitions: daily: start: "2024-01-01"
//		condition: and: [{missing: {}}, {not: in_progress: {}}]
//	}
//
//	asset: "daily/summary": {
//		deps: ["raw/events", {asset: "ref/countries", mapping: "all"}]
//		partitions: daily: start: "2024-01-01"
//		condition: and: [{in_latest_time_window: {}}, {any_deps: parent_newer: {}}]
//	}
//
// Conditions are single-field structs named after the condition kind.
// Operators take a list (and, or) or a single condition (not, all_deps,
// any_deps). Leaves take an empty struct or their parameters; a bare
// string such as "missing" is shorthand for a leaf with no parameters.
//
// Compile reports every problem it finds as a *CompileError carrying the
// CUE source position.
package manifest
