// Package harness runs scheduling scenarios end to end.
//
// A scenario carries an inline CUE manifest and a list of steps that drive a
// daemon against a fresh store with a manual clock. The resulting trace can
// be checked with assertions and compared against golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: chain_settles
//	description: "raw and clean are requested once, then stay quiet"
//	start: "2024-01-05T12:00:00Z"
//	manifest: |
//	  package assets
//	  asset: raw: condition: missing: {}
//	steps:
//	  - action: tick
//	    requests: [raw]
//	  - action: complete
//	    asset: raw
//	  - action: advance
//	    duration: 1m
//	  - action: tick
//	    quiet: true
//	assertions:
//	  - type: request_count
//	    asset: raw
//	    count: 1
//
// Step actions:
//
//   - tick: run one daemon tick. requests lists the expected asset
//     partitions in order; quiet expects none.
//   - advance: move the clock forward by duration.
//   - record: write a materialization (or an observation) for asset and
//     partition at the current time.
//   - complete: finish every unfinished run of asset and partition with
//     status, SUCCEEDED by default.
//   - backfill: submit an explicit backfill over asset and keys.
//
// Assertion types:
//
//   - requested: asset and partition were requested, in tick if set.
//   - not_requested: asset and partition were never requested.
//   - request_count: asset was requested exactly count times.
//   - run_count: asset has exactly count runs, with status if set.
//   - backfill_status: the backfill with id ended in status.
//
// Golden files are stored in testdata/golden/{name}.golden. To regenerate:
//
//	go test ./internal/harness -update
package harness
