// Package ir provides the foundational types shared by every cadence package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal. This keeps ir the
// bottom layer with no circular dependencies.
//
// Key design constraints:
//   - AssetKey, PartitionKey and AssetPartition are comparable and usable as map keys
//   - Metadata values forbid floats so that hashed state stays deterministic
//   - All JSON tags use snake_case
//   - Persisted state (cursors, backfills) decodes leniently: unknown fields are
//     ignored so that older binaries can read rows written by newer ones
package ir
