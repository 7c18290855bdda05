package condition

import (
	"time"

	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/timewindow"
)

// Topology is the read-only view of the asset graph a condition needs.
type Topology interface {
	// Parents returns the asset's upstream dependencies in declaration order.
	Parents(asset ir.AssetKey) []ir.AssetKey

	// ParentPartitions maps a child partition onto the partitions of one parent.
	ParentPartitions(child ir.AssetPartition, parent ir.AssetKey) ([]ir.PartitionKey, error)

	// Partitions returns the asset's partition definition.
	Partitions(asset ir.AssetKey) timewindow.PartitionsDef

	// PartitionKeys returns the asset's existing partitions, in order.
	PartitionKeys(asset ir.AssetKey) ([]ir.PartitionKey, error)
}

// State is the snapshot of instance state a condition reads.
type State interface {
	// LatestRecord returns the latest materialization or observation, or nil.
	LatestRecord(ap ir.AssetPartition) (*ir.Record, error)

	// IsRequested reports whether ap is in this tick's accumulated request set.
	IsRequested(ap ir.AssetPartition) bool

	// InProgress reports whether an unterminated run targets ap.
	InProgress(ap ir.AssetPartition) (bool, error)
}

// Env is everything an evaluation may consult. Implementations must return
// the same answers for the duration of one evaluation.
type Env interface {
	Topology
	State
	Now() time.Time
}
