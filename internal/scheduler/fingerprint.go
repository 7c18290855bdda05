package scheduler

import (
	"fmt"

	"github.com/roach88/cadence/internal/condition"
	"github.com/roach88/cadence/internal/ir"
)

// inputFingerprint hashes the observed state of every input asset: its
// existing partitions, the latest record of each partition, its in-flight
// partitions and the partitions requested for it earlier in this tick. Any
// change to one of these can change a condition outcome, so it invalidates
// the cursor's stable partitions.
func inputFingerprint(snap *snapshot, inputs []ir.AssetKey) (string, error) {
	state := make(ir.Object, len(inputs))
	for _, asset := range inputs {
		entry := ir.Object{}

		keys, err := snap.PartitionKeys(asset)
		if err != nil {
			return "", fmt.Errorf("partition keys %s: %w", asset, err)
		}
		entry["partitions"] = partitionList(keys)

		records, err := snap.latestRecords(asset)
		if err != nil {
			return "", fmt.Errorf("latest records %s: %w", asset, err)
		}
		latest := make(ir.Object, len(records))
		for p, rec := range records {
			latest[string(p)] = ir.Object{
				"timestamp":      ir.TimestampOf(rec.Timestamp),
				"is_observation": ir.Bool(rec.IsObservation),
				"run_id":         ir.String(rec.RunID),
			}
		}
		entry["latest"] = latest

		inflight, err := snap.inFlight(asset)
		if err != nil {
			return "", fmt.Errorf("in-flight runs %s: %w", asset, err)
		}
		entry["in_flight"] = partitionList(inflight)
		entry["requested"] = partitionList(snap.requestedPartitions(asset))

		state[string(asset)] = entry
	}
	return ir.HashCanonical(ir.DomainFingerprint, state)
}

// timeBoundary hashes the time-dependent facts the condition observes.
// Conditions with no time-dependent leaf have an empty boundary.
func timeBoundary(snap *snapshot, c *condition.Condition, asset ir.AssetKey) (string, error) {
	if !condition.IsTimeDependent(c) {
		return "", nil
	}
	facts := condition.TimeBoundary(c, asset, snap)
	return ir.HashCanonical(ir.DomainFingerprint, ir.Object{"time_boundary": stringList(facts)})
}

func partitionList(partitions []ir.PartitionKey) ir.List {
	out := make(ir.List, len(partitions))
	for i, p := range partitions {
		out[i] = ir.String(p)
	}
	return out
}

func stringList(values []string) ir.List {
	out := make(ir.List, len(values))
	for i, v := range values {
		out[i] = ir.String(v)
	}
	return out
}
