package ir

import (
	"encoding/json"
	"fmt"
	"time"
)

// BackfillTargetKind selects how a backfill's target set is computed.
type BackfillTargetKind string

const (
	// TargetExplicit targets a fixed list of partition ranges, materialized once.
	TargetExplicit BackfillTargetKind = "explicit"

	// TargetGraph drives the backfill through the scheduling evaluator,
	// restricted to the listed assets.
	TargetGraph BackfillTargetKind = "graph"
)

// PartitionRange selects partitions of one asset, either by an inclusive
// [Start, End] range over the asset's ordered keys or by explicit Keys.
// An empty range with no Keys selects every existing partition.
type PartitionRange struct {
	Asset AssetKey       `json:"asset"`
	Start PartitionKey   `json:"start,omitempty"`
	End   PartitionKey   `json:"end,omitempty"`
	Keys  []PartitionKey `json:"keys,omitempty"`
}

// BackfillTarget is the root target of a backfill.
type BackfillTarget struct {
	Kind   BackfillTargetKind `json:"kind"`
	Ranges []PartitionRange   `json:"ranges,omitempty"`
	Assets []AssetKey         `json:"assets,omitempty"`
}

// TargetStatus is the per-partition progress of a backfill.
type TargetStatus string

const (
	TargetPending   TargetStatus = "pending"
	TargetRequested TargetStatus = "requested"
	TargetSucceeded TargetStatus = "succeeded"
	TargetFailed    TargetStatus = "failed"
	TargetCanceled  TargetStatus = "canceled"
)

// IsTerminal reports whether the target will not be requested again
// without an external requeue.
func (s TargetStatus) IsTerminal() bool {
	switch s {
	case TargetSucceeded, TargetFailed, TargetCanceled:
		return true
	default:
		return false
	}
}

// TargetState tracks one asset partition inside a backfill.
type TargetState struct {
	Asset     AssetKey     `json:"asset"`
	Partition PartitionKey `json:"partition,omitempty"`
	Status    TargetStatus `json:"status"`
	RunID     string       `json:"run_id,omitempty"`
	Attempt   int64        `json:"attempt"`
	Reason    string       `json:"reason,omitempty"`
}

// AssetPartition returns the target's key.
func (t TargetState) AssetPartition() AssetPartition {
	return AssetPartition{Asset: t.Asset, Partition: t.Partition}
}

// BackfillCursor is the resumable state of a backfill.
type BackfillCursor struct {
	Version      int           `json:"version"`
	Iteration    int64         `json:"iteration"`
	Materialized bool          `json:"materialized"`
	Targets      []TargetState `json:"targets,omitempty"`
}

// Counts tallies targets by status.
func (c BackfillCursor) Counts() map[TargetStatus]int {
	counts := make(map[TargetStatus]int)
	for _, t := range c.Targets {
		counts[t.Status]++
	}
	return counts
}

// ErrorInfo is a captured, structured error record.
type ErrorInfo struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	Stack   string    `json:"stack,omitempty"`
	At      time.Time `json:"at"`
}

// PartitionBackfill is one backfill operation.
type PartitionBackfill struct {
	ID        string         `json:"id"`
	Status    BackfillStatus `json:"status"`
	Target    BackfillTarget `json:"target"`
	Cursor    BackfillCursor `json:"cursor"`
	Error     *ErrorInfo     `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Scope is the cursor namespace used by graph-driven evaluation of this backfill.
func (b PartitionBackfill) Scope() string {
	return BackfillScope(b.ID)
}

// BackfillScope returns the cursor and request-key scope for a backfill id.
func BackfillScope(id string) string {
	return "backfill/" + id
}

// DecodeBackfillCursor parses a persisted backfill cursor, ignoring unknown fields.
func DecodeBackfillCursor(data []byte) (BackfillCursor, error) {
	if len(data) == 0 {
		return BackfillCursor{Version: BackfillCursorVersion}, nil
	}
	var c BackfillCursor
	if err := json.Unmarshal(data, &c); err != nil {
		return BackfillCursor{}, fmt.Errorf("decode backfill cursor: %w", err)
	}
	return c, nil
}
