package ir

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// AssetKey identifies a logical data asset by an ordered list of path segments.
//
// The canonical form joins segments with "/" so the key is comparable and can
// be used directly as a map key. Equality and ordering are structural: two keys
// are equal iff their segments are equal, and Compare orders segment by segment.
type AssetKey string

// KeyFromPath builds an AssetKey from path segments.
// Segments are not validated; use ParseAssetKey or Validate for untrusted input.
func KeyFromPath(parts ...string) AssetKey {
	return AssetKey(strings.Join(parts, "/"))
}

// ParseAssetKey parses a "/"-separated key and validates every segment.
func ParseAssetKey(s string) (AssetKey, error) {
	k := AssetKey(strings.TrimSpace(s))
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// Validate reports whether the key has at least one segment and no empty segments.
func (k AssetKey) Validate() error {
	if k == "" {
		return fmt.Errorf("asset key is empty")
	}
	for i, part := range k.Path() {
		if strings.TrimSpace(part) == "" {
			return fmt.Errorf("asset key %q: segment %d is empty", string(k), i)
		}
	}
	return nil
}

// Path returns the key's segments.
func (k AssetKey) Path() []string {
	if k == "" {
		return nil
	}
	return strings.Split(string(k), "/")
}

func (k AssetKey) String() string {
	return string(k)
}

// CompareAssetKeys orders keys segment by segment.
func CompareAssetKeys(a, b AssetKey) int {
	return slices.Compare(a.Path(), b.Path())
}

// SortAssetKeys sorts keys in place by CompareAssetKeys.
func SortAssetKeys(keys []AssetKey) {
	slices.SortFunc(keys, CompareAssetKeys)
}

// PartitionKey identifies one partition within an asset's partition space.
// The empty key is the single partition of an unpartitioned asset.
type PartitionKey string

func (p PartitionKey) String() string {
	return string(p)
}

// AssetPartition names one (asset, partition) pair.
type AssetPartition struct {
	Asset     AssetKey     `json:"asset"`
	Partition PartitionKey `json:"partition,omitempty"`
}

// AP is shorthand for constructing an AssetPartition.
func AP(asset AssetKey, partition PartitionKey) AssetPartition {
	return AssetPartition{Asset: asset, Partition: partition}
}

func (ap AssetPartition) String() string {
	if ap.Partition == "" {
		return string(ap.Asset)
	}
	return fmt.Sprintf("%s[%s]", ap.Asset, ap.Partition)
}

// CompareAssetPartitions orders by asset key, then partition key.
func CompareAssetPartitions(a, b AssetPartition) int {
	if c := CompareAssetKeys(a.Asset, b.Asset); c != 0 {
		return c
	}
	return strings.Compare(string(a.Partition), string(b.Partition))
}

// SortAssetPartitions sorts in place by CompareAssetPartitions.
func SortAssetPartitions(aps []AssetPartition) {
	slices.SortFunc(aps, CompareAssetPartitions)
}

// Record is the latest materialization or observation of one asset partition.
//
// For observations Timestamp is the time the observed data was last updated,
// not the time the observation was made.
type Record struct {
	Asset         AssetKey     `json:"asset"`
	Partition     PartitionKey `json:"partition,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
	IsObservation bool         `json:"is_observation,omitempty"`
	RunID         string       `json:"run_id,omitempty"`
}

// RunStatus is the lifecycle state of a launched run.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
	RunCanceled  RunStatus = "CANCELED"
)

// IsTerminal reports whether no further transitions are possible.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCanceled:
		return true
	default:
		return false
	}
}

// ParseRunStatus accepts upper or lower case status names.
func ParseRunStatus(s string) (RunStatus, error) {
	status := RunStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case RunPending, RunRunning, RunSucceeded, RunFailed, RunCanceled:
		return status, nil
	default:
		return "", fmt.Errorf("unknown run status %q", s)
	}
}

// Run is a unit of work requested from the launcher for one asset partition.
type Run struct {
	ID         string       `json:"id"`
	RequestKey string       `json:"request_key"`
	Asset      AssetKey     `json:"asset"`
	Partition  PartitionKey `json:"partition,omitempty"`
	BackfillID string       `json:"backfill_id,omitempty"`
	Status     RunStatus    `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// AssetPartition returns the run's target.
func (r Run) AssetPartition() AssetPartition {
	return AssetPartition{Asset: r.Asset, Partition: r.Partition}
}

// BackfillStatus is the lifecycle state of a PartitionBackfill.
type BackfillStatus string

const (
	BackfillRequested             BackfillStatus = "REQUESTED"
	BackfillCanceling             BackfillStatus = "CANCELING"
	BackfillCanceled              BackfillStatus = "CANCELED"
	BackfillCompleted             BackfillStatus = "COMPLETED"
	BackfillCompletedWithFailures BackfillStatus = "COMPLETED_WITH_FAILURES"
	BackfillFailed                BackfillStatus = "FAILED"
)

// IsTerminal reports whether the executor will never iterate this backfill again.
func (s BackfillStatus) IsTerminal() bool {
	switch s {
	case BackfillCompleted, BackfillCompletedWithFailures, BackfillFailed, BackfillCanceled:
		return true
	default:
		return false
	}
}

// ParseBackfillStatus accepts upper or lower case status names.
func ParseBackfillStatus(s string) (BackfillStatus, error) {
	status := BackfillStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case BackfillRequested, BackfillCanceling, BackfillCanceled,
		BackfillCompleted, BackfillCompletedWithFailures, BackfillFailed:
		return status, nil
	default:
		return "", fmt.Errorf("unknown backfill status %q", s)
	}
}
