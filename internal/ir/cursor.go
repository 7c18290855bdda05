package ir

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// EvaluationCursor is the per-asset state an evaluator carries between ticks.
//
// A partition listed in Evaluated with outcome false is known-stable: while
// ConditionHash, Fingerprint and TimeBoundary stay unchanged it is not
// re-evaluated. Partitions that evaluated true are always re-evaluated.
type EvaluationCursor struct {
	Version int `json:"version"`

	// ConditionHash is the hash of the asset's condition tree. A different
	// hash discards the cursor.
	ConditionHash string `json:"condition_hash,omitempty"`

	// Fingerprint hashes the observed state of every input asset.
	Fingerprint string `json:"fingerprint,omitempty"`

	// TimeBoundary hashes the time-dependent inputs (latest cron ticks,
	// latest windows) seen at the last evaluation.
	TimeBoundary string `json:"time_boundary,omitempty"`

	// Generation increments on every committed tick and seeds request keys.
	Generation int64 `json:"generation"`

	LastEvaluatedAt time.Time `json:"last_evaluated_at"`

	// Evaluated records the last outcome per evaluated partition.
	Evaluated map[PartitionKey]bool `json:"evaluated,omitempty"`
}

// NewEvaluationCursor returns an empty cursor at the current version.
func NewEvaluationCursor() EvaluationCursor {
	return EvaluationCursor{Version: CursorVersion}
}

// IsStable reports whether partition may be skipped given the current
// condition hash, fingerprint and time boundary.
func (c EvaluationCursor) IsStable(partition PartitionKey, conditionHash, fingerprint, boundary string) bool {
	if c.ConditionHash == "" || c.ConditionHash != conditionHash {
		return false
	}
	if c.Fingerprint != fingerprint || c.TimeBoundary != boundary {
		return false
	}
	outcome, ok := c.Evaluated[partition]
	return ok && !outcome
}

// EncodeCursor serializes a cursor for persistence.
func EncodeCursor(c EvaluationCursor) ([]byte, error) {
	if c.Version == 0 {
		c.Version = CursorVersion
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode cursor: %w", err)
	}
	return data, nil
}

// DecodeCursor parses a persisted cursor. Unknown fields are ignored and
// empty input yields an empty cursor.
func DecodeCursor(data []byte) (EvaluationCursor, error) {
	if len(data) == 0 {
		return NewEvaluationCursor(), nil
	}
	var c EvaluationCursor
	if err := json.Unmarshal(data, &c); err != nil {
		return EvaluationCursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	if c.Version == 0 {
		c.Version = CursorVersion
	}
	return c, nil
}

// EvaluatedPartitions returns the cursor's partitions in sorted order.
func (c EvaluationCursor) EvaluatedPartitions() []PartitionKey {
	keys := make([]PartitionKey, 0, len(c.Evaluated))
	for k := range c.Evaluated {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
