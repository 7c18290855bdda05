package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/cadence/internal/ir"
)

// toNanos stores times as unix nanoseconds. The zero time maps to 0.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

// fromNanos is the inverse of toNanos.
func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// marshalTarget converts a backfill target to JSON TEXT for storage.
func marshalTarget(target ir.BackfillTarget) (string, error) {
	data, err := json.Marshal(target)
	if err != nil {
		return "", fmt.Errorf("marshal target: %w", err)
	}
	return string(data), nil
}

func unmarshalTarget(data string) (ir.BackfillTarget, error) {
	var target ir.BackfillTarget
	if err := json.Unmarshal([]byte(data), &target); err != nil {
		return ir.BackfillTarget{}, fmt.Errorf("unmarshal target: %w", err)
	}
	return target, nil
}

func marshalBackfillCursor(c ir.BackfillCursor) (string, error) {
	if c.Version == 0 {
		c.Version = ir.BackfillCursorVersion
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal backfill cursor: %w", err)
	}
	return string(data), nil
}

// marshalErrorInfo returns a NULL string for a nil error.
func marshalErrorInfo(info *ir.ErrorInfo) (sql.NullString, error) {
	if info == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(info)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal error info: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalErrorInfo(data sql.NullString) (*ir.ErrorInfo, error) {
	if !data.Valid || data.String == "" {
		return nil, nil
	}
	var info ir.ErrorInfo
	if err := json.Unmarshal([]byte(data.String), &info); err != nil {
		return nil, fmt.Errorf("unmarshal error info: %w", err)
	}
	return &info, nil
}
