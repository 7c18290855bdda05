package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/cadence/internal/ir"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// at returns baseTime plus the given number of minutes.
func at(minutes int) time.Time {
	return baseTime.Add(time.Duration(minutes) * time.Minute)
}

// createTestRun creates a pending run with minimal required fields.
func createTestRun(id, requestKey string, asset ir.AssetKey, partition ir.PartitionKey, created time.Time) ir.Run {
	return ir.Run{
		ID:         id,
		RequestKey: requestKey,
		Asset:      asset,
		Partition:  partition,
		Status:     ir.RunPending,
		CreatedAt:  created,
	}
}
