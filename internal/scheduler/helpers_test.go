package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/condition"
	"github.com/roach88/cadence/internal/graph"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/store"
)

var (
	day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now  = time.Date(2024, 1, 5, 12, 30, 0, 0, time.UTC)
)

func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustGraph(t *testing.T, nodes ...graph.AssetNode) *graph.Graph {
	t.Helper()
	g, err := graph.New(nodes...)
	require.NoError(t, err)
	return g
}

func asset(key string, cond *condition.Condition, deps ...string) graph.AssetNode {
	n := graph.AssetNode{Key: ir.AssetKey(key), Condition: cond}
	for _, d := range deps {
		n.Deps = append(n.Deps, graph.Dependency{Asset: ir.AssetKey(d)})
	}
	return n
}

// missingIdle requests a partition that was never materialized and has no run in flight.
func missingIdle() *condition.Condition {
	return condition.Missing().And(condition.InProgress().Not())
}

func anyParentRequested() *condition.Condition {
	return condition.Must(condition.AnyDeps(condition.WillBeRequested()))
}

func writeRecord(t *testing.T, s *store.Store, key string, partition string, ts time.Time) {
	t.Helper()
	require.NoError(t, s.WriteRecord(context.Background(), ir.Record{
		Asset:     ir.AssetKey(key),
		Partition: ir.PartitionKey(partition),
		Timestamp: ts,
	}))
}

// faultyState injects failures into reads of specific assets.
type faultyState struct {
	*store.Store
	fail  ir.AssetKey
	panic ir.AssetKey
}

func (f *faultyState) LatestRecords(ctx context.Context, asset ir.AssetKey) (map[ir.PartitionKey]ir.Record, error) {
	if asset == f.fail {
		return nil, fmt.Errorf("disk on fire")
	}
	return f.Store.LatestRecords(ctx, asset)
}

func (f *faultyState) InFlightPartitions(ctx context.Context, asset ir.AssetKey) ([]ir.PartitionKey, error) {
	if asset == f.panic {
		panic("boom")
	}
	return f.Store.InFlightPartitions(ctx, asset)
}
