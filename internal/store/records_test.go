package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/ir"
)

func TestLatestRecord_Missing(t *testing.T) {
	s := createTestStore(t)

	rec, err := s.LatestRecord(context.Background(), ir.AP("raw/events", "2024-01-01"))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLatestRecord_LatestWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ap := ir.AP("raw/events", "2024-01-01")

	require.NoError(t, s.WriteRecord(ctx, ir.Record{Asset: ap.Asset, Partition: ap.Partition, Timestamp: at(10), RunID: "r1"}))
	require.NoError(t, s.WriteRecord(ctx, ir.Record{Asset: ap.Asset, Partition: ap.Partition, Timestamp: at(30), RunID: "r2"}))
	// An older observation written later does not win.
	require.NoError(t, s.WriteRecord(ctx, ir.Record{Asset: ap.Asset, Partition: ap.Partition, Timestamp: at(20), IsObservation: true}))

	rec, err := s.LatestRecord(ctx, ap)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "r2", rec.RunID)
	assert.True(t, rec.Timestamp.Equal(at(30)))
	assert.False(t, rec.IsObservation)
}

func TestLatestRecord_TieBrokenByInsertOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteRecord(ctx, ir.Record{Asset: "a", Timestamp: at(5), RunID: "first"}))
	require.NoError(t, s.WriteRecord(ctx, ir.Record{Asset: "a", Timestamp: at(5), RunID: "second"}))

	rec, err := s.LatestRecord(ctx, ir.AP("a", ""))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "second", rec.RunID)
}

func TestLatestAssetRecord_AcrossPartitions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteRecord(ctx, ir.Record{Asset: "a", Partition: "p1", Timestamp: at(50)}))
	require.NoError(t, s.WriteRecord(ctx, ir.Record{Asset: "a", Partition: "p2", Timestamp: at(40)}))
	require.NoError(t, s.WriteRecord(ctx, ir.Record{Asset: "b", Partition: "p1", Timestamp: at(90)}))

	rec, err := s.LatestAssetRecord(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, ir.PartitionKey("p1"), rec.Partition)

	none, err := s.LatestAssetRecord(ctx, "c")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestLatestRecords_PerPartition(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteRecord(ctx, ir.Record{Asset: "a", Partition: "p1", Timestamp: at(1)}))
	require.NoError(t, s.WriteRecord(ctx, ir.Record{Asset: "a", Partition: "p1", Timestamp: at(3), RunID: "latest"}))
	require.NoError(t, s.WriteRecord(ctx, ir.Record{Asset: "a", Partition: "p2", Timestamp: at(2)}))

	recs, err := s.LatestRecords(ctx, "a")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "latest", recs["p1"].RunID)
	assert.True(t, recs["p2"].Timestamp.Equal(at(2)))

	empty, err := s.LatestRecords(ctx, "missing")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestWriteRecord_Validation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.WriteRecord(ctx, ir.Record{Asset: "", Timestamp: at(0)}))
	assert.Error(t, s.WriteRecord(ctx, ir.Record{Asset: "a"}))
}
