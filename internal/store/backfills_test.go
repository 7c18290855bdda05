package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/ir"
)

func newTestBackfill(id string, status ir.BackfillStatus, minutes int) ir.PartitionBackfill {
	return ir.PartitionBackfill{
		ID:     id,
		Status: status,
		Target: ir.BackfillTarget{
			Kind:   ir.TargetExplicit,
			Ranges: []ir.PartitionRange{{Asset: "a", Start: "2024-01-01", End: "2024-01-03"}},
		},
		Cursor:    ir.BackfillCursor{Version: ir.BackfillCursorVersion},
		CreatedAt: at(minutes),
		UpdatedAt: at(minutes),
	}
}

func TestSaveBackfill_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	b := newTestBackfill("bf-1", ir.BackfillRequested, 0)
	b.Cursor.Iteration = 3
	b.Cursor.Materialized = true
	b.Cursor.Targets = []ir.TargetState{
		{Asset: "a", Partition: "2024-01-01", Status: ir.TargetRequested, RunID: "r1", Attempt: 1},
	}
	require.NoError(t, s.SaveBackfill(ctx, b))

	got, err := s.ReadBackfill(ctx, "bf-1")
	require.NoError(t, err)
	assert.Equal(t, b.Target, got.Target)
	assert.Equal(t, b.Cursor, got.Cursor)
	assert.Nil(t, got.Error)
	assert.True(t, got.CreatedAt.Equal(b.CreatedAt))
}

func TestSaveBackfill_UpdatesStatusAndError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	b := newTestBackfill("bf-1", ir.BackfillRequested, 0)
	require.NoError(t, s.SaveBackfill(ctx, b))

	b.Status = ir.BackfillFailed
	b.Error = &ir.ErrorInfo{Kind: "BackfillIterationError", Message: "boom", At: at(2)}
	b.UpdatedAt = at(2)
	require.NoError(t, s.SaveBackfill(ctx, b))

	got, err := s.ReadBackfill(ctx, "bf-1")
	require.NoError(t, err)
	assert.Equal(t, ir.BackfillFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", got.Error.Message)
	assert.True(t, got.UpdatedAt.Equal(at(2)))
	assert.True(t, got.CreatedAt.Equal(at(0)))
}

func TestReadBackfill_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadBackfill(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLoadBackfills_ByStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveBackfill(ctx, newTestBackfill("c", ir.BackfillCompleted, 0)))
	require.NoError(t, s.SaveBackfill(ctx, newTestBackfill("b", ir.BackfillCanceling, 2)))
	require.NoError(t, s.SaveBackfill(ctx, newTestBackfill("a", ir.BackfillRequested, 1)))

	active, err := s.LoadBackfills(ctx, ir.BackfillRequested, ir.BackfillCanceling)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "b", active[1].ID)

	all, err := s.LoadBackfills(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := s.LoadBackfills(ctx, ir.BackfillFailed)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestUpdateBackfill_ComparesStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	b := newTestBackfill("bf-1", ir.BackfillRequested, 0)
	require.NoError(t, s.SaveBackfill(ctx, b))

	b.Cursor.Iteration = 1
	b.UpdatedAt = at(1)
	ok, err := s.UpdateBackfill(ctx, b, ir.BackfillRequested)
	require.NoError(t, err)
	assert.True(t, ok)

	// A stale expected status leaves the row untouched.
	stale := b
	stale.Status = ir.BackfillCompleted
	stale.Cursor.Iteration = 9
	ok, err = s.UpdateBackfill(ctx, stale, ir.BackfillCanceling)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.ReadBackfill(ctx, "bf-1")
	require.NoError(t, err)
	assert.Equal(t, ir.BackfillRequested, got.Status)
	assert.Equal(t, int64(1), got.Cursor.Iteration)
	assert.True(t, got.UpdatedAt.Equal(at(1)))

	ok, err = s.UpdateBackfill(ctx, newTestBackfill("missing", ir.BackfillRequested, 0), ir.BackfillRequested)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetBackfillStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	b := newTestBackfill("bf-1", ir.BackfillRequested, 0)
	b.Cursor.Iteration = 4
	require.NoError(t, s.SaveBackfill(ctx, b))

	ok, err := s.SetBackfillStatus(ctx, "bf-1", ir.BackfillRequested, ir.BackfillCanceling, at(5))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetBackfillStatus(ctx, "bf-1", ir.BackfillRequested, ir.BackfillCanceling, at(6))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.ReadBackfill(ctx, "bf-1")
	require.NoError(t, err)
	assert.Equal(t, ir.BackfillCanceling, got.Status)
	assert.Equal(t, int64(4), got.Cursor.Iteration)
	assert.True(t, got.UpdatedAt.Equal(at(5)))
}
