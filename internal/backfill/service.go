package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/cadence/internal/graph"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/store"
)

// Submit validates target against g and stores a new REQUESTED backfill.
func Submit(ctx context.Context, st *store.Store, g *graph.Graph, gen ir.IDGenerator, target ir.BackfillTarget, now time.Time) (ir.PartitionBackfill, error) {
	now = now.UTC()
	if err := ValidateTarget(g, graph.NewPartitionCache(g, now), target); err != nil {
		return ir.PartitionBackfill{}, err
	}

	b := ir.PartitionBackfill{
		ID:        gen.Generate(),
		Status:    ir.BackfillRequested,
		Target:    target,
		Cursor:    ir.BackfillCursor{Version: ir.BackfillCursorVersion},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.SaveBackfill(ctx, b); err != nil {
		return ir.PartitionBackfill{}, fmt.Errorf("submit backfill: %w", err)
	}
	return b, nil
}

// Get returns the backfill with id, or ErrBackfillNotFound.
func Get(ctx context.Context, st *store.Store, id string) (ir.PartitionBackfill, error) {
	b, err := st.ReadBackfill(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ir.PartitionBackfill{}, fmt.Errorf("%w: %s", ErrBackfillNotFound, id)
	}
	return b, err
}

// Cancel moves a REQUESTED backfill to CANCELING. The executor finishes
// the cancellation once no requested run is in flight. Canceling a
// backfill that is already canceling is a no-op.
func Cancel(ctx context.Context, st *store.Store, id string, now time.Time) (ir.PartitionBackfill, error) {
	b, err := Get(ctx, st, id)
	if err != nil {
		return ir.PartitionBackfill{}, err
	}
	switch b.Status {
	case ir.BackfillCanceling:
		return b, nil
	case ir.BackfillRequested:
	default:
		return ir.PartitionBackfill{}, fmt.Errorf("%w: cannot cancel %s backfill %s", ErrInvalidTransition, b.Status, id)
	}

	ok, err := st.SetBackfillStatus(ctx, id, ir.BackfillRequested, ir.BackfillCanceling, now.UTC())
	if err != nil {
		return ir.PartitionBackfill{}, fmt.Errorf("cancel backfill: %w", err)
	}
	b, err = Get(ctx, st, id)
	if err != nil {
		return ir.PartitionBackfill{}, err
	}
	if !ok && b.Status != ir.BackfillCanceling {
		return ir.PartitionBackfill{}, fmt.Errorf("%w: cannot cancel %s backfill %s", ErrInvalidTransition, b.Status, id)
	}
	return b, nil
}

// Requeue re-requests the failed and canceled targets of a finished
// backfill. Explicit targets go back to pending with the next attempt
// number, so they get fresh request keys; graph targets are forgotten so
// the evaluator may request them again.
func Requeue(ctx context.Context, st *store.Store, id string, now time.Time) (ir.PartitionBackfill, error) {
	b, err := Get(ctx, st, id)
	if err != nil {
		return ir.PartitionBackfill{}, err
	}
	switch b.Status {
	case ir.BackfillCompletedWithFailures, ir.BackfillFailed, ir.BackfillCanceled:
	default:
		return ir.PartitionBackfill{}, fmt.Errorf("%w: cannot requeue %s backfill %s", ErrInvalidTransition, b.Status, id)
	}

	targets := make([]ir.TargetState, 0, len(b.Cursor.Targets))
	for _, t := range b.Cursor.Targets {
		retry := t.Status == ir.TargetFailed || t.Status == ir.TargetCanceled
		switch {
		case !retry:
			targets = append(targets, t)
		case b.Target.Kind == ir.TargetExplicit:
			t.Status = ir.TargetPending
			t.RunID = ""
			t.Reason = ""
			t.Attempt++
			targets = append(targets, t)
		}
	}

	prev := b.Status
	b.Cursor.Targets = targets
	b.Status = ir.BackfillRequested
	b.Error = nil
	b.UpdatedAt = now.UTC()
	ok, err := st.UpdateBackfill(ctx, b, prev)
	if err != nil {
		return ir.PartitionBackfill{}, fmt.Errorf("requeue backfill: %w", err)
	}
	if !ok {
		return ir.PartitionBackfill{}, fmt.Errorf("%w: backfill %s changed during requeue", ErrInvalidTransition, id)
	}
	return b, nil
}
