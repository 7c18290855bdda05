package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/cadence/internal/graph"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/launcher"
	"github.com/roach88/cadence/internal/scheduler"
)

// iterateGraph runs one evaluator tick scoped to the backfill and launches
// its requests. Each asset partition is requested at most once per
// backfill; the backfill completes when a tick requests nothing new and no
// run it launched is in flight.
func (e *Executor) iterateGraph(ctx context.Context, logger *slog.Logger, g *graph.Graph, b *ir.PartitionBackfill, now time.Time) error {
	ev, err := scheduler.New(g, e.store, e.store,
		scheduler.WithScope(b.Scope()),
		scheduler.WithAssets(b.Target.Assets...),
		scheduler.WithWorkers(e.evalWorkers),
		scheduler.WithLogger(logger),
		scheduler.WithTracer(e.tracer),
	)
	if err != nil {
		return fmt.Errorf("build evaluator: %w", err)
	}

	res, err := ev.Tick(ctx, now)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("evaluate: %w", res.Errors[0])
	}

	idx := indexTargets(b.Cursor.Targets)
	fresh := 0
	launched := 0
	for _, req := range res.Requests {
		if _, seen := idx[req.AssetPartition()]; seen {
			continue
		}
		fresh++
		if e.maxRequests > 0 && launched >= e.maxRequests {
			continue
		}

		runID, err := e.launcher.RequestRun(ctx, launcher.RunRequest{
			RequestKey: req.RequestKey,
			Asset:      req.Asset,
			Partition:  req.Partition,
			BackfillID: b.ID,
		})
		if err != nil {
			return fmt.Errorf("request run for %s: %w", req.AssetPartition(), err)
		}
		b.Cursor.Targets = append(b.Cursor.Targets, ir.TargetState{
			Asset:     req.Asset,
			Partition: req.Partition,
			Status:    ir.TargetRequested,
			RunID:     runID,
			Attempt:   1,
		})
		idx[req.AssetPartition()] = len(b.Cursor.Targets) - 1
		launched++
	}

	if err := ev.Commit(ctx, res); err != nil {
		return err
	}
	if launched > 0 {
		logger.Info("backfill runs requested", "runs", launched)
	}

	if fresh == 0 {
		finishIfDone(b)
	}
	return nil
}
