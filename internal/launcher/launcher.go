package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/store"
)

// RunRequest asks for one asset partition to be materialized.
type RunRequest struct {
	RequestKey string
	Asset      ir.AssetKey
	Partition  ir.PartitionKey
	BackfillID string
}

// AssetPartition returns the request's target.
func (r RunRequest) AssetPartition() ir.AssetPartition {
	return ir.AP(r.Asset, r.Partition)
}

// Launcher accepts run requests and reports run status.
type Launcher interface {
	// RequestRun launches a run or returns the id of the run already
	// launched for the same request key.
	RequestRun(ctx context.Context, req RunRequest) (string, error)

	// RunStatus returns the current status of a launched run.
	RunStatus(ctx context.Context, runID string) (ir.RunStatus, error)
}

// Queue is a store-backed Launcher. Runs wait in PENDING until a worker
// picks them up.
type Queue struct {
	store  *store.Store
	ids    ir.IDGenerator
	now    func() time.Time
	logger *slog.Logger
}

var _ Launcher = (*Queue)(nil)

// Option configures a Queue.
type Option func(*Queue)

// WithIDGenerator sets the run id generator. Default: UUIDv7.
func WithIDGenerator(gen ir.IDGenerator) Option {
	return func(q *Queue) {
		q.ids = gen
	}
}

// WithClock sets the time source. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// NewQueue creates a Queue over s.
func NewQueue(s *store.Store, opts ...Option) *Queue {
	q := &Queue{
		store:  s,
		ids:    ir.UUIDv7Generator{},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// RequestRun inserts a PENDING run keyed by req.RequestKey.
func (q *Queue) RequestRun(ctx context.Context, req RunRequest) (string, error) {
	if req.RequestKey == "" {
		return "", fmt.Errorf("request run %s: request key is required", req.AssetPartition())
	}
	if err := req.Asset.Validate(); err != nil {
		return "", fmt.Errorf("request run: %w", err)
	}

	now := q.now().UTC()
	run, inserted, err := q.store.InsertRun(ctx, ir.Run{
		ID:         q.ids.Generate(),
		RequestKey: req.RequestKey,
		Asset:      req.Asset,
		Partition:  req.Partition,
		BackfillID: req.BackfillID,
		Status:     ir.RunPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return "", fmt.Errorf("request run %s: %w", req.AssetPartition(), err)
	}

	if inserted {
		q.logger.Info("run requested",
			"run_id", run.ID,
			"asset", string(req.Asset),
			"partition", string(req.Partition),
			"backfill_id", req.BackfillID,
		)
	} else {
		q.logger.Debug("run request deduplicated",
			"run_id", run.ID,
			"request_key", req.RequestKey,
		)
	}
	return run.ID, nil
}

// RunStatus returns the stored status of runID.
func (q *Queue) RunStatus(ctx context.Context, runID string) (ir.RunStatus, error) {
	run, err := q.store.ReadRun(ctx, runID)
	if err != nil {
		return "", err
	}
	return run.Status, nil
}

// PendingRuns returns up to limit PENDING runs, oldest first.
func (q *Queue) PendingRuns(ctx context.Context, limit int) ([]ir.Run, error) {
	return q.store.ListRuns(ctx, store.RunFilter{
		Statuses: []ir.RunStatus{ir.RunPending},
		Limit:    limit,
	})
}

// Start marks a run RUNNING.
func (q *Queue) Start(ctx context.Context, runID string) (ir.Run, error) {
	run, err := q.store.UpdateRunStatus(ctx, runID, ir.RunRunning, q.now())
	if err != nil {
		return ir.Run{}, fmt.Errorf("start run: %w", err)
	}
	return run, nil
}

// Complete records a run's terminal status. On success it also writes a
// materialization record stamped with the completion time. Completing a
// run twice with the same status is a no-op.
func (q *Queue) Complete(ctx context.Context, runID string, status ir.RunStatus) (ir.Run, error) {
	if !status.IsTerminal() {
		return ir.Run{}, fmt.Errorf("complete run %s: status %s is not terminal", runID, status)
	}

	prev, err := q.store.ReadRun(ctx, runID)
	if err != nil {
		return ir.Run{}, fmt.Errorf("complete run: %w", err)
	}
	if prev.Status == status {
		return prev, nil
	}

	at := q.now().UTC()
	run, err := q.store.UpdateRunStatus(ctx, runID, status, at)
	if err != nil {
		return ir.Run{}, fmt.Errorf("complete run: %w", err)
	}

	if status == ir.RunSucceeded {
		if err := q.store.WriteRecord(ctx, ir.Record{
			Asset:     run.Asset,
			Partition: run.Partition,
			Timestamp: at,
			RunID:     run.ID,
		}); err != nil {
			return ir.Run{}, fmt.Errorf("complete run %s: %w", runID, err)
		}
	}

	q.logger.Info("run completed",
		"run_id", run.ID,
		"asset", string(run.Asset),
		"partition", string(run.Partition),
		"status", string(status),
	)
	return run, nil
}

// InFlight returns the partitions of asset with an unterminated run.
func (q *Queue) InFlight(ctx context.Context, asset ir.AssetKey) ([]ir.PartitionKey, error) {
	return q.store.InFlightPartitions(ctx, asset)
}
