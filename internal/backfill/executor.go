package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/cadence/internal/graph"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/launcher"
	"github.com/roach88/cadence/internal/store"
)

const (
	// DefaultWorkers bounds concurrent backfill iterations within one pass.
	DefaultWorkers = 2

	// DefaultMaxRequestsPerIteration bounds the runs one iteration launches.
	DefaultMaxRequestsPerIteration = 100
)

// GraphSource supplies the current asset graph.
type GraphSource interface {
	Graph() *graph.Graph
}

// StaticGraph is a GraphSource that always returns the same graph.
type StaticGraph struct {
	G *graph.Graph
}

// Graph returns the wrapped graph.
func (s StaticGraph) Graph() *graph.Graph { return s.G }

// Executor iterates active backfills.
type Executor struct {
	store    *store.Store
	graphs   GraphSource
	launcher launcher.Launcher

	now         func() time.Time
	workers     int
	maxRequests int
	evalWorkers int
	logger      *slog.Logger
	tracer      trace.Tracer

	mu    sync.Mutex
	locks map[string]*iterationLock
}

// iterationLock serializes iterations of one backfill. refs counts the
// callers holding or waiting on mu; the entry is dropped at zero.
type iterationLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock sets the time source. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// WithWorkers bounds concurrent iterations in RunPass. Values below 1 are
// treated as 1.
func WithWorkers(n int) Option {
	return func(e *Executor) {
		e.workers = max(n, 1)
	}
}

// WithMaxRequestsPerIteration bounds the runs launched per iteration.
// Zero or less means unbounded.
func WithMaxRequestsPerIteration(n int) Option {
	return func(e *Executor) {
		e.maxRequests = n
	}
}

// WithEvaluationWorkers sets the worker count of graph-driven evaluators.
func WithEvaluationWorkers(n int) Option {
	return func(e *Executor) {
		e.evalWorkers = n
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithTracer sets the tracer. Default: the global provider's tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// NewExecutor creates an Executor.
func NewExecutor(st *store.Store, graphs GraphSource, l launcher.Launcher, opts ...Option) *Executor {
	e := &Executor{
		store:       st,
		graphs:      graphs,
		launcher:    l,
		now:         time.Now,
		workers:     DefaultWorkers,
		maxRequests: DefaultMaxRequestsPerIteration,
		evalWorkers: 1,
		logger:      slog.Default(),
		tracer:      otel.Tracer("github.com/roach88/cadence/internal/backfill"),
		locks:       make(map[string]*iterationLock),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PassOutcome reports one backfill's iteration within a pass.
type PassOutcome struct {
	ID     string
	Status ir.BackfillStatus

	// Err is the captured iteration error, if any. The backfill has
	// already been marked FAILED when Err is an IterationError.
	Err error
}

// RunPass iterates every REQUESTED or CANCELING backfill once. It returns
// an error only when the backfill list cannot be loaded or ctx is canceled;
// iteration failures are reported in the outcomes.
func (e *Executor) RunPass(ctx context.Context) ([]PassOutcome, error) {
	active, err := e.store.LoadBackfills(ctx, ir.BackfillRequested, ir.BackfillCanceling)
	if err != nil {
		return nil, fmt.Errorf("load backfills: %w", err)
	}

	outcomes := make([]PassOutcome, len(active))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, b := range active {
		i, b := i, b
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcomes[i] = e.Iterate(ctx, b.ID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// lock acquires the per-backfill lock and returns its release function.
func (e *Executor) lock(id string) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &iterationLock{}
		e.locks[id] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		defer e.mu.Unlock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, id)
		}
	}
}

// Iterate performs one iteration of backfill id. Concurrent calls for the
// same id are serialized.
func (e *Executor) Iterate(ctx context.Context, id string) (out PassOutcome) {
	unlock := e.lock(id)
	defer unlock()

	ctx, span := e.tracer.Start(ctx, "backfill.Iterate",
		trace.WithAttributes(attribute.String("cadence.backfill_id", id)))
	defer span.End()

	logger := e.logger.With("backfill_id", id)
	out = PassOutcome{ID: id}

	b, err := Get(ctx, e.store, id)
	if err != nil {
		out.Err = err
		return out
	}
	out.Status = b.Status
	if b.Status.IsTerminal() {
		return out
	}

	now := e.now().UTC()
	next := b
	next.Cursor.Targets = append([]ir.TargetState(nil), b.Cursor.Targets...)

	err = e.safeIterate(ctx, logger, &next, now)
	if err != nil && ctx.Err() != nil {
		// Shutdown is not a backfill failure; the next pass resumes.
		out.Err = ctx.Err()
		return out
	}
	if err != nil {
		ie := &IterationError{BackfillID: id, Err: err}
		var pe *panicError
		if errors.As(err, &pe) {
			ie.Stack = pe.stack
		}
		next.Status = ir.BackfillFailed
		next.Error = &ir.ErrorInfo{
			Kind:    ErrorKindIteration,
			Message: err.Error(),
			Stack:   ie.Stack,
			At:      now,
		}
		logger.Error("backfill iteration failed", "error", err)
		span.RecordError(ie)
		span.SetStatus(codes.Error, ie.Error())
		out.Err = ie
	}

	next.Cursor.Iteration++
	next.UpdatedAt = now
	next, serr := e.persist(ctx, logger, b.Status, next)
	if serr != nil {
		logger.Error("failed to persist backfill", "error", serr)
		if out.Err == nil {
			out.Err = fmt.Errorf("persist backfill %s: %w", id, serr)
		}
		return out
	}
	if next.Status.IsTerminal() && next.Target.Kind == ir.TargetGraph {
		if _, derr := e.store.DeleteCursors(ctx, next.Scope()); derr != nil {
			logger.Warn("failed to delete backfill cursors", "error", derr)
		}
	}

	out.Status = next.Status
	span.SetAttributes(attribute.String("cadence.backfill_status", string(next.Status)))
	if next.Status != b.Status {
		logger.Info("backfill status changed",
			"from", string(b.Status),
			"to", string(next.Status),
		)
	}
	return out
}

// persist writes next if the stored status is still the one the iteration
// started from. A status changed meanwhile (a Cancel) wins over a
// non-terminal next: the stored status is kept and this iteration's cursor
// is written under it, so runs launched by the iteration stay tracked.
func (e *Executor) persist(ctx context.Context, logger *slog.Logger, from ir.BackfillStatus, next ir.PartitionBackfill) (ir.PartitionBackfill, error) {
	ok, err := e.store.UpdateBackfill(ctx, next, from)
	if err != nil || ok {
		return next, err
	}

	current, err := e.store.ReadBackfill(ctx, next.ID)
	if err != nil {
		return next, err
	}
	if current.Status.IsTerminal() {
		return current, fmt.Errorf("backfill %s became %s during iteration", next.ID, current.Status)
	}
	if !next.Status.IsTerminal() {
		next.Status = current.Status
	}
	logger.Info("backfill status changed during iteration",
		"from", string(from),
		"stored", string(current.Status),
		"writing", string(next.Status),
	)
	ok, err = e.store.UpdateBackfill(ctx, next, current.Status)
	if err != nil {
		return next, err
	}
	if !ok {
		return next, fmt.Errorf("backfill %s changed concurrently", next.ID)
	}
	return next, nil
}

type panicError struct {
	value any
	stack string
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// safeIterate converts a panic inside one iteration into an error.
func (e *Executor) safeIterate(ctx context.Context, logger *slog.Logger, b *ir.PartitionBackfill, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return e.iterate(ctx, logger, b, now)
}

func (e *Executor) iterate(ctx context.Context, logger *slog.Logger, b *ir.PartitionBackfill, now time.Time) error {
	g := e.graphs.Graph()
	if g == nil {
		return fmt.Errorf("no asset graph loaded")
	}
	cache := graph.NewPartitionCache(g, now)

	if b.Target.Kind == ir.TargetExplicit && !b.Cursor.Materialized {
		targets, err := materializeTargets(g, cache, b.Target)
		if err != nil {
			return fmt.Errorf("materialize targets: %w", err)
		}
		b.Cursor.Targets = targets
		b.Cursor.Materialized = true
		logger.Info("backfill targets materialized", "targets", len(targets))
	}

	if err := e.observeRuns(ctx, b); err != nil {
		return err
	}

	if b.Status == ir.BackfillCanceling {
		cancelPending(b)
		return nil
	}

	switch b.Target.Kind {
	case ir.TargetExplicit:
		return e.iterateExplicit(ctx, logger, g, cache, b)
	case ir.TargetGraph:
		return e.iterateGraph(ctx, logger, g, b, now)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTarget, b.Target.Kind)
	}
}

// observeRuns refreshes requested targets from the launcher.
func (e *Executor) observeRuns(ctx context.Context, b *ir.PartitionBackfill) error {
	for i := range b.Cursor.Targets {
		t := &b.Cursor.Targets[i]
		if t.Status != ir.TargetRequested || t.RunID == "" {
			continue
		}
		status, err := e.launcher.RunStatus(ctx, t.RunID)
		if err != nil {
			return fmt.Errorf("status of run %s: %w", t.RunID, err)
		}
		switch status {
		case ir.RunSucceeded:
			t.Status = ir.TargetSucceeded
		case ir.RunFailed:
			t.Status = ir.TargetFailed
			t.Reason = "run failed"
		case ir.RunCanceled:
			t.Status = ir.TargetCanceled
			t.Reason = "run canceled"
		}
	}
	return nil
}

// cancelPending stops a canceling backfill: pending targets are canceled,
// and the backfill becomes CANCELED once nothing it requested is in flight.
func cancelPending(b *ir.PartitionBackfill) {
	inFlight := false
	for i := range b.Cursor.Targets {
		t := &b.Cursor.Targets[i]
		switch t.Status {
		case ir.TargetPending:
			t.Status = ir.TargetCanceled
			t.Reason = "backfill canceled"
		case ir.TargetRequested:
			inFlight = true
		}
	}
	if !inFlight {
		b.Status = ir.BackfillCanceled
	}
}

func (e *Executor) iterateExplicit(ctx context.Context, logger *slog.Logger, g *graph.Graph, cache *graph.PartitionCache, b *ir.PartitionBackfill) error {
	targets := b.Cursor.Targets
	idx := indexTargets(targets)
	launched := 0

	// Targets are in topological order, so one pass propagates failures
	// through the whole backfill.
	for i := range targets {
		t := &targets[i]
		if t.Status != ir.TargetPending {
			continue
		}

		ups, err := upstreamTargets(g, cache, idx, t.AssetPartition())
		if err != nil {
			return err
		}
		ready := true
		for _, u := range ups {
			up := targets[u]
			switch up.Status {
			case ir.TargetFailed, ir.TargetCanceled:
				t.Status = ir.TargetFailed
				t.Reason = fmt.Sprintf("upstream %s %s", up.AssetPartition(), up.Status)
				ready = false
			case ir.TargetSucceeded:
			default:
				ready = false
			}
			if t.Status == ir.TargetFailed {
				break
			}
		}
		if !ready || (e.maxRequests > 0 && launched >= e.maxRequests) {
			continue
		}

		key, err := ir.RequestKey(b.Scope(), t.Asset, t.Partition, t.Attempt)
		if err != nil {
			return fmt.Errorf("request key: %w", err)
		}
		runID, err := e.launcher.RequestRun(ctx, launcher.RunRequest{
			RequestKey: key,
			Asset:      t.Asset,
			Partition:  t.Partition,
			BackfillID: b.ID,
		})
		if err != nil {
			return fmt.Errorf("request run for %s: %w", t.AssetPartition(), err)
		}
		t.Status = ir.TargetRequested
		t.RunID = runID
		launched++
	}

	if launched > 0 {
		logger.Info("backfill runs requested", "runs", launched)
	}
	finishIfDone(b)
	return nil
}

// finishIfDone completes the backfill when every target is terminal.
func finishIfDone(b *ir.PartitionBackfill) {
	failures := false
	for _, t := range b.Cursor.Targets {
		if !t.Status.IsTerminal() {
			return
		}
		if t.Status != ir.TargetSucceeded {
			failures = true
		}
	}
	if failures {
		b.Status = ir.BackfillCompletedWithFailures
	} else {
		b.Status = ir.BackfillCompleted
	}
}
