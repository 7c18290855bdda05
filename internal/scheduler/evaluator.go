package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/cadence/internal/condition"
	"github.com/roach88/cadence/internal/graph"
	"github.com/roach88/cadence/internal/ir"
)

// CursorStore persists evaluator cursors. *store.Store satisfies it.
type CursorStore interface {
	LoadCursor(ctx context.Context, scope string, asset ir.AssetKey) (ir.EvaluationCursor, error)
	SaveCursors(ctx context.Context, scope string, cursors map[ir.AssetKey]ir.EvaluationCursor) error
}

// Evaluator runs scheduling ticks over one graph snapshot.
//
// Thread-safety: Tick and Commit may be called from any goroutine, but
// the host must not run two ticks of the same scope concurrently.
type Evaluator struct {
	graph   *graph.Graph
	state   StateSource
	cursors CursorStore

	scope   string
	only    map[ir.AssetKey]bool
	workers int
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates an Evaluator. It fails if WithAssets names an asset the
// graph does not contain.
func New(g *graph.Graph, state StateSource, cursors CursorStore, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		graph:   g,
		state:   state,
		cursors: cursors,
		workers: DefaultWorkers,
		logger:  slog.Default(),
		tracer:  defaultTracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	for k := range e.only {
		if !g.Has(k) {
			return nil, fmt.Errorf("%w: %s", graph.ErrUnknownAsset, k)
		}
	}
	return e, nil
}

// Scope returns the evaluator's cursor namespace.
func (e *Evaluator) Scope() string { return e.scope }

// AssetRequest is one asset partition the tick decided to request.
type AssetRequest struct {
	Asset      ir.AssetKey     `json:"asset"`
	Partition  ir.PartitionKey `json:"partition,omitempty"`
	RequestKey string          `json:"request_key"`
}

// AssetPartition returns the request's target.
func (r AssetRequest) AssetPartition() ir.AssetPartition {
	return ir.AP(r.Asset, r.Partition)
}

// AssetEvaluation describes one asset's evaluation within a tick.
type AssetEvaluation struct {
	Asset         ir.AssetKey       `json:"asset"`
	Condition     string            `json:"condition"`
	ConditionHash string            `json:"condition_hash"`
	Partitions    int               `json:"partitions"`
	Skipped       int               `json:"skipped"`
	Requested     []ir.PartitionKey `json:"requested,omitempty"`

	// Results holds one result per evaluated (non-skipped) partition.
	Results     []condition.Result     `json:"-"`
	Explanation *condition.Explanation `json:"explanation,omitempty"`
}

// Evaluated returns the number of partitions evaluated this tick.
func (a AssetEvaluation) Evaluated() int { return len(a.Results) }

// TickResult is the outcome of one tick. Its cursors are pending until
// Commit is called.
type TickResult struct {
	Scope       string             `json:"scope"`
	EvaluatedAt time.Time          `json:"evaluated_at"`
	Requests    []AssetRequest     `json:"requests"`
	Evaluations []AssetEvaluation  `json:"evaluations"`
	Errors      []*EvaluationError `json:"-"`

	cursors map[ir.AssetKey]ir.EvaluationCursor
}

// Evaluation returns the evaluation of asset, if it was evaluated.
func (r *TickResult) Evaluation(asset ir.AssetKey) (AssetEvaluation, bool) {
	for _, ev := range r.Evaluations {
		if ev.Asset == asset {
			return ev, true
		}
	}
	return AssetEvaluation{}, false
}

// RequestedPartitions returns the requested asset partitions in order.
func (r *TickResult) RequestedPartitions() []ir.AssetPartition {
	out := make([]ir.AssetPartition, len(r.Requests))
	for i, req := range r.Requests {
		out[i] = req.AssetPartition()
	}
	return out
}

type assetOutcome struct {
	eval   AssetEvaluation
	reqs   []AssetRequest
	cursor ir.EvaluationCursor
	err    *EvaluationError
}

// Tick evaluates every conditioned asset at now. It returns an error only
// when ctx is canceled; per-asset failures are collected in Errors.
func (e *Evaluator) Tick(ctx context.Context, now time.Time) (*TickResult, error) {
	ctx, span := e.tracer.Start(ctx, "scheduler.Tick",
		trace.WithAttributes(attribute.String("cadence.scope", e.scope)))
	defer span.End()

	now = now.UTC()
	snap := newSnapshot(ctx, e.graph, e.state, now)
	result := &TickResult{
		Scope:       e.scope,
		EvaluatedAt: now,
		Requests:    []AssetRequest{},
		Evaluations: []AssetEvaluation{},
		cursors:     make(map[ir.AssetKey]ir.EvaluationCursor),
	}

	for _, level := range e.graph.Levels() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		assets := e.selectAssets(level)
		outcomes := make([]assetOutcome, len(assets))

		var g errgroup.Group
		g.SetLimit(e.workers)
		for i, asset := range assets {
			i, asset := i, asset
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				outcomes[i] = e.evaluateAsset(ctx, snap, asset)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for _, out := range outcomes {
			if out.err != nil {
				e.logger.Error("asset evaluation failed",
					"scope", e.scope,
					"asset", string(out.err.Asset),
					"error", out.err.Err,
				)
				result.Errors = append(result.Errors, out.err)
				continue
			}
			snap.addRequests(out.eval.Asset, out.eval.Requested)
			result.Evaluations = append(result.Evaluations, out.eval)
			result.Requests = append(result.Requests, out.reqs...)
			result.cursors[out.eval.Asset] = out.cursor
		}
	}

	slices.SortFunc(result.Requests, func(a, b AssetRequest) int {
		return ir.CompareAssetPartitions(a.AssetPartition(), b.AssetPartition())
	})

	span.SetAttributes(
		attribute.Int("cadence.requests", len(result.Requests)),
		attribute.Int("cadence.errors", len(result.Errors)),
	)
	e.logger.Debug("tick evaluated",
		"scope", e.scope,
		"evaluated_at", now,
		"assets", len(result.Evaluations),
		"requests", len(result.Requests),
		"errors", len(result.Errors),
	)
	return result, nil
}

// Commit persists the cursors of a tick. Call it after the tick's requests
// have been handed to the launcher.
func (e *Evaluator) Commit(ctx context.Context, result *TickResult) error {
	if result == nil || len(result.cursors) == 0 {
		return nil
	}
	if result.Scope != e.scope {
		return fmt.Errorf("commit: result scope %q does not match evaluator scope %q", result.Scope, e.scope)
	}
	if err := e.cursors.SaveCursors(ctx, e.scope, result.cursors); err != nil {
		return fmt.Errorf("commit cursors: %w", err)
	}
	return nil
}

// selectAssets returns the assets of a level that carry a condition and
// pass the WithAssets filter.
func (e *Evaluator) selectAssets(level []ir.AssetKey) []ir.AssetKey {
	out := make([]ir.AssetKey, 0, len(level))
	for _, k := range level {
		if e.only != nil && !e.only[k] {
			continue
		}
		node, ok := e.graph.Get(k)
		if !ok || node.Condition == nil {
			continue
		}
		out = append(out, k)
	}
	return out
}

// evaluateAsset isolates one asset's evaluation: errors and panics become
// an EvaluationError.
func (e *Evaluator) evaluateAsset(ctx context.Context, snap *snapshot, asset ir.AssetKey) (out assetOutcome) {
	_, span := e.tracer.Start(ctx, "scheduler.evaluateAsset",
		trace.WithAttributes(attribute.String("cadence.asset", string(asset))))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			out = assetOutcome{err: &EvaluationError{
				Asset: asset,
				Err:   errPanic{value: r},
				Stack: string(debug.Stack()),
			}}
		}
		if out.err != nil {
			span.RecordError(out.err)
			span.SetStatus(codes.Error, out.err.Error())
		}
	}()

	eval, reqs, cursor, err := e.evaluate(ctx, snap, asset)
	if err != nil {
		return assetOutcome{err: &EvaluationError{Asset: asset, Err: err}}
	}
	span.SetAttributes(
		attribute.Int("cadence.evaluated", eval.Evaluated()),
		attribute.Int("cadence.skipped", eval.Skipped),
		attribute.Int("cadence.requested", len(eval.Requested)),
	)
	return assetOutcome{eval: eval, reqs: reqs, cursor: cursor}
}

func (e *Evaluator) evaluate(ctx context.Context, snap *snapshot, asset ir.AssetKey) (AssetEvaluation, []AssetRequest, ir.EvaluationCursor, error) {
	var none ir.EvaluationCursor

	node, ok := e.graph.Get(asset)
	if !ok {
		return AssetEvaluation{}, nil, none, fmt.Errorf("%w: %s", graph.ErrUnknownAsset, asset)
	}
	cond := node.Condition

	hash, err := cond.Hash()
	if err != nil {
		return AssetEvaluation{}, nil, none, fmt.Errorf("hash condition: %w", err)
	}

	prev, err := e.cursors.LoadCursor(ctx, e.scope, asset)
	if err != nil {
		return AssetEvaluation{}, nil, none, fmt.Errorf("load cursor: %w", err)
	}
	if prev.ConditionHash != hash {
		// A changed condition discards the cursor but keeps the generation
		// so that request keys never repeat.
		fresh := ir.NewEvaluationCursor()
		fresh.Generation = prev.Generation
		prev = fresh
	}

	fingerprint, err := inputFingerprint(snap, condition.Inputs(cond, asset, e.graph.Parents))
	if err != nil {
		return AssetEvaluation{}, nil, none, err
	}
	boundary, err := timeBoundary(snap, cond, asset)
	if err != nil {
		return AssetEvaluation{}, nil, none, fmt.Errorf("time boundary: %w", err)
	}

	partitions, err := snap.PartitionKeys(asset)
	if err != nil {
		return AssetEvaluation{}, nil, none, fmt.Errorf("partitions: %w", err)
	}

	next := ir.EvaluationCursor{
		Version:         ir.CursorVersion,
		ConditionHash:   hash,
		Fingerprint:     fingerprint,
		TimeBoundary:    boundary,
		Generation:      prev.Generation + 1,
		LastEvaluatedAt: snap.now,
		Evaluated:       make(map[ir.PartitionKey]bool, len(partitions)),
	}
	eval := AssetEvaluation{
		Asset:         asset,
		Condition:     cond.String(),
		ConditionHash: hash,
		Partitions:    len(partitions),
	}
	reqs := []AssetRequest{}

	for _, p := range partitions {
		if prev.IsStable(p, hash, fingerprint, boundary) {
			next.Evaluated[p] = false
			eval.Skipped++
			continue
		}

		res := condition.Evaluate(cond, snap, ir.AP(asset, p))
		eval.Results = append(eval.Results, res)
		next.Evaluated[p] = res.Value
		if !res.Value {
			continue
		}

		key, err := ir.RequestKey(e.scope, asset, p, next.Generation)
		if err != nil {
			return AssetEvaluation{}, nil, none, fmt.Errorf("request key: %w", err)
		}
		eval.Requested = append(eval.Requested, p)
		reqs = append(reqs, AssetRequest{Asset: asset, Partition: p, RequestKey: key})
	}
	eval.Explanation = condition.Explain(eval.Results)

	return eval, reqs, next, nil
}
