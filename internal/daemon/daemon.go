package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/cadence/internal/backfill"
	"github.com/roach88/cadence/internal/graph"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/launcher"
	"github.com/roach88/cadence/internal/manifest"
	"github.com/roach88/cadence/internal/scheduler"
	"github.com/roach88/cadence/internal/store"
)

// DefaultInterval is the pause between the end of one tick and the start
// of the next.
const DefaultInterval = 30 * time.Second

// ErrNoGraph is returned by Tick when no manifest has ever loaded.
var ErrNoGraph = errors.New("no asset graph loaded")

// Daemon runs ticks against one store.
//
// Tick and Run must not be called concurrently; Graph is safe from any
// goroutine.
type Daemon struct {
	store       *store.Store
	dir         string
	opts        manifest.Options
	launcher    launcher.Launcher
	executor    *backfill.Executor
	now         func() time.Time
	interval    time.Duration
	evalWorkers int
	logger      *slog.Logger
	tracer      trace.Tracer

	backfillOpts []backfill.Option

	mu    sync.RWMutex
	graph *graph.Graph
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithClock sets the time source used for evaluation.
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) {
		d.now = now
	}
}

// WithInterval sets the pause between ticks.
func WithInterval(interval time.Duration) Option {
	return func(d *Daemon) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithManifestOptions sets the condition defaults and overrides applied
// when the manifest is compiled.
func WithManifestOptions(opts manifest.Options) Option {
	return func(d *Daemon) {
		d.opts = opts
	}
}

// WithLauncher replaces the default store-backed run queue.
func WithLauncher(l launcher.Launcher) Option {
	return func(d *Daemon) {
		d.launcher = l
	}
}

// WithEvaluationWorkers bounds concurrent asset evaluations per level.
func WithEvaluationWorkers(n int) Option {
	return func(d *Daemon) {
		d.evalWorkers = n
	}
}

// WithBackfillOptions passes options through to the backfill executor.
func WithBackfillOptions(opts ...backfill.Option) Option {
	return func(d *Daemon) {
		d.backfillOpts = append(d.backfillOpts, opts...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) {
		d.logger = logger
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Daemon) {
		d.tracer = tracer
	}
}

// New creates a daemon that loads its manifest from dir. The manifest is
// first loaded by the first tick, or by an explicit Reload.
func New(st *store.Store, dir string, opts ...Option) *Daemon {
	d := &Daemon{
		store:       st,
		dir:         dir,
		now:         time.Now,
		interval:    DefaultInterval,
		evalWorkers: scheduler.DefaultWorkers,
		logger:      slog.Default(),
		tracer:      otel.Tracer("github.com/roach88/cadence/internal/daemon"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.launcher == nil {
		d.launcher = launcher.NewQueue(st,
			launcher.WithClock(d.now),
			launcher.WithLogger(d.logger),
		)
	}

	execOpts := append([]backfill.Option{
		backfill.WithClock(d.now),
		backfill.WithEvaluationWorkers(d.evalWorkers),
		backfill.WithLogger(d.logger),
		backfill.WithTracer(d.tracer),
	}, d.backfillOpts...)
	d.executor = backfill.NewExecutor(st, d, d.launcher, execOpts...)
	return d
}

// Graph returns the graph currently in service, or nil before the first
// successful load.
func (d *Daemon) Graph() *graph.Graph {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.graph
}

// Executor returns the backfill executor driven by the daemon.
func (d *Daemon) Executor() *backfill.Executor {
	return d.executor
}

// Reload recompiles the manifest. On failure the previous graph stays in
// service and the error is returned.
func (d *Daemon) Reload() error {
	m, err := manifest.Load(d.dir, d.opts)
	if err != nil {
		if d.Graph() != nil {
			d.logger.Warn("manifest reload failed, keeping previous graph", "dir", d.dir, "error", err)
		}
		return fmt.Errorf("load manifest: %w", err)
	}

	d.mu.Lock()
	prev := d.graph
	d.graph = m.Graph
	d.mu.Unlock()

	if prev == nil || prev.Len() != m.Graph.Len() {
		d.logger.Info("manifest loaded", "dir", d.dir, "assets", m.Graph.Len(), "files", m.FileCount)
	}
	return nil
}

// TickReport summarizes one tick.
type TickReport struct {
	TickID      int64
	EvaluatedAt time.Time

	// ReloadErr is set when the manifest failed to reload and the previous
	// graph was used.
	ReloadErr error

	Requests    []scheduler.AssetRequest
	Launched    int
	LaunchErrs  []error
	EvalErrs    []*scheduler.EvaluationError
	Committed   bool
	Backfills   []backfill.PassOutcome
	BackfillErr error
}

// Tick runs one full scheduling pass. It returns an error when no graph
// is available, when ctx is canceled, or when tick state cannot be
// persisted. Per-asset and per-backfill failures are reported in the
// TickReport.
func (d *Daemon) Tick(ctx context.Context) (*TickReport, error) {
	now := d.now().UTC()
	ctx, span := d.tracer.Start(ctx, "daemon.Tick")
	defer span.End()

	report := &TickReport{EvaluatedAt: now}
	if err := d.Reload(); err != nil {
		report.ReloadErr = err
	}
	g := d.Graph()
	if g == nil {
		err := fmt.Errorf("%w: %w", ErrNoGraph, report.ReloadErr)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	ev, err := scheduler.New(g, d.store, d.store,
		scheduler.WithWorkers(d.evalWorkers),
		scheduler.WithLogger(d.logger),
		scheduler.WithTracer(d.tracer),
	)
	if err != nil {
		return nil, err
	}
	res, err := ev.Tick(ctx, now)
	if err != nil {
		return nil, err
	}
	report.Requests = res.Requests
	report.EvalErrs = res.Errors

	for _, req := range res.Requests {
		_, err := d.launcher.RequestRun(ctx, launcher.RunRequest{
			RequestKey: req.RequestKey,
			Asset:      req.Asset,
			Partition:  req.Partition,
		})
		if err != nil {
			d.logger.Error("run request failed",
				"asset", string(req.Asset),
				"partition", string(req.Partition),
				"error", err,
			)
			report.LaunchErrs = append(report.LaunchErrs, fmt.Errorf("%s: %w", req.AssetPartition(), err))
			continue
		}
		report.Launched++
	}

	// Cursors stay put after a failed launch so the next tick retries with
	// the same request keys.
	if len(report.LaunchErrs) == 0 {
		if err := ev.Commit(ctx, res); err != nil {
			return nil, err
		}
		report.Committed = true
	}

	report.TickID, err = d.store.WriteTick(ctx, store.TickRecord{
		Scope:       res.Scope,
		EvaluatedAt: now,
		Requested:   len(res.Requests),
		Errors:      len(res.Errors) + len(report.LaunchErrs),
		Summary:     summarize(res, report),
	})
	if err != nil {
		return nil, fmt.Errorf("record tick: %w", err)
	}

	report.Backfills, report.BackfillErr = d.executor.RunPass(ctx)
	if report.BackfillErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Error("backfill pass failed", "error", report.BackfillErr)
	}

	span.SetAttributes(
		attribute.Int("cadence.requests", len(res.Requests)),
		attribute.Int("cadence.launched", report.Launched),
		attribute.Int("cadence.backfills", len(report.Backfills)),
	)
	d.logger.Info("tick complete",
		"tick_id", report.TickID,
		"requests", len(res.Requests),
		"launched", report.Launched,
		"errors", len(res.Errors)+len(report.LaunchErrs),
		"backfills", len(report.Backfills),
	)
	return report, nil
}

// Run ticks until ctx is canceled. Errors from individual ticks are
// logged and the loop continues.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("daemon starting", "manifest", d.dir, "interval", d.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping")
			return nil
		case <-timer.C:
		}

		if _, err := d.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				d.logger.Info("daemon stopping")
				return nil
			}
			d.logger.Error("tick failed", "error", err)
		}
		timer.Reset(d.interval)
	}
}

func summarize(res *scheduler.TickResult, report *TickReport) ir.Object {
	requested := ir.Object{}
	for _, req := range res.Requests {
		n, _ := requested[string(req.Asset)].(ir.Int)
		requested[string(req.Asset)] = n + 1
	}
	errs := ir.Object{}
	for _, e := range res.Errors {
		errs[string(e.Asset)] = ir.String(e.Err.Error())
	}

	out := ir.Object{
		"assets":    ir.Int(len(res.Evaluations)),
		"requested": requested,
		"launched":  ir.Int(report.Launched),
		"committed": ir.Bool(report.Committed),
	}
	if len(errs) > 0 {
		out["errors"] = errs
	}
	if len(report.LaunchErrs) > 0 {
		failures := make(ir.List, len(report.LaunchErrs))
		for i, e := range report.LaunchErrs {
			failures[i] = ir.String(e.Error())
		}
		out["launch_failures"] = failures
	}
	if report.ReloadErr != nil {
		out["reload_error"] = ir.String(report.ReloadErr.Error())
	}
	return out
}
