package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/roach88/cadence/internal/backfill"
	"github.com/roach88/cadence/internal/daemon"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/launcher"
	"github.com/roach88/cadence/internal/store"
	"github.com/roach88/cadence/internal/testutil"
)

// Harness drives one scenario's daemon with a manual clock.
type Harness struct {
	store    *store.Store
	daemon   *daemon.Daemon
	queue    *launcher.Queue
	clock    *testutil.Clock
	logger   *slog.Logger
	ticks    int
	backfill int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh database and manifest directory that
// are removed afterwards. The returned error covers setup failures and
// steps that could not be applied; unmet expectations and assertions are
// reported in the Result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	start, err := scenario.StartTime()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: start: %w", scenario.Name, err)
	}

	dir, err := os.MkdirTemp("", "cadence-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	manifestDir := filepath.Join(dir, "assets")
	if err := os.MkdirAll(manifestDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create manifest dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(manifestDir, "assets.cue"), []byte(scenario.Manifest), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	st, err := store.Open(filepath.Join(dir, "cadence.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewClock(start)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{
		store:  st,
		clock:  clock,
		logger: logger,
		queue: launcher.NewQueue(st,
			launcher.WithClock(clock.Now),
			launcher.WithLogger(logger),
		),
	}
	h.daemon = daemon.New(st, manifestDir,
		daemon.WithClock(clock.Now),
		daemon.WithLauncher(h.queue),
		daemon.WithLogger(logger),
	)

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.apply(ctx, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Action, err)
		}
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) apply(ctx context.Context, step Step, result *Result) error {
	now := h.clock.Now()
	switch step.Action {
	case StepTick:
		return h.tick(ctx, step, result)

	case StepAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return err
		}
		result.add(TraceEvent{Type: EventAdvance, At: h.clock.Advance(d)})

	case StepRecord:
		ap := ir.AP(ir.AssetKey(step.Asset), ir.PartitionKey(step.Partition))
		if err := h.store.WriteRecord(ctx, ir.Record{
			Asset:         ap.Asset,
			Partition:     ap.Partition,
			Timestamp:     now,
			IsObservation: step.Observation,
		}); err != nil {
			return err
		}
		kind := "materialization"
		if step.Observation {
			kind = "observation"
		}
		result.add(TraceEvent{Type: EventRecord, At: now, Target: ap, Status: kind})

	case StepComplete:
		return h.complete(ctx, step, result)

	case StepBackfill:
		return h.submitBackfill(ctx, step, result)
	}
	return nil
}

func (h *Harness) tick(ctx context.Context, step Step, result *Result) error {
	report, err := h.daemon.Tick(ctx)
	if err != nil {
		return err
	}
	h.ticks++

	ev := TraceEvent{Type: EventTick, At: report.EvaluatedAt, Tick: h.ticks}
	for _, req := range report.Requests {
		ev.Requests = append(ev.Requests, req.AssetPartition())
	}
	for _, b := range report.Backfills {
		ev.Backfills = append(ev.Backfills, fmt.Sprintf("%s=%s", b.ID, b.Status))
	}
	result.add(ev)

	for _, e := range report.EvalErrs {
		result.AddError(fmt.Sprintf("tick %d: %v", h.ticks, e))
	}
	for _, e := range report.LaunchErrs {
		result.AddError(fmt.Sprintf("tick %d: %v", h.ticks, e))
	}
	if report.ReloadErr != nil {
		result.AddError(fmt.Sprintf("tick %d: %v", h.ticks, report.ReloadErr))
	}

	var want []ir.AssetPartition
	for _, r := range step.Requests {
		ap, err := parseAssetPartition(r)
		if err != nil {
			return err
		}
		want = append(want, ap)
	}
	switch {
	case step.Quiet && len(ev.Requests) > 0:
		result.AddError(fmt.Sprintf("tick %d: expected no requests, got %v", h.ticks, ev.Requests))
	case len(want) > 0 && !slices.Equal(want, ev.Requests):
		result.AddError(fmt.Sprintf("tick %d: expected requests %v, got %v", h.ticks, want, ev.Requests))
	}
	return nil
}

// complete finishes every unfinished run of the step's target.
func (h *Harness) complete(ctx context.Context, step Step, result *Result) error {
	status := ir.RunSucceeded
	if step.Status != "" {
		var err error
		if status, err = ir.ParseRunStatus(step.Status); err != nil {
			return err
		}
	}

	ap := ir.AP(ir.AssetKey(step.Asset), ir.PartitionKey(step.Partition))
	runs, err := h.store.ListRuns(ctx, store.RunFilter{
		Asset:    ap.Asset,
		Statuses: []ir.RunStatus{ir.RunPending, ir.RunRunning},
	})
	if err != nil {
		return err
	}

	n := 0
	for _, run := range runs {
		if run.Partition != ap.Partition {
			continue
		}
		if _, err := h.queue.Complete(ctx, run.ID, status); err != nil {
			return err
		}
		n++
	}
	if n == 0 {
		result.AddError(fmt.Sprintf("complete %s: no unfinished runs", ap))
	}
	result.add(TraceEvent{Type: EventComplete, At: h.clock.Now(), Target: ap, Status: string(status), Count: n})
	return nil
}

func (h *Harness) submitBackfill(ctx context.Context, step Step, result *Result) error {
	if err := h.daemon.Reload(); err != nil {
		return err
	}

	keys := make([]ir.PartitionKey, len(step.Keys))
	for i, k := range step.Keys {
		keys[i] = ir.PartitionKey(k)
	}
	target := ir.BackfillTarget{
		Kind:   ir.TargetExplicit,
		Ranges: []ir.PartitionRange{{Asset: ir.AssetKey(step.Asset), Keys: keys}},
	}

	h.backfill++
	gen := ir.NewFixedGenerator(fmt.Sprintf("backfill-%d", h.backfill))
	now := h.clock.Now()
	b, err := backfill.Submit(ctx, h.store, h.daemon.Graph(), gen, target, now)
	if err != nil {
		return err
	}
	result.add(TraceEvent{Type: EventBackfill, At: now, ID: b.ID, Target: ir.AP(ir.AssetKey(step.Asset), "")})
	return nil
}
