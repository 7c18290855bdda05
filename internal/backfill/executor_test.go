package backfill

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/condition"
	"github.com/roach88/cadence/internal/graph"
	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/launcher"
	"github.com/roach88/cadence/internal/store"
	"github.com/roach88/cadence/internal/testutil"
	"github.com/roach88/cadence/internal/timewindow"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store *store.Store
	graph *graph.Graph
	queue *launcher.Queue
	clock *testutil.Clock
	exec  *Executor
	ids   ir.IDGenerator
}

func dailyNode(key string, deps ...string) graph.AssetNode {
	n := graph.AssetNode{
		Key:        ir.AssetKey(key),
		Partitions: timewindow.Daily(day0),
		Condition:  condition.Missing().And(condition.InProgress().Not()),
	}
	for _, d := range deps {
		n.Deps = append(n.Deps, graph.Dependency{Asset: ir.AssetKey(d)})
	}
	return n
}

func newFixture(t *testing.T, l func(*launcher.Queue) launcher.Launcher, opts ...Option) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	g, err := graph.New(
		dailyNode("raw"),
		dailyNode("clean", "raw"),
		graph.AssetNode{Key: "bad", Condition: condition.Missing()},
		graph.AssetNode{Key: "plain", Condition: condition.Missing().And(condition.InProgress().Not())},
	)
	require.NoError(t, err)

	clock := testutil.NewClock(time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC))
	q := launcher.NewQueue(s, launcher.WithClock(clock.Now))
	var runner launcher.Launcher = q
	if l != nil {
		runner = l(q)
	}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &fixture{
		store: s,
		graph: g,
		queue: q,
		clock: clock,
		exec:  NewExecutor(s, StaticGraph{G: g}, runner, opts...),
		ids:   ir.NewFixedGenerator("bf-1", "bf-2", "bf-3"),
	}
}

func (f *fixture) submit(t *testing.T, target ir.BackfillTarget) ir.PartitionBackfill {
	t.Helper()
	b, err := Submit(context.Background(), f.store, f.graph, f.ids, target, f.clock.Now())
	require.NoError(t, err)
	return b
}

func (f *fixture) iterate(t *testing.T, id string) ir.PartitionBackfill {
	t.Helper()
	out := f.exec.Iterate(context.Background(), id)
	require.NoError(t, out.Err)
	b, err := Get(context.Background(), f.store, id)
	require.NoError(t, err)
	return b
}

// completeAll finishes every pending run; fail selects runs to fail.
func (f *fixture) completeAll(t *testing.T, fail func(ir.Run) bool) {
	t.Helper()
	ctx := context.Background()
	f.clock.Advance(time.Minute)
	runs, err := f.queue.PendingRuns(ctx, 0)
	require.NoError(t, err)
	for _, r := range runs {
		status := ir.RunSucceeded
		if fail != nil && fail(r) {
			status = ir.RunFailed
		}
		_, err := f.queue.Complete(ctx, r.ID, status)
		require.NoError(t, err)
	}
}

func explicit(ranges ...ir.PartitionRange) ir.BackfillTarget {
	return ir.BackfillTarget{Kind: ir.TargetExplicit, Ranges: ranges}
}

func statuses(b ir.PartitionBackfill) map[string]ir.TargetStatus {
	out := make(map[string]ir.TargetStatus, len(b.Cursor.Targets))
	for _, t := range b.Cursor.Targets {
		out[t.AssetPartition().String()] = t.Status
	}
	return out
}

func TestIterate_ExplicitCompletesInDependencyOrder(t *testing.T) {
	f := newFixture(t, nil)
	b := f.submit(t, explicit(
		ir.PartitionRange{Asset: "clean", Start: "2024-01-01", End: "2024-01-02"},
		ir.PartitionRange{Asset: "raw", Start: "2024-01-01", End: "2024-01-02"},
	))
	assert.Equal(t, ir.BackfillRequested, b.Status)

	b = f.iterate(t, b.ID)
	assert.True(t, b.Cursor.Materialized)
	assert.Equal(t, map[string]ir.TargetStatus{
		"raw[2024-01-01]":   ir.TargetRequested,
		"raw[2024-01-02]":   ir.TargetRequested,
		"clean[2024-01-01]": ir.TargetPending,
		"clean[2024-01-02]": ir.TargetPending,
	}, statuses(b))
	// Targets are ordered upstream first.
	assert.Equal(t, ir.AssetKey("raw"), b.Cursor.Targets[0].Asset)

	f.completeAll(t, nil)
	b = f.iterate(t, b.ID)
	assert.Equal(t, ir.TargetSucceeded, statuses(b)["raw[2024-01-01]"])
	assert.Equal(t, ir.TargetRequested, statuses(b)["clean[2024-01-01]"])
	assert.Equal(t, ir.BackfillRequested, b.Status)

	f.completeAll(t, nil)
	b = f.iterate(t, b.ID)
	assert.Equal(t, ir.BackfillCompleted, b.Status)
	assert.Equal(t, int64(3), b.Cursor.Iteration)

	runs, err := f.store.ListRuns(context.Background(), store.RunFilter{BackfillID: b.ID})
	require.NoError(t, err)
	assert.Len(t, runs, 4)
}

func TestIterate_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	b := f.submit(t, explicit(ir.PartitionRange{Asset: "raw", Start: "2024-01-01", End: "2024-01-03"}))

	first := f.iterate(t, b.ID)
	second := f.iterate(t, b.ID)
	for i := range first.Cursor.Targets {
		assert.Equal(t, first.Cursor.Targets[i].RunID, second.Cursor.Targets[i].RunID)
	}

	runs, err := f.store.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestIterate_FailurePropagatesDownstream(t *testing.T) {
	f := newFixture(t, nil)
	b := f.submit(t, explicit(
		ir.PartitionRange{Asset: "raw", Start: "2024-01-01", End: "2024-01-02"},
		ir.PartitionRange{Asset: "clean", Start: "2024-01-01", End: "2024-01-02"},
	))

	f.iterate(t, b.ID)
	f.completeAll(t, func(r ir.Run) bool { return r.Partition == "2024-01-01" })
	b = f.iterate(t, b.ID)

	st := statuses(b)
	assert.Equal(t, ir.TargetFailed, st["raw[2024-01-01]"])
	assert.Equal(t, ir.TargetFailed, st["clean[2024-01-01]"])
	assert.Equal(t, ir.TargetRequested, st["clean[2024-01-02]"])
	for _, target := range b.Cursor.Targets {
		if target.AssetPartition() == ir.AP("clean", "2024-01-01") {
			assert.Contains(t, target.Reason, "upstream raw[2024-01-01]")
		}
	}

	f.completeAll(t, nil)
	b = f.iterate(t, b.ID)
	assert.Equal(t, ir.BackfillCompletedWithFailures, b.Status)

	// Requeue retries the failed targets with a new attempt.
	b, err := Requeue(context.Background(), f.store, b.ID, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, ir.BackfillRequested, b.Status)
	for _, target := range b.Cursor.Targets {
		if target.Partition == "2024-01-01" {
			assert.Equal(t, ir.TargetPending, target.Status)
			assert.Equal(t, int64(2), target.Attempt)
		}
	}

	b = f.iterate(t, b.ID)
	assert.Equal(t, ir.TargetRequested, statuses(b)["raw[2024-01-01]"])
	f.completeAll(t, nil)
	f.iterate(t, b.ID)
	f.completeAll(t, nil)
	b = f.iterate(t, b.ID)
	assert.Equal(t, ir.BackfillCompleted, b.Status)
}

func TestIterate_Cancel(t *testing.T) {
	f := newFixture(t, nil)
	b := f.submit(t, explicit(
		ir.PartitionRange{Asset: "raw", Keys: []ir.PartitionKey{"2024-01-01"}},
		ir.PartitionRange{Asset: "clean", Keys: []ir.PartitionKey{"2024-01-01"}},
	))
	f.iterate(t, b.ID)

	b, err := Cancel(context.Background(), f.store, b.ID, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, ir.BackfillCanceling, b.Status)

	// The raw run is still in flight.
	b = f.iterate(t, b.ID)
	assert.Equal(t, ir.BackfillCanceling, b.Status)
	assert.Equal(t, ir.TargetCanceled, statuses(b)["clean[2024-01-01]"])

	f.completeAll(t, nil)
	b = f.iterate(t, b.ID)
	assert.Equal(t, ir.BackfillCanceled, b.Status)
	assert.Equal(t, ir.TargetSucceeded, statuses(b)["raw[2024-01-01]"])

	_, err = Cancel(context.Background(), f.store, b.ID, f.clock.Now())
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestIterate_MaxRequestsPerIteration(t *testing.T) {
	f := newFixture(t, nil, WithMaxRequestsPerIteration(2))
	b := f.submit(t, explicit(ir.PartitionRange{Asset: "raw"}))

	b = f.iterate(t, b.ID)
	counts := b.Cursor.Counts()
	assert.Equal(t, 2, counts[ir.TargetRequested])
	assert.Equal(t, 2, counts[ir.TargetPending])
}

type panickyLauncher struct {
	*launcher.Queue
}

func (p panickyLauncher) RequestRun(ctx context.Context, req launcher.RunRequest) (string, error) {
	if req.Asset == "bad" {
		panic("launcher exploded")
	}
	return p.Queue.RequestRun(ctx, req)
}

func TestRunPass_IsolatesFailures(t *testing.T) {
	f := newFixture(t, func(q *launcher.Queue) launcher.Launcher { return panickyLauncher{q} })
	bad := f.submit(t, explicit(ir.PartitionRange{Asset: "bad"}))
	good := f.submit(t, explicit(ir.PartitionRange{Asset: "plain"}))

	outcomes, err := f.exec.RunPass(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	byID := map[string]PassOutcome{}
	for _, o := range outcomes {
		byID[o.ID] = o
	}
	assert.Equal(t, ir.BackfillFailed, byID[bad.ID].Status)
	assert.True(t, IsIterationError(byID[bad.ID].Err))
	assert.Equal(t, ir.BackfillRequested, byID[good.ID].Status)
	assert.NoError(t, byID[good.ID].Err)

	stored, err := Get(context.Background(), f.store, bad.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Error)
	assert.Equal(t, ErrorKindIteration, stored.Error.Kind)
	assert.Contains(t, stored.Error.Message, "launcher exploded")
	assert.NotEmpty(t, stored.Error.Stack)

	// Failed backfills are not iterated again.
	outcomes, err = f.exec.RunPass(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, good.ID, outcomes[0].ID)
}

func TestIterate_GraphTarget(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.submit(t, ir.BackfillTarget{Kind: ir.TargetGraph, Assets: []ir.AssetKey{"plain"}})

	b = f.iterate(t, b.ID)
	require.Len(t, b.Cursor.Targets, 1)
	assert.Equal(t, ir.TargetRequested, b.Cursor.Targets[0].Status)

	// The run is in flight, so nothing new is requested and the backfill waits.
	b = f.iterate(t, b.ID)
	assert.Equal(t, ir.BackfillRequested, b.Status)
	assert.Len(t, b.Cursor.Targets, 1)

	f.completeAll(t, nil)
	b = f.iterate(t, b.ID)
	assert.Equal(t, ir.BackfillCompleted, b.Status)

	cursors, err := f.store.ListCursors(ctx, b.Scope())
	require.NoError(t, err)
	assert.Empty(t, cursors)
}

func TestIterate_TerminalAndMissing(t *testing.T) {
	f := newFixture(t, nil)
	b := f.submit(t, explicit(ir.PartitionRange{Asset: "plain"}))
	f.iterate(t, b.ID)
	f.completeAll(t, nil)
	b = f.iterate(t, b.ID)
	require.Equal(t, ir.BackfillCompleted, b.Status)

	out := f.exec.Iterate(context.Background(), b.ID)
	assert.NoError(t, out.Err)
	assert.Equal(t, ir.BackfillCompleted, out.Status)
	again, err := Get(context.Background(), f.store, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Cursor.Iteration, again.Cursor.Iteration)

	out = f.exec.Iterate(context.Background(), "missing")
	assert.True(t, errors.Is(out.Err, ErrBackfillNotFound))
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := f.clock.Now()

	tests := []struct {
		name   string
		target ir.BackfillTarget
	}{
		{"no ranges", explicit()},
		{"unknown asset", explicit(ir.PartitionRange{Asset: "ghost"})},
		{"unknown partition", explicit(ir.PartitionRange{Asset: "raw", Keys: []ir.PartitionKey{"2030-01-01"}})},
		{"inverted range", explicit(ir.PartitionRange{Asset: "raw", Start: "2024-01-03", End: "2024-01-01"})},
		{"graph without assets", ir.BackfillTarget{Kind: ir.TargetGraph}},
		{"unknown kind", ir.BackfillTarget{Kind: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Submit(ctx, f.store, f.graph, f.ids, tt.target, now)
			assert.True(t, errors.Is(err, ErrInvalidTarget), "got %v", err)
		})
	}
}

func TestRequeue_RejectsActive(t *testing.T) {
	f := newFixture(t, nil)
	b := f.submit(t, explicit(ir.PartitionRange{Asset: "plain"}))

	_, err := Requeue(context.Background(), f.store, b.ID, f.clock.Now())
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = Requeue(context.Background(), f.store, "missing", f.clock.Now())
	assert.True(t, errors.Is(err, ErrBackfillNotFound))
}

// cancelingLauncher cancels the backfill from inside the first run request,
// while the executor is mid-iteration.
type cancelingLauncher struct {
	*launcher.Queue
	store    *store.Store
	id       string
	canceled bool
}

func (c *cancelingLauncher) RequestRun(ctx context.Context, req launcher.RunRequest) (string, error) {
	if !c.canceled && c.store != nil {
		c.canceled = true
		if _, err := Cancel(ctx, c.store, c.id, time.Now()); err != nil {
			return "", err
		}
	}
	return c.Queue.RequestRun(ctx, req)
}

func TestIterate_CancelDuringIterationIsKept(t *testing.T) {
	cl := &cancelingLauncher{}
	f := newFixture(t, func(q *launcher.Queue) launcher.Launcher {
		cl.Queue = q
		return cl
	})
	b := f.submit(t, explicit(ir.PartitionRange{Asset: "raw", Start: "2024-01-01", End: "2024-01-02"}))
	cl.store = f.store
	cl.id = b.ID

	b = f.iterate(t, b.ID)
	require.True(t, cl.canceled)
	assert.Equal(t, ir.BackfillCanceling, b.Status)
	// Runs launched before the cancel landed are still tracked.
	assert.Equal(t, map[string]ir.TargetStatus{
		"raw[2024-01-01]": ir.TargetRequested,
		"raw[2024-01-02]": ir.TargetRequested,
	}, statuses(b))
	for _, target := range b.Cursor.Targets {
		assert.NotEmpty(t, target.RunID)
	}

	f.completeAll(t, nil)
	b = f.iterate(t, b.ID)
	assert.Equal(t, ir.BackfillCanceled, b.Status)
}

func TestIterate_ResumesAfterLostSave(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.submit(t, explicit(ir.PartitionRange{Asset: "raw", Start: "2024-01-01", End: "2024-01-03"}))

	before, err := Get(ctx, f.store, b.ID)
	require.NoError(t, err)
	first := f.iterate(t, b.ID)
	runs, err := f.store.ListRuns(ctx, store.RunFilter{BackfillID: b.ID})
	require.NoError(t, err)
	require.Len(t, runs, 3)

	// The process died after launching runs but before the cursor was saved.
	require.NoError(t, f.store.SaveBackfill(ctx, before))

	resumed := f.iterate(t, b.ID)
	again, err := f.store.ListRuns(ctx, store.RunFilter{BackfillID: b.ID})
	require.NoError(t, err)
	assert.Len(t, again, 3)

	ids := func(rs []ir.Run) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r.ID
		}
		return out
	}
	assert.ElementsMatch(t, ids(runs), ids(again))
	require.Len(t, resumed.Cursor.Targets, len(first.Cursor.Targets))
	for i := range first.Cursor.Targets {
		assert.Equal(t, first.Cursor.Targets[i].RunID, resumed.Cursor.Targets[i].RunID)
	}
}

func TestIterate_ReleasesLocks(t *testing.T) {
	f := newFixture(t, nil)
	b := f.submit(t, explicit(ir.PartitionRange{Asset: "plain"}))

	f.iterate(t, b.ID)
	out := f.exec.Iterate(context.Background(), "missing")
	require.Error(t, out.Err)
	f.completeAll(t, nil)
	b = f.iterate(t, b.ID)
	require.Equal(t, ir.BackfillCompleted, b.Status)

	f.exec.mu.Lock()
	defer f.exec.mu.Unlock()
	assert.Empty(t, f.exec.locks)
}

func TestCancel_LosesToCompletion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.submit(t, explicit(ir.PartitionRange{Asset: "plain"}))

	ok, err := f.store.SetBackfillStatus(ctx, b.ID, ir.BackfillRequested, ir.BackfillCompleted, f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = Cancel(ctx, f.store, b.ID, f.clock.Now())
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}
