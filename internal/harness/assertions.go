package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/cadence/internal/ir"
	"github.com/roach88/cadence/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Tick events for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nTicks:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %v\n", ev.Tick, ev.Requests)
		}
	}
	return buf.String()
}

func assertionTarget(a Assertion) ir.AssetPartition {
	return ir.AP(ir.AssetKey(a.Asset), ir.PartitionKey(a.Partition))
}

// assertRequested checks that the target was requested, in the given tick
// if one is set.
func assertRequested(ticks []TraceEvent, a Assertion) error {
	ap := assertionTarget(a)
	for _, ev := range ticks {
		if a.Tick != 0 && ev.Tick != a.Tick {
			continue
		}
		for _, req := range ev.Requests {
			if req == ap {
				return nil
			}
		}
	}

	where := "any tick"
	if a.Tick != 0 {
		where = fmt.Sprintf("tick %d", a.Tick)
	}
	return &AssertionError{
		Type:     AssertRequested,
		Expected: fmt.Sprintf("%s requested in %s", ap, where),
		Actual:   "not requested",
		Trace:    ticks,
	}
}

// assertNotRequested checks that the target was never requested.
func assertNotRequested(ticks []TraceEvent, a Assertion) error {
	ap := assertionTarget(a)
	for _, ev := range ticks {
		for _, req := range ev.Requests {
			if req == ap {
				return &AssertionError{
					Type:     AssertNotRequested,
					Expected: fmt.Sprintf("%s never requested", ap),
					Actual:   fmt.Sprintf("requested in tick %d", ev.Tick),
					Trace:    ticks,
				}
			}
		}
	}
	return nil
}

// assertRequestCount checks how many times any partition of the asset was
// requested across all ticks.
func assertRequestCount(ticks []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range ticks {
		for _, req := range ev.Requests {
			if req.Asset == ir.AssetKey(a.Asset) {
				count++
			}
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertRequestCount,
			Expected: fmt.Sprintf("%d requests of %s", a.Count, a.Asset),
			Actual:   fmt.Sprintf("%d requests", count),
			Trace:    ticks,
		}
	}
	return nil
}

// assertRunCount checks the number of runs stored for the asset.
func assertRunCount(ctx context.Context, st *store.Store, a Assertion) error {
	filter := store.RunFilter{Asset: ir.AssetKey(a.Asset)}
	desc := a.Asset
	if a.Status != "" {
		status, err := ir.ParseRunStatus(a.Status)
		if err != nil {
			return err
		}
		filter.Statuses = []ir.RunStatus{status}
		desc = fmt.Sprintf("%s %s", status, a.Asset)
	}

	runs, err := st.ListRuns(ctx, filter)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) != a.Count {
		return &AssertionError{
			Type:     AssertRunCount,
			Expected: fmt.Sprintf("%d runs of %s", a.Count, desc),
			Actual:   fmt.Sprintf("%d runs", len(runs)),
		}
	}
	return nil
}

// assertBackfillStatus checks a stored backfill's status.
func assertBackfillStatus(ctx context.Context, st *store.Store, a Assertion) error {
	want, err := ir.ParseBackfillStatus(a.Status)
	if err != nil {
		return err
	}
	b, err := st.ReadBackfill(ctx, a.ID)
	if err != nil {
		return &AssertionError{
			Type:     AssertBackfillStatus,
			Expected: fmt.Sprintf("backfill %s is %s", a.ID, want),
			Actual:   err.Error(),
		}
	}
	if b.Status != want {
		return &AssertionError{
			Type:     AssertBackfillStatus,
			Expected: fmt.Sprintf("backfill %s is %s", a.ID, want),
			Actual:   string(b.Status),
		}
	}
	return nil
}

// AssertionContext provides store access for assertions on final state.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for run_count and
// backfill_status assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string
	ticks := result.Ticks()

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertRequested:
			err = assertRequested(ticks, assertion)
		case AssertNotRequested:
			err = assertNotRequested(ticks, assertion)
		case AssertRequestCount:
			err = assertRequestCount(ticks, assertion)
		case AssertRunCount, AssertBackfillStatus:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
			} else if assertion.Type == AssertRunCount {
				err = assertRunCount(actx.Ctx, actx.Store, assertion)
			} else {
				err = assertBackfillStatus(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
