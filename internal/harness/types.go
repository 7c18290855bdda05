package harness

import (
	"fmt"
	"io"
	"time"

	"github.com/roach88/cadence/internal/ir"
)

// Trace event types.
const (
	EventTick     = "tick"
	EventAdvance  = "advance"
	EventRecord   = "record"
	EventComplete = "complete"
	EventBackfill = "backfill"
)

// TraceEvent is one step's observable effect.
type TraceEvent struct {
	Type string    `json:"type"`
	Seq  int       `json:"seq"`
	At   time.Time `json:"at"`

	// Tick is the 1-based tick number for tick events.
	Tick     int                 `json:"tick,omitempty"`
	Requests []ir.AssetPartition `json:"requests,omitempty"`

	// Backfills holds id=STATUS pairs reported by the tick's backfill pass.
	Backfills []string `json:"backfills,omitempty"`

	ID     string            `json:"id,omitempty"`
	Target ir.AssetPartition `json:"target"`
	Status string            `json:"status,omitempty"`
	Count  int               `json:"count,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step expectation and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}

// Ticks returns the tick events in order.
func (r *Result) Ticks() []TraceEvent {
	var ticks []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == EventTick {
			ticks = append(ticks, ev)
		}
	}
	return ticks
}

// Render writes the trace as one line per event, with requests and
// backfill outcomes indented under their tick.
func (r *Result) Render(w io.Writer) error {
	for _, ev := range r.Trace {
		var err error
		at := ev.At.UTC().Format(time.RFC3339)
		switch ev.Type {
		case EventTick:
			_, err = fmt.Fprintf(w, "%d tick %d at %s: %d requested\n", ev.Seq, ev.Tick, at, len(ev.Requests))
			for _, ap := range ev.Requests {
				if err == nil {
					_, err = fmt.Fprintf(w, "    %s\n", ap)
				}
			}
			for _, b := range ev.Backfills {
				if err == nil {
					_, err = fmt.Fprintf(w, "    backfill %s\n", b)
				}
			}
		case EventAdvance:
			_, err = fmt.Fprintf(w, "%d advance to %s\n", ev.Seq, at)
		case EventRecord:
			_, err = fmt.Fprintf(w, "%d record %s %s\n", ev.Seq, ev.Status, ev.Target)
		case EventComplete:
			_, err = fmt.Fprintf(w, "%d complete %s %s (%d runs)\n", ev.Seq, ev.Target, ev.Status, ev.Count)
		case EventBackfill:
			_, err = fmt.Fprintf(w, "%d backfill %s over %s\n", ev.Seq, ev.ID, ev.Target.Asset)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
