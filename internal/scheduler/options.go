package scheduler

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/cadence/internal/ir"
)

// DefaultWorkers bounds concurrent asset evaluations within one level.
const DefaultWorkers = 4

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithScope sets the cursor and request-key namespace. The empty scope is
// the live schedule; backfills use ir.BackfillScope(id).
func WithScope(scope string) Option {
	return func(e *Evaluator) {
		e.scope = scope
	}
}

// WithAssets restricts evaluation to keys. Assets outside the set are
// still read as inputs but never evaluated or requested.
func WithAssets(keys ...ir.AssetKey) Option {
	return func(e *Evaluator) {
		e.only = make(map[ir.AssetKey]bool, len(keys))
		for _, k := range keys {
			e.only[k] = true
		}
	}
}

// WithWorkers bounds concurrent evaluations within one level.
// Values below 1 are treated as 1.
func WithWorkers(n int) Option {
	return func(e *Evaluator) {
		if n < 1 {
			n = 1
		}
		e.workers = n
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithTracer sets the tracer. Default: the global provider's tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Evaluator) {
		e.tracer = tracer
	}
}

func defaultTracer() trace.Tracer {
	return otel.Tracer("github.com/roach88/cadence/internal/scheduler")
}
