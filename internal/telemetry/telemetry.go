// Package telemetry installs the OpenTelemetry trace pipeline.
//
// Components create spans through otel.Tracer at all times. Until Setup
// installs a provider those spans are no-ops.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"google.golang.org/grpc"

	"github.com/roach88/cadence/internal/config"
	"github.com/roach88/cadence/internal/ir"
)

// Shutdown flushes and stops the trace pipeline.
type Shutdown func(context.Context) error

// Setup exports spans over OTLP/gRPC to cfg.Endpoint when tracing is
// enabled. Otherwise it installs nothing and returns a no-op Shutdown.
func Setup(ctx context.Context, cfg config.TracingConfig) (Shutdown, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	service := cfg.Service
	if service == "" {
		service = "cadence"
	}
	tp := NewProvider(sdktrace.WithBatcher(exp), service)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// NewProvider builds a tracer provider tagged with the service name and
// engine version. Tests pass a synchronous span processor.
func NewProvider(spans sdktrace.TracerProviderOption, service string) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		spans,
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
			semconv.ServiceVersion(ir.Version),
		)),
	)
}
