package main

import (
	"context"
	"fmt"

	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// initTracing installs the X-Ray propagator and returns a provider that
// exports over OTLP/gRPC with X-Ray compatible trace ids. The Lambda
// resource detector used on Lambda fails outside it, so the server names
// itself instead. The endpoint comes from the OTEL_EXPORTER_OTLP_* variables.
func initTracing(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	tracing.InitPropagator()

	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithIDGenerator(xray.NewIDGenerator()),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	), nil
}
