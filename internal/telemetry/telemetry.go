// Package telemetry wires optional OpenTelemetry tracing for build
// requests: one span per BuildRequest with a child span per dispatched job,
// exported over OTLP/gRPC when a collector endpoint is configured
// (SPEC_FULL.md §4.8). This is an ambient observability concern, carried
// regardless of spec.md's Non-goals, which scope out cache eviction policy,
// auth, and federation — not tracing.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const tracerName = "splash-build-system-sub000/controller"

// Provider owns the tracer and the connection to the OTLP collector. A nil
// *Provider is valid and produces no-op spans, so callers never need to
// branch on whether tracing is enabled.
type Provider struct {
	tp   *sdktrace.TracerProvider
	conn *grpc.ClientConn
}

// Setup dials endpoint (host:port of an OTLP/gRPC collector) and installs a
// TracerProvider as the global default. Pass an empty endpoint to disable
// tracing entirely; Setup then returns a nil *Provider and a nil error, and
// Tracer() falls back to the global no-op tracer.
func Setup(ctx context.Context, endpoint string) (*Provider, error) {
	if endpoint == "" {
		return nil, nil
	}

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: dial collector %s: %w", endpoint, err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("telemetry: create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName("splashctl"),
	))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, conn: conn}, nil
}

// Shutdown flushes pending spans and closes the collector connection. Safe
// to call on a nil *Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: shutdown tracer provider: %w", err)
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Tracer returns the tracer build requests should use, whether or not
// tracing is enabled.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartBuildSpan opens the root span for one BuildRequest.
func StartBuildSpan(ctx context.Context, target, arch, config string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "splash.build_request", trace.WithAttributes(
		attribute.String("splash.target", target),
		attribute.String("splash.arch", arch),
		attribute.String("splash.config", config),
	))
}

// StartJobSpan opens a child span for one dispatched scheduler job.
func StartJobSpan(ctx context.Context, nodePath, worker string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "splash.build_job", trace.WithAttributes(
		attribute.String("splash.node_path", nodePath),
		attribute.String("splash.worker", worker),
	))
}
