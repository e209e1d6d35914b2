package telemetry

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
)

// InitTracer configures a global tracer provider with an OTLP gRPC
// exporter. It never fails startup: if the exporter cannot be created the
// tracer degrades to a no-op shutdown function and a warning is logged.
func InitTracer(ctx context.Context, service string) func(context.Context) error {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("otel tracer exporter init failed", "error", err)
		return func(context.Context) error { return nil }
	}
	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	slog.Info("otel tracer initialized", "endpoint", endpoint)
	return tp.Shutdown
}

// WithSpan starts a span named name and returns the derived context and an
// end function, so a caller threads the span's context explicitly instead
// of relying on an implicit ambient trace context.
func WithSpan(ctx context.Context, name string) (context.Context, func()) {
	tr := otel.Tracer("lifecycle-engine")
	ctx, span := tr.Start(ctx, name)
	return ctx, func() { span.End() }
}

// Flush shuts a tracer or meter provider down within a bounded timeout.
func Flush(ctx context.Context, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

// Metrics holds the instruments shared across lifecycle components.
type Metrics struct {
	RetryAttempts     metric.Int64Counter
	VersionConflicts  metric.Int64Counter
	TransitionsTotal  metric.Int64Counter
	NotificationsSent metric.Int64Counter
	DeadlocksFound    metric.Int64Counter
	StoreOpDuration   metric.Float64Histogram
}

// InitMetrics configures a global OTLP metrics exporter and returns a
// shutdown function plus the common instrument set.
func InitMetrics(ctx context.Context, service string) (shutdown func(context.Context) error, m Metrics) {
	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		attribute.String("service", service),
	))
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("otel metrics exporter init failed", "error", err)
		return func(context.Context) error { return nil }, newInstruments()
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	slog.Info("otel metrics initialized", "endpoint", endpoint)
	return mp.Shutdown, newInstruments()
}

func newInstruments() Metrics {
	meter := otel.Meter("lifecycle-engine")
	retry, _ := meter.Int64Counter("lifecycle_resilience_retry_attempts_total")
	conflicts, _ := meter.Int64Counter("lifecycle_taskstore_version_conflicts_total")
	transitions, _ := meter.Int64Counter("lifecycle_taskstore_transitions_total")
	notifications, _ := meter.Int64Counter("lifecycle_messagebus_notifications_sent_total")
	deadlocks, _ := meter.Int64Counter("lifecycle_deadlock_detected_total")
	duration, _ := meter.Float64Histogram("lifecycle_taskstore_operation_duration_ms")
	return Metrics{
		RetryAttempts:     retry,
		VersionConflicts:  conflicts,
		TransitionsTotal:  transitions,
		NotificationsSent: notifications,
		DeadlocksFound:    deadlocks,
		StoreOpDuration:   duration,
	}
}
