package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds the telemetry instruments and providers. All methods are
// nil-receiver safe so components can carry an optional *Telemetry.
type Telemetry struct {
	meterProvider *sdkmetric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter

	// RED metrics for the REST surface
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Business metrics
	transfersTotal  metric.Int64Counter
	transfersActive metric.Int64UpDownCounter
	transferBytes   metric.Int64Counter
	schedulerFires  metric.Int64Counter

	// Persistence metrics
	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram

	startedAt time.Time
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint, when set, adds a periodic OTLP/gRPC metric push next to
	// the Prometheus pull endpoint.
	OTLPEndpoint string
}

// New creates a new telemetry instance. Disabled telemetry returns a nil
// instance, which every method tolerates.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res := resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
		startedAt:     time.Now(),
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	if t.httpRequestsTotal, err = t.meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests")); err != nil {
		return err
	}

	if t.httpRequestDuration, err = t.meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds")); err != nil {
		return err
	}

	if t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter("http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being served")); err != nil {
		return err
	}

	if t.transfersTotal, err = t.meter.Int64Counter("transfers_total",
		metric.WithDescription("Total number of transfers by terminal status")); err != nil {
		return err
	}

	if t.transfersActive, err = t.meter.Int64UpDownCounter("transfers_active",
		metric.WithDescription("Number of transfers currently streaming")); err != nil {
		return err
	}

	if t.transferBytes, err = t.meter.Int64Counter("transfer_bytes_total",
		metric.WithDescription("Total bytes streamed across all transfers")); err != nil {
		return err
	}

	if t.schedulerFires, err = t.meter.Int64Counter("scheduler_fires_total",
		metric.WithDescription("Scheduled entries fired, by outcome")); err != nil {
		return err
	}

	if t.dbOperationsTotal, err = t.meter.Int64Counter("db_operations_total",
		metric.WithDescription("Total number of database operations")); err != nil {
		return err
	}

	if t.dbOperationDuration, err = t.meter.Float64Histogram("db_operation_duration_seconds",
		metric.WithDescription("Database operation duration in seconds")); err != nil {
		return err
	}

	if _, err = t.meter.Float64ObservableGauge("system_uptime_seconds",
		metric.WithDescription("Seconds since the service started"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			o.Observe(time.Since(t.startedAt).Seconds())

			return nil
		})); err != nil {
		return err
	}

	return nil
}

// Handler serves the Prometheus scrape endpoint.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.Handler()
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil {
		return nil
	}

	return t.tracer
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}

	return t.meterProvider.Shutdown(ctx)
}

// RecordHTTPRequest records HTTP RED metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, statusClass string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", statusClass),
	)

	t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t == nil {
		return
	}

	t.httpRequestsInFlight.Add(context.Background(), 1)
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t == nil {
		return
	}

	t.httpRequestsInFlight.Add(context.Background(), -1)
}

// RecordTransfer counts a transfer reaching a terminal or parked status.
// Status values are bounded ("completed", "error", "cancelled", "paused")
// to keep metric cardinality in check.
func (t *Telemetry) RecordTransfer(status string) {
	if t == nil {
		return
	}

	t.transfersTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// IncrementActiveTransfers increments the active transfer gauge.
func (t *Telemetry) IncrementActiveTransfers() {
	if t == nil {
		return
	}

	t.transfersActive.Add(context.Background(), 1)
}

// DecrementActiveTransfers decrements the active transfer gauge.
func (t *Telemetry) DecrementActiveTransfers() {
	if t == nil {
		return
	}

	t.transfersActive.Add(context.Background(), -1)
}

// AddTransferBytes counts streamed bytes.
func (t *Telemetry) AddTransferBytes(n int64) {
	if t == nil {
		return
	}

	t.transferBytes.Add(context.Background(), n)
}

// RecordSchedulerFire counts a scheduler outcome ("started", "expired").
func (t *Telemetry) RecordSchedulerFire(outcome string) {
	if t == nil {
		return
	}

	t.schedulerFires.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// InstrumentDBOperation instruments a database operation with a span and
// duration metrics.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, "db_"+operation)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", "database"),
		attribute.String("operation", operation),
	)

	err := fn(ctx)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"

		span.SetStatus(codes.Error, err.Error())
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	t.dbOperationsTotal.Add(ctx, 1, attrs)
	t.dbOperationDuration.Record(ctx, duration.Seconds(), attrs)

	return err
}
