// Package telemetry provides OpenTelemetry initialization and instrumentation.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	instrumentationsdk "go.opentelemetry.io/otel/sdk/instrumentation"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
)

const (
	serviceName    = "marketkeeper"
	serviceVersion = "1.0.0"
)

var globalEnvironment string

// Config defines OpenTelemetry configuration parameters.
type Config struct {
	Enabled          bool
	OTLPEndpoint     string
	OTLPInsecure     bool
	EnableMetrics    bool
	MetricInterval   time.Duration
	ShutdownTimeout  time.Duration
	ServiceName      string
	ServiceVersion   string
	ServiceNamespace string
	Environment      string
}

// DefaultConfig returns the default telemetry configuration based on environment variables.
func DefaultConfig() Config {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4318"
	}
	svcName := os.Getenv("OTEL_SERVICE_NAME")
	if svcName == "" {
		svcName = serviceName
	}
	env := strings.TrimSpace(os.Getenv("OTEL_RESOURCE_ENVIRONMENT"))
	if env == "" {
		env = strings.TrimSpace(os.Getenv("MARKETKEEPER_ENV"))
	}
	if env == "" {
		env = "development"
	}
	return Config{
		Enabled:          os.Getenv("OTEL_ENABLED") != "false",
		OTLPEndpoint:     endpoint,
		OTLPInsecure:     os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		EnableMetrics:    os.Getenv("OTEL_METRICS_ENABLED") != "false",
		MetricInterval:   15 * time.Second,
		ShutdownTimeout:  5 * time.Second,
		ServiceName:      svcName,
		ServiceVersion:   serviceVersion,
		ServiceNamespace: os.Getenv("OTEL_SERVICE_NAMESPACE"),
		Environment:      env,
	}
}

// Provider manages the OpenTelemetry meter provider (metrics only —
// this repo does not wire a trace exporter).
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	config        Config
}

// NewProvider initializes a telemetry provider from cfg.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	globalEnvironment = strings.ToLower(cfg.Environment)

	if !cfg.Enabled {
		return &Provider{config: cfg}, nil
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	var mp *sdkmetric.MeterProvider
	if cfg.EnableMetrics {
		mp, err = newMeterProvider(ctx, res, cfg)
		if err != nil {
			return nil, fmt.Errorf("create meter provider: %w", err)
		}
		otel.SetMeterProvider(mp)
	}
	return &Provider{meterProvider: mp, config: cfg}, nil
}

// Shutdown gracefully shuts down the telemetry provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter: %w", err)
	}
	return nil
}

// Meter returns a meter with the given name, falling back to the
// global provider when metrics are disabled.
func (p *Provider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if p.meterProvider == nil {
		return otel.Meter(name, opts...)
	}
	return p.meterProvider.Meter(name, opts...)
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	}
	if cfg.ServiceNamespace != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceNamespaceKey.String(cfg.ServiceNamespace)))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, resource.WithAttributes(attribute.String("environment", strings.ToLower(cfg.Environment))))
	}
	attrs = append(attrs, resource.WithProcessRuntimeName(), resource.WithProcessRuntimeVersion(), resource.WithHost())
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}
	return res, nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource, cfg Config) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(stripScheme(cfg.OTLPEndpoint))}
	if cfg.OTLPInsecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.MetricInterval))),
		sdkmetric.WithView(append([]sdkmetric.View{cycleDurationView()}, broadcastLatencyView()...)...),
	)
	return mp, nil
}

// cycleDurationView bounds the wallet worker's per-cycle duration
// histogram to the spec's cycle/timeout ranges (15s cycles, 10s call
// timeouts, 10s+ cooldowns).
func cycleDurationView() sdkmetric.View {
	return sdkmetric.NewView(
		sdkmetric.Instrument{
			Name: "marketkeeper_worker_cycle_duration",
			Kind: sdkmetric.InstrumentKindHistogram,
			Unit: "ms",
			Scope: instrumentationsdk.Scope{Attributes: attribute.Set{}},
		},
		sdkmetric.Stream{
			Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
				Boundaries: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 15000, 30000},
			},
		},
	)
}

func broadcastLatencyView() []sdkmetric.View {
	return []sdkmetric.View{
		sdkmetric.NewView(
			sdkmetric.Instrument{
				Name: "marketkeeper_worker_broadcast_latency",
				Kind: sdkmetric.InstrumentKindHistogram,
				Unit: "ms",
				Scope: instrumentationsdk.Scope{Attributes: attribute.Set{}},
			},
			sdkmetric.Stream{
				Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
					Boundaries: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
				},
			},
		),
	}
}

// stripScheme removes http:// or https:// prefix from endpoint URL.
// OTLP HTTP exporters expect just host:port, not a full URL with scheme.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return endpoint
}

// Environment returns the configured environment name for use in metric labels.
func Environment() string {
	if globalEnvironment == "" {
		return "development"
	}
	return globalEnvironment
}

// WorkerMetrics are the named instruments a WalletWorker emits per
// cycle, grounded on internal/infra/adapters/binance/metrics.go's
// per-instrument naming conventions.
type WorkerMetrics struct {
	cyclesRun        metric.Int64Counter
	broadcastsOK     metric.Int64Counter
	broadcastsFailed metric.Int64Counter
	circuitTrips     metric.Int64Counter
	cycleDuration    metric.Float64Histogram
	broadcastLatency metric.Float64Histogram
}

// NewWorkerMetrics registers the worker's instruments against p.
func NewWorkerMetrics(p *Provider) *WorkerMetrics {
	meter := p.Meter("marketkeeper.worker")
	m := &WorkerMetrics{}

	m.cyclesRun, _ = meter.Int64Counter("marketkeeper_worker_cycles_run",
		metric.WithDescription("Total wallet worker cycles completed"), metric.WithUnit("{cycle}"))
	m.broadcastsOK, _ = meter.Int64Counter("marketkeeper_worker_broadcasts_ok",
		metric.WithDescription("Successful batched broadcasts"), metric.WithUnit("{broadcast}"))
	m.broadcastsFailed, _ = meter.Int64Counter("marketkeeper_worker_broadcasts_failed",
		metric.WithDescription("Failed batched broadcasts"), metric.WithUnit("{broadcast}"))
	m.circuitTrips, _ = meter.Int64Counter("marketkeeper_worker_circuit_trips",
		metric.WithDescription("Times the sequence controller's circuit breaker opened"), metric.WithUnit("{trip}"))
	m.cycleDuration, _ = meter.Float64Histogram("marketkeeper_worker_cycle_duration",
		metric.WithDescription("Wall-clock duration of one wallet worker cycle"), metric.WithUnit("ms"))
	m.broadcastLatency, _ = meter.Float64Histogram("marketkeeper_worker_broadcast_latency",
		metric.WithDescription("Latency of one batched broadcast call"), metric.WithUnit("ms"))

	return m
}

// RecordCycle records one completed cycle's duration.
func (m *WorkerMetrics) RecordCycle(ctx context.Context, wallet, market string, durationMS float64) {
	attrs := metric.WithAttributes(attribute.String("wallet", wallet), attribute.String("market", market))
	m.cyclesRun.Add(ctx, 1, attrs)
	m.cycleDuration.Record(ctx, durationMS, attrs)
}

// RecordBroadcast records the outcome and latency of one broadcast attempt.
func (m *WorkerMetrics) RecordBroadcast(ctx context.Context, wallet, market string, ok bool, latencyMS float64) {
	attrs := metric.WithAttributes(attribute.String("wallet", wallet), attribute.String("market", market))
	m.broadcastLatency.Record(ctx, latencyMS, attrs)
	if ok {
		m.broadcastsOK.Add(ctx, 1, attrs)
		return
	}
	m.broadcastsFailed.Add(ctx, 1, attrs)
}

// RecordCircuitTrip records one circuit-breaker activation.
func (m *WorkerMetrics) RecordCircuitTrip(ctx context.Context, wallet string) {
	m.circuitTrips.Add(ctx, 1, metric.WithAttributes(attribute.String("wallet", wallet)))
}
