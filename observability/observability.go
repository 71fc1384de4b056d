// Package observability provides the OpenTelemetry provider for a host:
// RED metrics over extension calls, a loaded-extensions gauge, lifecycle
// event counters, and spans around manager operations.
//
// Telemetry is off by default. A Provider built without WithExporter
// records nothing and costs nothing; every recording method is safe on a
// nil Provider, so callers never branch on whether telemetry is on.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/gantry-dev/gantry/domain/entities"
)

// scopeName identifies this instrumentation scope.
const scopeName = "github.com/gantry-dev/gantry/observability"

type providerConfig struct {
	serviceName    string
	serviceVersion string
	environment    string
	endpoint       string
	insecure       bool
	enabled        bool
	exportInterval time.Duration
	batchTimeout   time.Duration
	logger         *slog.Logger
}

func defaultProviderConfig() providerConfig {
	return providerConfig{
		serviceName:    "gantry",
		exportInterval: 15 * time.Second,
		batchTimeout:   5 * time.Second,
	}
}

// ProviderOption configures a Provider.
type ProviderOption func(*providerConfig)

// WithExporter enables telemetry export over OTLP/gRPC to the given
// endpoint, for example "localhost:4317". Without this option the Provider
// records nothing.
func WithExporter(endpoint string) ProviderOption {
	return func(c *providerConfig) {
		c.endpoint = endpoint
		c.enabled = endpoint != ""
	}
}

// WithInsecure disables transport security on the exporter connection.
func WithInsecure() ProviderOption {
	return func(c *providerConfig) {
		c.insecure = true
	}
}

// WithServiceName sets the service.name resource attribute.
func WithServiceName(name string) ProviderOption {
	return func(c *providerConfig) {
		if name != "" {
			c.serviceName = name
		}
	}
}

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(version string) ProviderOption {
	return func(c *providerConfig) {
		c.serviceVersion = version
	}
}

// WithEnvironment sets the deployment.environment resource attribute.
func WithEnvironment(env string) ProviderOption {
	return func(c *providerConfig) {
		c.environment = env
	}
}

// WithExportInterval sets how often metrics are pushed to the collector.
func WithExportInterval(interval time.Duration) ProviderOption {
	return func(c *providerConfig) {
		if interval > 0 {
			c.exportInterval = interval
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(c *providerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Provider owns the trace and metric pipelines plus the instruments the
// manager records into. The zero value and nil are both inert.
type Provider struct {
	logger         *slog.Logger
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer

	calls    metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
	loaded   metric.Int64UpDownCounter
	events   metric.Int64Counter
}

// New creates a Provider. Without WithExporter it is a cheap no-op; with
// one, OTLP trace and metric pipelines are set up against the endpoint.
func New(ctx context.Context, opts ...ProviderOption) (*Provider, error) {
	cfg := defaultProviderConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	p := &Provider{
		logger: cfg.logger.With("component", "observability"),
		tracer: noop.NewTracerProvider().Tracer(scopeName),
	}
	if !cfg.enabled {
		return p, nil
	}

	res, err := buildResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	if err := p.initTraces(ctx, cfg, res); err != nil {
		return nil, err
	}
	if err := p.initMetrics(ctx, cfg, res); err != nil {
		return nil, err
	}
	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry enabled",
		"service", cfg.serviceName,
		"endpoint", cfg.endpoint,
		"insecure", cfg.insecure,
	)
	return p, nil
}

func buildResource(cfg providerConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.serviceName)}
	if cfg.serviceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.serviceVersion))
	}
	if cfg.environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.environment))
	}
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, attrs...),
	)
}

func (p *Provider) initTraces(ctx context.Context, cfg providerConfig, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.endpoint)}
	if cfg.insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(cfg.batchTimeout)),
	)
	p.tracer = p.tracerProvider.Tracer(scopeName)
	return nil
}

func (p *Provider) initMetrics(ctx context.Context, cfg providerConfig, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.endpoint)}
	if cfg.insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(cfg.exportInterval),
		)),
	)
	return nil
}

func (p *Provider) initInstruments() error {
	meter := p.meterProvider.Meter(scopeName)
	var err error

	p.calls, err = meter.Int64Counter("extension.calls",
		metric.WithDescription("Extension method calls dispatched"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}
	p.errors, err = meter.Int64Counter("extension.errors",
		metric.WithDescription("Extension method calls that returned an error"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}
	p.duration, err = meter.Float64Histogram("extension.call.duration",
		metric.WithDescription("Extension call latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return err
	}
	p.loaded, err = meter.Int64UpDownCounter("extensions.loaded",
		metric.WithDescription("Extensions currently registered with the manager"),
		metric.WithUnit("{extension}"),
	)
	if err != nil {
		return err
	}
	p.events, err = meter.Int64Counter("extension.events",
		metric.WithDescription("Lifecycle events published by the manager"),
		metric.WithUnit("{event}"),
	)
	return err
}

// StartSpan opens a span around one manager operation. On a nil or
// disabled Provider the returned span is a no-op.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(scopeName).Start(ctx, name)
	}
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordCall records one extension call: rate, latency, and error count.
func (p *Provider) RecordCall(ctx context.Context, extension, method string, elapsed time.Duration, callErr error) {
	if p == nil || p.calls == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("extension.name", extension),
		attribute.String("extension.method", method),
	)
	p.calls.Add(ctx, 1, attrs)
	p.duration.Record(ctx, elapsed.Seconds(), attrs)
	if callErr != nil {
		p.errors.Add(ctx, 1, attrs)
	}
}

// ExtensionLoaded moves the loaded gauge up by one.
func (p *Provider) ExtensionLoaded(ctx context.Context, name string) {
	if p == nil || p.loaded == nil {
		return
	}
	p.loaded.Add(ctx, 1, metric.WithAttributes(attribute.String("extension.name", name)))
}

// ExtensionUnloaded moves the loaded gauge down by one. Unloads and
// permanent failures both count.
func (p *Provider) ExtensionUnloaded(ctx context.Context, name string) {
	if p == nil || p.loaded == nil {
		return
	}
	p.loaded.Add(ctx, -1, metric.WithAttributes(attribute.String("extension.name", name)))
}

// RecordEvent counts one lifecycle event by kind.
func (p *Provider) RecordEvent(ctx context.Context, event entities.Event) {
	if p == nil || p.events == nil {
		return
	}
	p.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.kind", string(event.Kind)),
		attribute.String("extension.name", event.Extension),
	))
}

// Tracer exposes the provider's tracer for embedders that add their own
// spans. Never nil.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(scopeName)
	}
	return p.tracer
}

// Shutdown flushes and stops both pipelines.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown traces: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}
