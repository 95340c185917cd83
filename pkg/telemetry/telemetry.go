// Package telemetry bootstraps OpenTelemetry tracing and metrics and
// exposes the reference Metrics sink collaborator contract of spec.md
// §6: `publish(domain, name, value, labels)`. Grounded on the teacher's
// observability.Provider (OTLP gRPC exporters, resource attributes,
// graceful Shutdown), generalized from HELM's fixed RED-metric trio
// into the arbitrary-named gauge surface the Metrics sink
// contract requires.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OTLP exporters. An empty OTLPEndpoint disables
// telemetry entirely and Provider falls back to a no-op sink so callers
// never need a nil check.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317"; empty disables export
	Insecure       bool
	BatchTimeout   time.Duration
}

// DefaultConfig returns disabled-by-default settings; a deployment
// opts in by setting OTLPEndpoint.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "grace",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		BatchTimeout:   5 * time.Second,
	}
}

// Provider owns the tracer/meter providers and the dynamic-instrument
// registry backing Publish.
type Provider struct {
	cfg            Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	mu         sync.Mutex
	gauges     map[string]metric.Float64Gauge
}

// New initializes the OTLP trace and metric providers and registers
// them globally. When cfg.OTLPEndpoint is empty, it returns a disabled
// Provider whose Publish/Tracer calls are cheap no-ops.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "grace"
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "telemetry")
	p := &Provider{cfg: cfg, logger: logger, gauges: make(map[string]metric.Float64Gauge)}

	if cfg.OTLPEndpoint == "" {
		logger.InfoContext(ctx, "telemetry disabled: no OTLP endpoint configured")
		p.tracer = otel.Tracer("grace")
		p.meter = otel.Meter("grace")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("telemetry: init trace provider: %w", err)
	}
	if err := p.initMeterProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("telemetry: init meter provider: %w", err)
	}

	p.tracer = otel.Tracer("grace", trace.WithInstrumentationVersion(cfg.ServiceVersion))
	p.meter = otel.Meter("grace", metric.WithInstrumentationVersion(cfg.ServiceVersion))

	logger.InfoContext(ctx, "telemetry initialized", "endpoint", cfg.OTLPEndpoint, "service", cfg.ServiceName)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.cfg.BatchTimeout)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMeterProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

// Tracer returns the provider's tracer, usable even when telemetry is
// disabled (spans simply go nowhere).
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Publish implements the Metrics sink collaborator contract:
// publish(domain, name, value, labels). domain and name are joined
// into a single gauge name ("grace.<domain>.<name>"); gauges are
// created lazily and cached by that joined name.
func (p *Provider) Publish(ctx context.Context, domain, name string, value float64, labels map[string]string) error {
	if p.meter == nil {
		return nil
	}
	instrumentName := fmt.Sprintf("grace.%s.%s", domain, name)

	p.mu.Lock()
	gauge, ok := p.gauges[instrumentName]
	if !ok {
		var err error
		gauge, err = p.meter.Float64Gauge(instrumentName,
			metric.WithDescription(fmt.Sprintf("Grace metric %s/%s", domain, name)),
		)
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("telemetry: create instrument %s: %w", instrumentName, err)
		}
		p.gauges[instrumentName] = gauge
	}
	p.mu.Unlock()

	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	gauge.Record(ctx, value, metric.WithAttributes(attrs...))
	return nil
}

// Shutdown flushes and releases the underlying providers; a disabled
// Provider's Shutdown is a no-op.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("telemetry: shutdown: %v", errs)
	}
	return nil
}
