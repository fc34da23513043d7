package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/liveboard/liveboard/internal/config"
	"github.com/liveboard/liveboard/internal/slogging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Service manages OpenTelemetry providers and configuration
type Service struct {
	config config.TelemetryConfig

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *prometheus.Registry

	resource *resource.Resource
}

// NewService creates the providers enabled in cfg and installs them as the
// global providers.
func NewService(ctx context.Context, cfg config.TelemetryConfig) (*Service, error) {
	s := &Service{config: cfg}

	if err := s.initResource(); err != nil {
		return nil, fmt.Errorf("failed to initialize resource: %w", err)
	}
	if cfg.TracingEnabled {
		if err := s.initTracing(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}
	if cfg.MetricsEnabled {
		if err := s.initMetrics(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return s, nil
}

func (s *Service) initResource() error {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		resource.Default().SchemaURL(),
		attribute.String("service.name", s.config.ServiceName),
		attribute.String("service.version", s.config.ServiceVersion),
		attribute.String("deployment.environment", s.config.Environment),
	))
	if err != nil {
		return fmt.Errorf("failed to merge with default resource: %w", err)
	}
	s.resource = res
	return nil
}

func otlpEndpoint(raw string) string {
	endpoint := strings.TrimPrefix(raw, "http://")
	return strings.TrimPrefix(endpoint, "https://")
}

func (s *Service) initTracing(ctx context.Context) error {
	var processor sdktrace.SpanProcessor
	switch s.config.TraceExporter {
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(otlpEndpoint(s.config.OTLPEndpoint))}
		if s.config.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
		processor = sdktrace.NewBatchSpanProcessor(exporter)
	default:
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create console trace exporter: %w", err)
		}
		// Console output is for development, so export immediately.
		processor = sdktrace.NewSimpleSpanProcessor(exporter)
	}

	var sampler sdktrace.Sampler
	switch rate := s.config.TraceSampleRate; {
	case rate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case rate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(rate)
	}

	s.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(s.resource),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		sdktrace.WithSpanProcessor(processor),
	)
	otel.SetTracerProvider(s.tracerProvider)

	slogging.Get().Info("Tracing initialized exporter=%s sample_rate=%.2f", s.config.TraceExporter, s.config.TraceSampleRate)
	return nil
}

func (s *Service) initMetrics(ctx context.Context) error {
	// A private registry keeps the scrape output to this service's metrics.
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	promExporter, err := otelprom.New(otelprom.WithRegisterer(s.registry))
	if err != nil {
		return fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(s.resource),
		sdkmetric.WithReader(promExporter),
	}

	if s.config.OTLPMetrics {
		mopts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(otlpEndpoint(s.config.OTLPEndpoint))}
		if s.config.OTLPInsecure {
			mopts = append(mopts, otlpmetricgrpc.WithInsecure())
		}
		otlpExporter, err := otlpmetricgrpc.New(ctx, mopts...)
		if err != nil {
			return fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	s.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(s.meterProvider)

	slogging.Get().Info("Metrics initialized prometheus=true otlp=%t", s.config.OTLPMetrics)
	return nil
}

// Meter returns a meter from the service's provider, or the global one when
// metrics are disabled.
func (s *Service) Meter(name string) metric.Meter {
	if s.meterProvider != nil {
		return s.meterProvider.Meter(name, metric.WithInstrumentationVersion(s.config.ServiceVersion))
	}
	return otel.Meter(name)
}

// Tracer returns a tracer from the service's provider, or the global one
// when tracing is disabled.
func (s *Service) Tracer(name string) trace.Tracer {
	if s.tracerProvider != nil {
		return s.tracerProvider.Tracer(name, trace.WithInstrumentationVersion(s.config.ServiceVersion))
	}
	return otel.Tracer(name)
}

// MetricsHandler serves the Prometheus exposition format. It answers 404
// when metrics are disabled.
func (s *Service) MetricsHandler() http.Handler {
	if s.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops all telemetry providers.
func (s *Service) Shutdown(ctx context.Context) error {
	var errs []error
	if s.tracerProvider != nil {
		if err := s.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
	}
	if s.meterProvider != nil {
		if err := s.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
