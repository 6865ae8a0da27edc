package telemetry

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type TracingConfig struct {
	ServiceName string
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// SetupTracing exports spans over OTLP/gRPC. Without an endpoint it leaves
// the global no-op provider in place. An exporter that cannot be built only
// disables tracing; the server still starts.
func SetupTracing(ctx context.Context, cfg TracingConfig, log logrus.FieldLogger) ShutdownFunc {
	if cfg.Endpoint == "" {
		return noopShutdown
	}
	provider, err := newTracerProvider(ctx, cfg)
	if err != nil {
		log.WithError(err).WithField("endpoint", cfg.Endpoint).Warn("tracing disabled")
		return noopShutdown
	}
	otel.SetTracerProvider(provider)
	log.WithFields(logrus.Fields{"endpoint": cfg.Endpoint, "sample_ratio": cfg.SampleRatio}).Info("tracing enabled")
	return provider.Shutdown
}

func newTracerProvider(ctx context.Context, cfg TracingConfig) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	), nil
}
