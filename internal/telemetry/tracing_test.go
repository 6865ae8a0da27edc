package telemetry

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetupTracingWithoutEndpoint(t *testing.T) {
	shutdown := SetupTracing(context.Background(), TracingConfig{ServiceName: "qms"}, logrus.New())
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestTracerProviderSamplesByRatio(t *testing.T) {
	provider, err := newTracerProvider(context.Background(), TracingConfig{
		ServiceName: "qms",
		Endpoint:    "localhost:4317",
		Insecure:    true,
		SampleRatio: 0,
	})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	defer provider.Shutdown(context.Background())

	_, span := provider.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	if span.SpanContext().IsSampled() {
		t.Fatalf("ratio 0 must not sample root spans")
	}
}
