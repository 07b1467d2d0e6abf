package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hitchin999/unifi-connect-display/internal/infrastructure/config"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{}, "connectd", "test")
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestSetup_MissingEndpoint(t *testing.T) {
	_, err := Setup(context.Background(), config.TracingConfig{Enabled: true}, "connectd", "test")
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Setup() error = %v, want ErrInvalidConfig", err)
	}
}

func TestNewProvider_ExportsWithResource(t *testing.T) {
	ctx := context.Background()
	exp := tracetest.NewInMemoryExporter()

	tp, err := newProvider(ctx, exp, 1, "connectd", "1.2.3")
	if err != nil {
		t.Fatalf("newProvider() error = %v", err)
	}

	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(ctx, "poller.Poll")
	span.End()
	// Shutdown resets the in-memory exporter, so flush and read first.
	if err := tp.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "poller.Poll" {
		t.Errorf("span name = %q", spans[0].Name)
	}

	var found bool
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == attribute.Key("service.name") && kv.Value.AsString() == "connectd" {
			found = true
		}
	}
	if !found {
		t.Error("resource missing service.name=connectd")
	}
}

func TestNewProvider_ZeroRatioDropsRootSpans(t *testing.T) {
	ctx := context.Background()
	exp := tracetest.NewInMemoryExporter()

	tp, err := newProvider(ctx, exp, 0, "connectd", "test")
	if err != nil {
		t.Fatalf("newProvider() error = %v", err)
	}
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(ctx, "dispatch")
	if span.SpanContext().IsSampled() {
		t.Error("root span sampled with ratio 0")
	}
	span.End()
	if err := tp.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}

	if n := len(exp.GetSpans()); n != 0 {
		t.Errorf("exported spans = %d, want 0", n)
	}
}
