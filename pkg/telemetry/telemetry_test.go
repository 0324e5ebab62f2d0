package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracerProviderDisabled(t *testing.T) {
	shutdown, err := InitTracerProvider(context.Background(), Options{Service: "cartd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracerProviderStdout(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := InitTracerProvider(ctx, Options{Service: "cartd", Version: "test", Stdout: true, Writer: &buf})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	_, span := otel.Tracer("test").Start(ctx, "cart.add")
	span.End()

	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "cart.add") {
		t.Fatalf("span not exported: %q", buf.String())
	}
}

func TestInitMeterProviderDisabled(t *testing.T) {
	shutdown, err := InitMeterProvider(context.Background(), Options{Service: "cartd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitMeterProviderStdout(t *testing.T) {
	prev := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := InitMeterProvider(ctx, Options{Service: "cartd", Version: "test", Stdout: true, Writer: &buf})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	counter, err := otel.Meter("cartstore").Int64Counter("cart_persist_failure_total")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(ctx, 1)

	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "cart_persist_failure_total") {
		t.Fatalf("metric not exported: %q", buf.String())
	}
}
