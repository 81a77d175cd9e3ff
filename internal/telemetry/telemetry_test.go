package telemetry

import (
	"context"
	"testing"
)

func TestNewProviderDisabledReturnsNoopMeter(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.meterProvider != nil {
		t.Fatal("expected nil meter provider when disabled")
	}
	if m := p.Meter("test"); m == nil {
		t.Fatal("expected non-nil fallback meter")
	}
}

func TestShutdownNoopWhenDisabled(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil shutdown error, got %v", err)
	}
}

func TestWorkerMetricsRecordDoesNotPanic(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := NewWorkerMetrics(p)
	ctx := context.Background()
	m.RecordCycle(ctx, "wallet-1", "BTC-USD", 12.5)
	m.RecordBroadcast(ctx, "wallet-1", "BTC-USD", true, 80)
	m.RecordBroadcast(ctx, "wallet-1", "BTC-USD", false, 95)
	m.RecordCircuitTrip(ctx, "wallet-1")
}

func TestStripScheme(t *testing.T) {
	cases := map[string]string{
		"http://localhost:4318":  "localhost:4318",
		"https://otel.example:4318": "otel.example:4318",
		"localhost:4318":         "localhost:4318",
	}
	for in, want := range cases {
		if got := stripScheme(in); got != want {
			t.Fatalf("stripScheme(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEnvironmentDefaultsToDevelopment(t *testing.T) {
	globalEnvironment = ""
	if got := Environment(); got != "development" {
		t.Fatalf("expected development default, got %q", got)
	}
}
