package streamwatch

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestHandleMessageInvokesRegisteredChecker(t *testing.T) {
	w := New("ws://unused", nil)
	var calls atomic.Int32
	w.Register("wallet_1", func(ctx context.Context) { calls.Add(1) })

	w.handleMessage(context.Background(), []byte(`{"type":"bank_balance","address":"wallet_1"}`))
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestHandleMessageIgnoresUnregisteredAddress(t *testing.T) {
	w := New("ws://unused", nil)
	var calls atomic.Int32
	w.Register("wallet_1", func(ctx context.Context) { calls.Add(1) })

	w.handleMessage(context.Background(), []byte(`{"type":"bank_balance","address":"wallet_2"}`))
	if calls.Load() != 0 {
		t.Fatalf("expected 0 calls, got %d", calls.Load())
	}
}

func TestHandleMessageIgnoresMalformedPayload(t *testing.T) {
	w := New("ws://unused", nil)
	var calls atomic.Int32
	w.Register("wallet_1", func(ctx context.Context) { calls.Add(1) })

	w.handleMessage(context.Background(), []byte(`not json`))
	if calls.Load() != 0 {
		t.Fatalf("expected 0 calls for malformed payload, got %d", calls.Load())
	}
}

func TestUnregisterStopsDispatch(t *testing.T) {
	w := New("ws://unused", nil)
	var calls atomic.Int32
	w.Register("wallet_1", func(ctx context.Context) { calls.Add(1) })
	w.Unregister("wallet_1")

	w.handleMessage(context.Background(), []byte(`{"address":"wallet_1"}`))
	if calls.Load() != 0 {
		t.Fatalf("expected 0 calls after unregister, got %d", calls.Load())
	}
}

func TestRunReturnsContextErrorWhenCancelledImmediately(t *testing.T) {
	w := New("ws://127.0.0.1:1/unreachable", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Run(ctx); err == nil {
		t.Fatal("expected error when context is already cancelled")
	}
}
