package throttle

import (
	"context"
	"testing"
	"time"
)

func TestWaitBlocksUntilTokenAvailable(t *testing.T) {
	th := New(100, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := th.Wait(ctx); err != nil {
		t.Fatalf("unexpected error on first wait: %v", err)
	}
	if err := th.Wait(ctx); err != nil {
		t.Fatalf("unexpected error on second wait: %v", err)
	}
}

func TestAllowFalseWhenExhausted(t *testing.T) {
	th := New(1, 1)
	if !th.Allow() {
		t.Fatal("expected first Allow to succeed")
	}
	if th.Allow() {
		t.Fatal("expected second immediate Allow to fail")
	}
}
