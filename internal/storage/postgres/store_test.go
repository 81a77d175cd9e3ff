package postgres

import (
	"context"
	"testing"

	"github.com/driftnine/marketkeeper/internal/domain"
)

func TestNewAllowsNilPool(t *testing.T) {
	store := New(nil)
	if store == nil {
		t.Fatal("expected non-nil store")
	}
}

func TestRecordBroadcastNoopOnNilStore(t *testing.T) {
	var store *Store
	plan := domain.ActionPlan{Phase: domain.PhaseMaintain}
	if err := store.RecordBroadcast(context.Background(), "wallet_a", "INJ/USDT", plan, 7, "0xabc"); err != nil {
		t.Fatalf("expected no error on nil store, got %v", err)
	}
}

func TestSaveCheckpointNoopOnNilStore(t *testing.T) {
	var store *Store
	if err := store.SaveCheckpoint(context.Background(), "wallet_a", 42); err != nil {
		t.Fatalf("expected no error on nil store, got %v", err)
	}
}

func TestLoadCheckpointNoopOnNilStore(t *testing.T) {
	var store *Store
	value, ok, err := store.LoadCheckpoint(context.Background(), "wallet_a")
	if err != nil {
		t.Fatalf("expected no error on nil store, got %v", err)
	}
	if ok {
		t.Fatal("expected ok=false on nil store")
	}
	if value != 0 {
		t.Fatalf("expected value=0 on nil store, got %d", value)
	}
}
