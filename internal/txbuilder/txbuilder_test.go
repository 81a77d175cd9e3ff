package txbuilder

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/driftnine/marketkeeper/internal/chain"
	"github.com/driftnine/marketkeeper/internal/domain"
	"github.com/driftnine/marketkeeper/internal/errs"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testMarket() domain.Market {
	return domain.Market{
		Symbol:          "INJ/USDT",
		Type:            domain.MarketSpot,
		PriceScale:      6,
		BaseDecimals:    6,
		QuoteDecimals:   6,
		MinPriceTick:    dec("0.0001"),
		MinQuantityTick: dec("0.01"),
		MinNotional:     dec("1"),
	}
}

type fakeSigner struct {
	lastCreates []chain.ChainCreate
	lastCancels []chain.ChainCancel
	err         error
}

func (f *fakeSigner) BuildSignedBatch(ctx context.Context, wallet domain.WalletConfig, sequence uint64, creates []chain.ChainCreate, cancels []chain.ChainCancel, marketType domain.MarketType) ([]byte, error) {
	f.lastCreates = creates
	f.lastCancels = cancels
	if f.err != nil {
		return nil, f.err
	}
	return []byte("signed"), nil
}

func TestBuildDropsSubMinNotionalCreate(t *testing.T) {
	signer := &fakeSigner{}
	b := New(signer)
	plan := domain.ActionPlan{Creates: []domain.CreateIntent{
		{Side: domain.SideBuy, PriceHuman: dec("0.01"), QuantityHuman: dec("0.01")}, // notional 0.0001 < 1
	}}
	_, err := b.Build(context.Background(), plan, testMarket(), domain.WalletConfig{}, 1, nil)
	var e *errs.E
	if !errors.As(err, &e) || e.Canonical != errs.CanonicalNothingToDo {
		t.Fatalf("expected NothingToDo after dropping sub-notional create, got %v", err)
	}
}

func TestBuildFiltersStaleCancelsAdvisorily(t *testing.T) {
	signer := &fakeSigner{}
	b := New(signer)
	plan := domain.ActionPlan{
		Creates: []domain.CreateIntent{{Side: domain.SideBuy, PriceHuman: dec("10"), QuantityHuman: dec("5")}},
		Cancels: []domain.CancelRef{{OrderHash: "stale"}},
	}
	result, err := b.Build(context.Background(), plan, testMarket(), domain.WalletConfig{}, 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DroppedCancels != 1 {
		t.Fatalf("expected 1 dropped cancel, got %d", result.DroppedCancels)
	}
	if len(signer.lastCancels) != 0 {
		t.Fatalf("expected no cancels passed to signer")
	}
}

func TestBuildRoundsPricesInward(t *testing.T) {
	signer := &fakeSigner{}
	b := New(signer)
	plan := domain.ActionPlan{Creates: []domain.CreateIntent{
		{Side: domain.SideBuy, PriceHuman: dec("10.00015"), QuantityHuman: dec("5")},
		{Side: domain.SideSell, PriceHuman: dec("10.00015"), QuantityHuman: dec("5")},
	}}
	_, err := b.Build(context.Background(), plan, testMarket(), domain.WalletConfig{}, 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signer.lastCreates) != 2 {
		t.Fatalf("expected 2 creates, got %d", len(signer.lastCreates))
	}
	if signer.lastCreates[0].Price.Cmp(signer.lastCreates[1].Price) >= 0 {
		t.Fatalf("expected BUY price rounded below SELL price: %v vs %v", signer.lastCreates[0].Price, signer.lastCreates[1].Price)
	}
}

func TestWouldBroadcastFalseWhenEverythingFilters(t *testing.T) {
	plan := domain.ActionPlan{
		Creates: []domain.CreateIntent{{Side: domain.SideBuy, PriceHuman: dec("0.01"), QuantityHuman: dec("0.01")}},
		Cancels: []domain.CancelRef{{OrderHash: "stale"}},
	}
	if WouldBroadcast(plan, testMarket(), nil) {
		t.Fatal("expected WouldBroadcast to be false once creates and cancels both filter out")
	}
}

func TestWouldBroadcastTrueWithSurvivingCreate(t *testing.T) {
	plan := domain.ActionPlan{Creates: []domain.CreateIntent{{Side: domain.SideBuy, PriceHuman: dec("10"), QuantityHuman: dec("5")}}}
	if !WouldBroadcast(plan, testMarket(), nil) {
		t.Fatal("expected WouldBroadcast to be true with a surviving create")
	}
}

func TestBuildKeepsValidCancelWithNoCreates(t *testing.T) {
	signer := &fakeSigner{}
	b := New(signer)
	openOrders := []domain.OpenOrder{{OrderHash: "live"}}
	plan := domain.ActionPlan{Cancels: []domain.CancelRef{{OrderHash: "live"}}}
	result, err := b.Build(context.Background(), plan, testMarket(), domain.WalletConfig{}, 1, openOrders)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signer.lastCancels) != 1 || result.DroppedCancels != 0 {
		t.Fatalf("expected the live cancel to survive, got %+v", result)
	}
}
