package catalog

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/driftnine/marketkeeper/internal/domain"
	"github.com/driftnine/marketkeeper/internal/errs"
)

func sampleMarket(symbol string) domain.Market {
	return domain.Market{
		Symbol:          symbol,
		Type:            domain.MarketSpot,
		TestnetMarketID: []byte("testnet-" + symbol),
		MainnetMarketID: []byte("mainnet-" + symbol),
		PriceScale:      12,
		BaseDecimals:    18,
		QuoteDecimals:   6,
		MinPriceTick:    decimal.RequireFromString("0.0001"),
		MinQuantityTick: decimal.RequireFromString("0.01"),
		MinNotional:     decimal.RequireFromString("1"),
	}
}

func TestLookupUnknownMarket(t *testing.T) {
	c := New(nil, nil)
	_, err := c.Lookup("INJ/USDT")
	var e *errs.E
	if !errors.As(err, &e) || e.Canonical != errs.CanonicalUnknownMarket {
		t.Fatalf("expected UnknownMarket canonical error, got %v", err)
	}
}

func TestLoadRejectsNonPositiveTick(t *testing.T) {
	m := sampleMarket("INJ/USDT")
	m.MinPriceTick = decimal.Zero
	if _, err := Load([]domain.Market{m}, nil); err == nil {
		t.Fatal("expected validation error for zero tick")
	}
}

func TestLoadRejectsWalletReferencingUnknownMarket(t *testing.T) {
	wallets := []domain.WalletConfig{{WalletID: "w1", Enabled: true, Markets: []string{"XYZ/USDT"}}}
	if _, err := Load([]domain.Market{sampleMarket("INJ/USDT")}, wallets); err == nil {
		t.Fatal("expected unknown market error")
	}
}

func TestEnabledMarketsSkipsDisabledWallet(t *testing.T) {
	wallets := []domain.WalletConfig{{WalletID: "w1", Enabled: false, Markets: []string{"INJ/USDT"}}}
	c, err := Load([]domain.Market{sampleMarket("INJ/USDT")}, wallets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	markets, err := c.EnabledMarkets("w1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if markets != nil {
		t.Fatalf("expected nil markets for disabled wallet, got %v", markets)
	}
}

func TestEnabledMarketsReturnsConfiguredOrder(t *testing.T) {
	wallets := []domain.WalletConfig{{WalletID: "w1", Enabled: true, Markets: []string{"B/USDT", "A/USDT"}}}
	c, err := Load([]domain.Market{sampleMarket("A/USDT"), sampleMarket("B/USDT")}, wallets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	markets, err := c.EnabledMarkets("w1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(markets) != 2 || markets[0].Symbol != "B/USDT" || markets[1].Symbol != "A/USDT" {
		t.Fatalf("unexpected order: %+v", markets)
	}
}
