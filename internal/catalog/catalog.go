// Package catalog implements MarketCatalog (spec §4.1): immutable,
// concurrency-safe lookup of per-market static metadata loaded once at
// startup. Validation follows the teacher's instrument-validation
// style in internal/schema/instrument.go, generalized from exchange
// instrument symbols to this engine's tick/decimals/notional fields.
package catalog

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/driftnine/marketkeeper/internal/domain"
	"github.com/driftnine/marketkeeper/internal/errs"
)

// Catalog is an immutable, read-only-after-load market registry, safe
// for concurrent reads from any number of workers (spec §5 shared
// resource policy).
type Catalog struct {
	mu      sync.RWMutex
	markets map[string]domain.Market
	wallets map[string]domain.WalletConfig
}

// New builds a Catalog from already-validated markets and wallets.
// Use Load to validate raw config-file data before constructing one.
func New(markets []domain.Market, wallets []domain.WalletConfig) *Catalog {
	c := &Catalog{
		markets: make(map[string]domain.Market, len(markets)),
		wallets: make(map[string]domain.WalletConfig, len(wallets)),
	}
	for _, m := range markets {
		c.markets[m.Symbol] = m
	}
	for _, w := range wallets {
		c.wallets[w.WalletID] = w
	}
	return c
}

// Load validates every market's static metadata and returns a Catalog,
// or the first validation error encountered (spec §4.1: "Validates
// that baseDecimals, quoteDecimals, minPriceTick, minQuantityTick are
// positive integers / positive rationals").
func Load(markets []domain.Market, wallets []domain.WalletConfig) (*Catalog, error) {
	for _, m := range markets {
		if err := validateMarket(m); err != nil {
			return nil, err
		}
	}
	seen := make(map[string]domain.Market, len(markets))
	for _, m := range markets {
		seen[m.Symbol] = m
	}
	for _, w := range wallets {
		for _, symbol := range w.Markets {
			if _, ok := seen[symbol]; !ok {
				return nil, errs.UnknownMarket(symbol)
			}
		}
	}
	return New(markets, wallets), nil
}

func validateMarket(m domain.Market) error {
	if m.Symbol == "" {
		return errs.New("", errs.CodeConfig, errs.WithMessage("market symbol required"))
	}
	switch m.Type {
	case domain.MarketSpot, domain.MarketDerivative:
	default:
		return errs.New("", errs.CodeConfig, errs.WithMessage(fmt.Sprintf("market %s: invalid type %q", m.Symbol, m.Type)))
	}
	if m.BaseDecimals <= 0 || m.QuoteDecimals <= 0 {
		return errs.New("", errs.CodeConfig, errs.WithMessage(fmt.Sprintf("market %s: base/quote decimals must be positive", m.Symbol)))
	}
	if !m.MinPriceTick.IsPositive() {
		return errs.New("", errs.CodeConfig, errs.WithMessage(fmt.Sprintf("market %s: minPriceTick must be positive", m.Symbol)))
	}
	if !m.MinQuantityTick.IsPositive() {
		return errs.New("", errs.CodeConfig, errs.WithMessage(fmt.Sprintf("market %s: minQuantityTick must be positive", m.Symbol)))
	}
	if m.MinNotional.IsNegative() {
		return errs.New("", errs.CodeConfig, errs.WithMessage(fmt.Sprintf("market %s: minNotional must not be negative", m.Symbol)))
	}
	if len(m.TestnetMarketID) == 0 || len(m.MainnetMarketID) == 0 {
		return errs.New("", errs.CodeConfig, errs.WithMessage(fmt.Sprintf("market %s: testnet/mainnet market id required", m.Symbol)))
	}
	return nil
}

// Lookup resolves a market by symbol, failing with UnknownMarket on miss.
func (c *Catalog) Lookup(symbol string) (domain.Market, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[symbol]
	if !ok {
		return domain.Market{}, errs.UnknownMarket(symbol)
	}
	return m, nil
}

// EnabledMarkets returns the markets configured for a wallet, in the
// order the wallet's config lists them, skipping disabled wallets.
func (c *Catalog) EnabledMarkets(walletID string) ([]domain.Market, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.wallets[walletID]
	if !ok {
		return nil, errs.New("", errs.CodeConfig, errs.WithMessage(fmt.Sprintf("unknown wallet %q", walletID)))
	}
	if !w.Enabled {
		return nil, nil
	}
	out := make([]domain.Market, 0, len(w.Markets))
	for _, symbol := range w.Markets {
		m, ok := c.markets[symbol]
		if !ok {
			return nil, errs.UnknownMarket(symbol)
		}
		out = append(out, m)
	}
	return out, nil
}

// NearPctBand returns the decimal fraction (not bps) used to count
// orders near a reference price: spec §4.3 fixes this at 5%.
func NearPctBand() decimal.Decimal {
	return decimal.NewFromFloat(0.05)
}
