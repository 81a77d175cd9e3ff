// Package config loads the market/wallet-market-mapping configuration
// file (spec §6): `markets.<symbol>` static metadata and tunables, and
// `wallets.<walletId>.markets[]` symbol lists. Wallet identity and key
// material come from a separate KeyProvider (internal/keys); Merge
// joins the two into the []domain.WalletConfig that
// internal/catalog.Load consumes.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/driftnine/marketkeeper/internal/domain"
	"github.com/driftnine/marketkeeper/internal/errs"
)

// Config is the loaded, validated result of one config file.
type Config struct {
	Markets       []domain.Market
	Params        map[string]domain.MarketParams
	WalletMarkets map[string][]string // walletId -> market symbols
}

type fileYAML struct {
	Markets map[string]marketYAML `yaml:"markets"`
	Wallets map[string]walletYAML `yaml:"wallets"`
}

type marketYAML struct {
	TestnetMarketID        string `yaml:"testnetMarketId"`
	MainnetMarketID        string `yaml:"mainnetMarketId"`
	Type                   string `yaml:"type"`
	BaseOrderSize          string `yaml:"baseOrderSize"`
	BaseSpreadBps          string `yaml:"baseSpreadBps"`
	MinSpreadBps           string `yaml:"minSpreadBps"`
	MaxSpreadBps           string `yaml:"maxSpreadBps"`
	DeviationThresholdBps  string `yaml:"deviationThresholdBps"`
	MinPriceTick           string `yaml:"minPriceTick"`
	MinQuantityTick        string `yaml:"minQuantityTick"`
	MinNotional            string `yaml:"minNotional"`
	BaseDecimals           int32  `yaml:"baseDecimals"`
	QuoteDecimals          int32  `yaml:"quoteDecimals"`
	PriceScale             int32  `yaml:"priceScale"`
	SpreadScript           string `yaml:"spreadScript"`
	PriceRefreshInterval   string `yaml:"priceRefreshInterval"`
	CycleInterval          string `yaml:"cycleInterval"`
}

type walletYAML struct {
	Markets []string `yaml:"markets"`
}

// Load reads and validates a config file with the teacher's
// defaults-then-file precedence: a missing path falls back to a fixed
// set of candidate locations before returning an error (app.go's
// openConfigFile pattern), since operators may run from different
// working directories.
func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("MARKETKEEPER_CONFIG"))
	}
	if path == "" {
		path = "config/markets.yaml"
	}

	reader, closer, err := openConfigFile(path)
	if err != nil {
		return nil, err
	}
	defer closer()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var parsed fileYAML
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg, err := build(parsed)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func build(parsed fileYAML) (*Config, error) {
	cfg := &Config{
		Params:        make(map[string]domain.MarketParams, len(parsed.Markets)),
		WalletMarkets: make(map[string][]string, len(parsed.Wallets)),
	}

	for symbol, m := range parsed.Markets {
		market, params, err := toMarket(symbol, m)
		if err != nil {
			return nil, err
		}
		cfg.Markets = append(cfg.Markets, market)
		cfg.Params[symbol] = params
	}

	for walletID, w := range parsed.Wallets {
		cfg.WalletMarkets[walletID] = w.Markets
	}

	return cfg, nil
}

func toMarket(symbol string, m marketYAML) (domain.Market, domain.MarketParams, error) {
	dec := func(s, field string) (decimal.Decimal, error) {
		if s == "" {
			return decimal.Zero, nil
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, errs.New("", errs.CodeConfig, errs.WithMessage(fmt.Sprintf("market %s: invalid %s %q: %v", symbol, field, s, err)))
		}
		return v, nil
	}

	minPriceTick, err := dec(m.MinPriceTick, "minPriceTick")
	if err != nil {
		return domain.Market{}, domain.MarketParams{}, err
	}
	minQuantityTick, err := dec(m.MinQuantityTick, "minQuantityTick")
	if err != nil {
		return domain.Market{}, domain.MarketParams{}, err
	}
	minNotional, err := dec(m.MinNotional, "minNotional")
	if err != nil {
		return domain.Market{}, domain.MarketParams{}, err
	}
	baseOrderSize, err := dec(m.BaseOrderSize, "baseOrderSize")
	if err != nil {
		return domain.Market{}, domain.MarketParams{}, err
	}
	baseSpreadBps, err := dec(m.BaseSpreadBps, "baseSpreadBps")
	if err != nil {
		return domain.Market{}, domain.MarketParams{}, err
	}
	minSpreadBps, err := dec(m.MinSpreadBps, "minSpreadBps")
	if err != nil {
		return domain.Market{}, domain.MarketParams{}, err
	}
	maxSpreadBps, err := dec(m.MaxSpreadBps, "maxSpreadBps")
	if err != nil {
		return domain.Market{}, domain.MarketParams{}, err
	}
	deviationThresholdBps, err := dec(m.DeviationThresholdBps, "deviationThresholdBps")
	if err != nil {
		return domain.Market{}, domain.MarketParams{}, err
	}

	priceRefresh, err := parseDuration(m.PriceRefreshInterval, "priceRefreshInterval", symbol)
	if err != nil {
		return domain.Market{}, domain.MarketParams{}, err
	}
	cycleInterval, err := parseDuration(m.CycleInterval, "cycleInterval", symbol)
	if err != nil {
		return domain.Market{}, domain.MarketParams{}, err
	}

	market := domain.Market{
		Symbol:          symbol,
		Type:            domain.MarketType(strings.ToUpper(m.Type)),
		TestnetMarketID: []byte(m.TestnetMarketID),
		MainnetMarketID: []byte(m.MainnetMarketID),
		PriceScale:      m.PriceScale,
		BaseDecimals:    m.BaseDecimals,
		QuoteDecimals:   m.QuoteDecimals,
		MinPriceTick:    minPriceTick,
		MinQuantityTick: minQuantityTick,
		MinNotional:     minNotional,
	}
	params := domain.MarketParams{
		BaseOrderSize:         baseOrderSize,
		BaseSpreadBps:         baseSpreadBps,
		MinSpreadBps:          minSpreadBps,
		MaxSpreadBps:          maxSpreadBps,
		DeviationThresholdBps: deviationThresholdBps,
		PriceRefreshInterval:  priceRefresh,
		CycleInterval:         cycleInterval,
		SpreadScript:          m.SpreadScript,
	}
	return market, params, nil
}

func parseDuration(s, field, symbol string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errs.New("", errs.CodeConfig, errs.WithMessage(fmt.Sprintf("market %s: invalid %s %q: %v", symbol, field, s, err)))
	}
	return d, nil
}

// validate checks that every market a wallet references is defined,
// mirroring internal/catalog.Load's own check but surfacing the error
// earlier, before KeyProvider's wallet identities are even known.
func (c *Config) validate() error {
	known := make(map[string]struct{}, len(c.Markets))
	for _, m := range c.Markets {
		if len(m.TestnetMarketID) == 0 || len(m.MainnetMarketID) == 0 {
			return errs.New("", errs.CodeConfig, errs.WithMessage(fmt.Sprintf("market %s: testnet/mainnet market id required", m.Symbol)))
		}
		known[m.Symbol] = struct{}{}
	}
	for walletID, symbols := range c.WalletMarkets {
		for _, symbol := range symbols {
			if _, ok := known[symbol]; !ok {
				return errs.New("", errs.CodeConfig, errs.WithCanonicalCode(errs.CanonicalUnknownMarket), errs.WithMessage(fmt.Sprintf("wallet %s references unknown market %s", walletID, symbol)))
			}
		}
	}
	return nil
}

// Merge joins KeyProvider-sourced wallet identity with this file's
// wallet-to-market mapping, producing the []domain.WalletConfig that
// internal/catalog.Load expects. Wallets with no matching entry in
// the config file are kept with zero markets; cmd/marketkeeper skips
// those at startup, and internal/worker.New rejects a wallet with no
// markets.
func (c *Config) Merge(wallets []domain.WalletConfig) []domain.WalletConfig {
	out := make([]domain.WalletConfig, len(wallets))
	for i, w := range wallets {
		w.Markets = c.WalletMarkets[w.WalletID]
		out[i] = w
	}
	return out
}

func openConfigFile(path string) (io.Reader, func(), error) {
	var candidates []string
	seen := make(map[string]struct{})
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" {
			return
		}
		p = filepath.Clean(p)
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		candidates = append(candidates, p)
	}
	add(path)
	add("config/markets.yaml")
	add("config/markets.example.yaml")

	var lastErr error
	for _, candidate := range candidates {
		f, err := os.Open(candidate) // #nosec G304 -- config paths are operator-controlled.
		if err == nil {
			return f, func() { _ = f.Close() }, nil
		}
		if !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("open config: %w", err)
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = os.ErrNotExist
	}
	return nil, nil, fmt.Errorf("open config: %w", lastErr)
}
