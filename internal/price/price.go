// Package price implements PriceOracle (spec §4.2): mainnet/testnet
// mid-price sampling with a short-TTL cache and a last-trade-vs-book-mid
// selection rule. The oracle never retries internally — WalletWorker
// decides what to do with an Unavailable sample.
package price

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftnine/marketkeeper/internal/domain"
)

const (
	defaultRefreshInterval = 5 * time.Second
	staleFactor            = 2
	lastTradeTolerance     = "0.05" // 5%, spec §4.2
)

// MidSource is the minimal chain surface the oracle depends on: one
// mid-price query per network, returning Unavailable on failure.
type MidSource interface {
	QueryMid(ctx context.Context, marketID []byte) (domain.Price, error)
}

type cacheEntry struct {
	price      domain.Price
	sampledAt  time.Time
}

// Oracle caches mainnet/testnet mid prices per market. It is safe for
// concurrent use by multiple workers (spec §5: "PriceOracle may be
// shared read-only across workers").
type Oracle struct {
	mainnet MidSource
	testnet MidSource

	mu              sync.Mutex
	refreshInterval time.Duration
	mainnetCache    map[string]cacheEntry
	testnetCache    map[string]cacheEntry
}

// New constructs an Oracle with the default 5s refresh interval.
func New(mainnet, testnet MidSource) *Oracle {
	return &Oracle{
		mainnet:         mainnet,
		testnet:         testnet,
		refreshInterval: defaultRefreshInterval,
		mainnetCache:    make(map[string]cacheEntry),
		testnetCache:    make(map[string]cacheEntry),
	}
}

// WithRefreshInterval overrides the default TTL; returns the oracle
// for chaining at construction time.
func (o *Oracle) WithRefreshInterval(d time.Duration) *Oracle {
	o.refreshInterval = d
	return o
}

// MainnetMid returns the cached or freshly sampled mainnet mid price.
func (o *Oracle) MainnetMid(ctx context.Context, market domain.Market) domain.Price {
	return o.mid(ctx, market.MainnetMarketID, o.mainnet, o.mainnetCache)
}

// TestnetMid returns the cached or freshly sampled testnet mid price.
func (o *Oracle) TestnetMid(ctx context.Context, market domain.Market) domain.Price {
	return o.mid(ctx, market.TestnetMarketID, o.testnet, o.testnetCache)
}

func (o *Oracle) mid(ctx context.Context, marketID []byte, source MidSource, cache map[string]cacheEntry) domain.Price {
	key := string(marketID)

	o.mu.Lock()
	entry, ok := cache[key]
	o.mu.Unlock()
	if ok && time.Since(entry.sampledAt) < o.refreshInterval {
		return entry.price
	}

	sample, err := source.QueryMid(ctx, marketID)
	now := time.Now()
	if err != nil || !sample.Available {
		if ok && time.Since(entry.sampledAt) < staleFactor*o.refreshInterval {
			return entry.price
		}
		return domain.Unavailable()
	}

	o.mu.Lock()
	cache[key] = cacheEntry{price: sample, sampledAt: now}
	o.mu.Unlock()
	return sample
}

// Sample gathers both prices for a market into a PriceSample.
func Sample(ctx context.Context, o *Oracle, market domain.Market) domain.PriceSample {
	return domain.PriceSample{
		Market:     market.Symbol,
		MainnetMid: o.MainnetMid(ctx, market),
		TestnetMid: o.TestnetMid(ctx, market),
		SampledAt:  time.Now(),
	}
}

// ResolveMid applies the "last trade preferred, fall back to book mid"
// rule from spec §4.2: a trade price is used only when it falls within
// 5% of the book mid; otherwise the book mid is used.
func ResolveMid(bestBid, bestAsk decimal.Decimal, hasBid, hasAsk bool, lastTrade decimal.Decimal, hasLastTrade bool) domain.Price {
	if !hasBid || !hasAsk {
		return domain.Unavailable()
	}
	bookMid := bestBid.Add(bestAsk).Div(decimal.NewFromInt(2))
	if !hasLastTrade || bookMid.IsZero() {
		return domain.Available(bookMid)
	}
	tolerance := decimal.RequireFromString(lastTradeTolerance)
	deviation := lastTrade.Sub(bookMid).Abs().Div(bookMid)
	if deviation.LessThanOrEqual(tolerance) {
		return domain.Available(lastTrade)
	}
	return domain.Available(bookMid)
}
