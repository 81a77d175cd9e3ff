// Package orderbook implements OrderbookView (spec §4.3): the
// worker's own open orders plus a global depth snapshot counted
// against a reference price band.
package orderbook

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftnine/marketkeeper/internal/chain"
	"github.com/driftnine/marketkeeper/internal/domain"
	"github.com/driftnine/marketkeeper/internal/errs"
)

const nearPriceBandPct = "0.05" // ±5%, spec §3 OrderbookSnapshot.ordersNearPrice

// DepthSource is the chain surface this view depends on.
type DepthSource interface {
	QueryOpenOrders(ctx context.Context, address string, marketID []byte) ([]domain.OpenOrder, error)
	QueryOrderbook(ctx context.Context, marketID []byte, refPrice decimal.Decimal, nearPct decimal.Decimal) (chain.OrderbookQuery, error)
}

// View wraps a DepthSource with the errs.CodeTransient semantics
// spec §4.3 requires: both operations may fail transiently, in which
// case the caller skips the cycle rather than treating it as fatal.
type View struct {
	source DepthSource
}

// New constructs a View over the given chain depth source.
func New(source DepthSource) *View {
	return &View{source: source}
}

// OwnOrders returns the wallet's live orders on a market, or a
// transient error the worker should treat as "skip this cycle".
func (v *View) OwnOrders(ctx context.Context, address string, market domain.Market) ([]domain.OpenOrder, error) {
	orders, err := v.source.QueryOpenOrders(ctx, address, market.TestnetMarketID)
	if err != nil {
		return nil, errs.New("", errs.CodeTransient, errs.WithMessage("query open orders"), errs.WithCause(err))
	}
	return orders, nil
}

// Snapshot fetches global depth for a market, counting orders within
// ±5% of referencePrice (spec §3, §4.3).
func (v *View) Snapshot(ctx context.Context, market domain.Market, referencePrice decimal.Decimal) (domain.OrderbookSnapshot, error) {
	nearPct := decimal.RequireFromString(nearPriceBandPct)
	q, err := v.source.QueryOrderbook(ctx, market.TestnetMarketID, referencePrice, nearPct)
	if err != nil {
		return domain.OrderbookSnapshot{}, errs.New("", errs.CodeTransient, errs.WithMessage("query orderbook"), errs.WithCause(err))
	}
	return domain.OrderbookSnapshot{
		Market:        market.Symbol,
		BestBid:       q.BestBid,
		BestAsk:       q.BestAsk,
		HasBid:        q.HasBid,
		HasAsk:        q.HasAsk,
		TotalOrders:   q.TotalOrders,
		OrdersNearMid: q.NearCount,
		SampledAt:     time.Now(),
	}, nil
}

// CountNear is a reusable helper (used by internal/chain/fake and
// tests) implementing the ordersNearPrice predicate directly on an
// order list, rather than relying on the venue's own count.
func CountNear(orders []domain.OpenOrder, referencePrice decimal.Decimal) int {
	if referencePrice.IsZero() {
		return 0
	}
	band := decimal.RequireFromString(nearPriceBandPct)
	count := 0
	for _, o := range orders {
		deviation := o.Price.Sub(referencePrice).Abs().Div(referencePrice)
		if deviation.LessThanOrEqual(band) {
			count++
		}
	}
	return count
}
