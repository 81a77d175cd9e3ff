// Package domain holds the shared data model described in spec §3:
// Market, WalletConfig, MarketParams, PriceSample, OpenOrder,
// OrderbookSnapshot, CreateIntent, CancelRef, and ActionPlan. These
// types are immutable value objects passed between components; no
// component other than its owner mutates them in place.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies which side of the book an order or intent belongs to.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// MarketType tags a market as spot or perpetual-derivative, replacing
// dynamic dispatch by symbol type with a closed enum (spec §9).
type MarketType string

const (
	MarketSpot       MarketType = "SPOT"
	MarketDerivative MarketType = "DERIVATIVE"
)

// Market is immutable static metadata for a single tradable symbol,
// loaded once by MarketCatalog at startup.
type Market struct {
	Symbol          string
	Type            MarketType
	TestnetMarketID []byte
	MainnetMarketID []byte

	// PriceScale is the exponent used to convert a human price into
	// chain units: 10^12 for spot, 10^18 for derivative markets by
	// convention, 1 (scale 0) for same-decimal pairs.
	PriceScale int32

	BaseDecimals  int32
	QuoteDecimals int32

	MinPriceTick    decimal.Decimal
	MinQuantityTick decimal.Decimal
	MinNotional     decimal.Decimal
}

// WalletConfig describes one wallet's trading configuration. Private
// key material is held only by KeyProvider, never by this struct.
type WalletConfig struct {
	WalletID      string
	Name          string
	Enabled       bool
	MaxOpenOrders int
	Markets       []string
}

// MarketParams are per-(wallet,market) tunables for the planner.
type MarketParams struct {
	BaseOrderSize          decimal.Decimal
	BaseSpreadBps          decimal.Decimal
	MinSpreadBps           decimal.Decimal
	MaxSpreadBps           decimal.Decimal
	DeviationThresholdBps  decimal.Decimal
	PriceRefreshInterval   time.Duration
	CycleInterval          time.Duration

	// SpreadScript optionally holds the source of a JS snippet (see internal/scripting)
	// that scales BaseSpreadBps per cycle. Empty disables scripting.
	SpreadScript string
}

// Price wraps a decimal with an explicit availability flag so callers
// never mistake a zero price for "no data".
type Price struct {
	Value     decimal.Decimal
	Available bool
}

// Unavailable constructs an unavailable Price.
func Unavailable() Price { return Price{Available: false} }

// Available constructs an available Price.
func Available(v decimal.Decimal) Price { return Price{Value: v, Available: true} }

// PriceSample is the per-cycle mainnet/testnet mid-price pair.
type PriceSample struct {
	Market     string
	MainnetMid Price
	TestnetMid Price
	SampledAt  time.Time
}

// OrderState is the lifecycle state of a live order, mirrored from the chain.
type OrderState string

const (
	OrderBooked  OrderState = "BOOKED"
	OrderPartial OrderState = "PARTIAL"
	OrderActive  OrderState = "ACTIVE"
)

// OpenOrder is one of the worker's own live orders on a market.
type OpenOrder struct {
	OrderHash      string
	Side           Side
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	State          OrderState
}

// OrderbookSnapshot is the global depth view used by the Planner.
type OrderbookSnapshot struct {
	Market         string
	BestBid        decimal.Decimal
	BestAsk        decimal.Decimal
	HasBid         bool
	HasAsk         bool
	TotalOrders    int
	OrdersNearMid  int
	SampledAt      time.Time
}

// CreateIntent is a planned new order in human units; TxBuilder scales
// it to chain units.
type CreateIntent struct {
	Side          Side
	PriceHuman    decimal.Decimal
	QuantityHuman decimal.Decimal
}

// CancelRef advisorily references one of the worker's own open orders.
type CancelRef struct {
	OrderHash string
}

// Phase is the planner's classification of the current cycle.
type Phase string

const (
	PhaseIdle     Phase = "IDLE"
	PhaseMove     Phase = "MOVE"
	PhaseBuild    Phase = "BUILD"
	PhaseMaintain Phase = "MAINTAIN"
)

// ActionPlan is the Planner's output for one cycle.
type ActionPlan struct {
	Phase     Phase
	Creates   []CreateIntent
	Cancels   []CancelRef
	Rationale string
}

// Empty reports whether the plan has no creates and no cancels, in
// which case spec §4.7 step 4 skips straight to sleep without
// consuming a sequence number.
func (p ActionPlan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Cancels) == 0
}

// WorkerStatus is the payload behind workerStatus(walletId) on the
// Supervisor surface: {state, uptime, lastCycleAt, lastError?}.
type WorkerStatus struct {
	WalletID    string
	State       string
	StartedAt   time.Time
	LastCycleAt time.Time
	LastError   string
}

// Uptime reports time elapsed since the worker entered RUNNING, or
// zero if it never started.
func (s WorkerStatus) Uptime() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}
