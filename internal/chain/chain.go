// Package chain defines the boundary interfaces the engine needs from
// a blockchain venue and from wallet key storage (spec §6). Concrete
// implementations live outside this package; internal/chain/fake
// provides the in-memory double used by tests.
package chain

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/driftnine/marketkeeper/internal/domain"
)

// TxResult is the outcome of one broadcast attempt.
type TxResult struct {
	OK      bool
	Code    uint32
	RawLog  string
	TxHash  string
}

// OrderbookQuery is the result of querying a market's depth.
type OrderbookQuery struct {
	BestBid     decimal.Decimal
	BestAsk     decimal.Decimal
	HasBid      bool
	HasAsk      bool
	TotalOrders int
	NearCount   int
}

// Client is the set of chain operations the engine consumes, grounded
// in spec §6's ChainClient surface.
type Client interface {
	QueryAccountSequence(ctx context.Context, address string) (uint64, error)
	QueryOpenOrders(ctx context.Context, address string, marketID []byte) ([]domain.OpenOrder, error)
	QueryOrderbook(ctx context.Context, marketID []byte, refPrice decimal.Decimal, nearPct decimal.Decimal) (OrderbookQuery, error)
	QueryMid(ctx context.Context, marketID []byte) (domain.Price, error)
	BuildSignedBatch(ctx context.Context, wallet domain.WalletConfig, sequence uint64, creates []ChainCreate, cancels []ChainCancel, marketType domain.MarketType) ([]byte, error)
	BroadcastBatch(ctx context.Context, signedTx []byte) (TxResult, error)
}

// ChainCreate is a create-order intent already scaled to chain units.
type ChainCreate struct {
	MarketID []byte
	Side     domain.Side
	Price    *big.Int
	Quantity *big.Int
}

// ChainCancel references a chain-side order by hash.
type ChainCancel struct {
	OrderHash string
}

// KeyProvider loads wallet configuration and key material once at
// startup (spec §6). Private keys never leave the provider.
type KeyProvider interface {
	LoadWallets(ctx context.Context) ([]domain.WalletConfig, error)
	Address(walletID string) (string, error)
	Sign(walletID string, payload []byte) ([]byte, error)
}

// MarketCatalog is the read-only interface WalletWorker and Planner
// depend on; internal/catalog provides the concrete implementation.
type MarketCatalog interface {
	Lookup(symbol string) (domain.Market, error)
	EnabledMarkets(walletID string) ([]domain.Market, error)
}
