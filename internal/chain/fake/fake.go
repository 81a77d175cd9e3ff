// Package fake provides a deterministic in-memory chain.Client double
// for tests and scenario replay, grounded on the teacher's
// internal/adapters/fake in-memory provider: a mutex-guarded state
// map manipulated directly by test setup, with no network I/O.
package fake

import (
	"context"
	"fmt"
	"sync"

	goccyjson "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/driftnine/marketkeeper/internal/chain"
	"github.com/driftnine/marketkeeper/internal/domain"
	"github.com/driftnine/marketkeeper/internal/orderbook"
)

// RejectRule makes the next N broadcasts for an address fail with a
// given raw venue rejection message, exercising SequenceController's
// classification (spec §4.4).
type RejectRule struct {
	RawLog string
	Times  int
}

type batchPayload struct {
	WalletID string
	Sequence uint64
	Creates  []chain.ChainCreate
	Cancels  []chain.ChainCancel
}

// Client is an in-memory chain.Client. All state is keyed by address
// and/or market ID string, protected by a single mutex — this is a
// test double, not a performance-sensitive path.
type Client struct {
	mu sync.Mutex

	sequence   map[string]uint64
	openOrders map[string][]domain.OpenOrder // key: address|marketID
	mids       map[string]domain.Price       // key: marketID
	books      map[string]chain.OrderbookQuery

	rejectNext map[string]*RejectRule // key: address
	nextHash   int
}

// New constructs an empty fake chain client.
func New() *Client {
	return &Client{
		sequence:   make(map[string]uint64),
		openOrders: make(map[string][]domain.OpenOrder),
		mids:       make(map[string]domain.Price),
		books:      make(map[string]chain.OrderbookQuery),
		rejectNext: make(map[string]*RejectRule),
	}
}

// SeedSequence sets an address's authoritative sequence number.
func (c *Client) SeedSequence(address string, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequence[address] = seq
}

// SetMid sets the mid price returned for a given market ID, used for
// both mainnet and testnet calls since the fake distinguishes them
// only by which ID the caller supplies.
func (c *Client) SetMid(marketID []byte, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mids[string(marketID)] = domain.Available(price)
}

// ClearMid marks a market ID's mid price Unavailable.
func (c *Client) ClearMid(marketID []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mids[string(marketID)] = domain.Unavailable()
}

// SetOrderbook sets the fixed depth snapshot returned for marketID,
// independent of the orders seeded via SeedOpenOrders.
func (c *Client) SetOrderbook(marketID []byte, q chain.OrderbookQuery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books[string(marketID)] = q
}

// SeedOpenOrders installs a wallet's live orders on a market.
func (c *Client) SeedOpenOrders(address string, marketID []byte, orders []domain.OpenOrder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openOrders[key(address, marketID)] = orders
}

// RejectNextBroadcasts makes the next n broadcasts from address fail
// with rawLog, simulating venue rejections for retry/classification tests.
func (c *Client) RejectNextBroadcasts(address, rawLog string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectNext[address] = &RejectRule{RawLog: rawLog, Times: n}
}

func key(address string, marketID []byte) string {
	return address + "|" + string(marketID)
}

// QueryAccountSequence returns the authoritative sequence for address.
func (c *Client) QueryAccountSequence(ctx context.Context, address string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence[address], nil
}

// QueryOpenOrders returns the wallet's seeded open orders on a market.
func (c *Client) QueryOpenOrders(ctx context.Context, address string, marketID []byte) ([]domain.OpenOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	orders := c.openOrders[key(address, marketID)]
	out := make([]domain.OpenOrder, len(orders))
	copy(out, orders)
	return out, nil
}

// QueryOrderbook returns the fixed snapshot for marketID if one was
// set via SetOrderbook; otherwise it derives total/near counts from
// whatever open orders have been seeded across all addresses for that
// market, using orderbook.CountNear for the near-price predicate.
func (c *Client) QueryOrderbook(ctx context.Context, marketID []byte, refPrice decimal.Decimal, nearPct decimal.Decimal) (chain.OrderbookQuery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.books[string(marketID)]; ok {
		return q, nil
	}

	var all []domain.OpenOrder
	suffix := "|" + string(marketID)
	for k, orders := range c.openOrders {
		if len(k) >= len(suffix) && k[len(k)-len(suffix):] == suffix {
			all = append(all, orders...)
		}
	}
	return chain.OrderbookQuery{
		TotalOrders: len(all),
		NearCount:   orderbook.CountNear(all, refPrice),
	}, nil
}

// QueryMid returns the price set via SetMid/ClearMid for marketID.
func (c *Client) QueryMid(ctx context.Context, marketID []byte) (domain.Price, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.mids[string(marketID)]
	if !ok {
		return domain.Unavailable(), nil
	}
	return p, nil
}

// BuildSignedBatch serializes the batch as its "signed" wire form.
// The fake does no real signing; it round-trips the batch through
// goccy/go-json so BroadcastBatch can recover it.
func (c *Client) BuildSignedBatch(ctx context.Context, wallet domain.WalletConfig, sequence uint64, creates []chain.ChainCreate, cancels []chain.ChainCancel, marketType domain.MarketType) ([]byte, error) {
	return goccyjson.Marshal(batchPayload{WalletID: wallet.WalletID, Sequence: sequence, Creates: creates, Cancels: cancels})
}

// BroadcastBatch applies a previously built batch to the in-memory
// order state, or rejects it if a RejectRule is armed for the batch's
// WalletID, which the fake uses as the wallet's address key.
func (c *Client) BroadcastBatch(ctx context.Context, signedTx []byte) (chain.TxResult, error) {
	var payload batchPayload
	if err := goccyjson.Unmarshal(signedTx, &payload); err != nil {
		return chain.TxResult{}, fmt.Errorf("decode fake batch: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	address := payload.WalletID
	if rule, ok := c.rejectNext[address]; ok && rule.Times > 0 {
		rule.Times--
		if rule.Times == 0 {
			delete(c.rejectNext, address)
		}
		return chain.TxResult{OK: false, RawLog: rule.RawLog}, nil
	}

	for _, create := range payload.Creates {
		k := key(address, create.MarketID)
		c.nextHash++
		c.openOrders[k] = append(c.openOrders[k], domain.OpenOrder{
			OrderHash: fmt.Sprintf("fake-%d", c.nextHash),
			Side:      create.Side,
			State:     domain.OrderBooked,
		})
	}
	for _, cancel := range payload.Cancels {
		for k, orders := range c.openOrders {
			c.openOrders[k] = removeByHash(orders, cancel.OrderHash)
		}
	}

	c.sequence[address] = payload.Sequence + 1
	return chain.TxResult{OK: true, TxHash: fmt.Sprintf("fakehash-%d", payload.Sequence)}, nil
}

func removeByHash(orders []domain.OpenOrder, hash string) []domain.OpenOrder {
	out := orders[:0:0]
	for _, o := range orders {
		if o.OrderHash != hash {
			out = append(out, o)
		}
	}
	return out
}

// OpenOrderCount reports how many orders are currently booked for an
// address on a market, for test assertions.
func (c *Client) OpenOrderCount(address string, marketID []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.openOrders[key(address, marketID)])
}

// Sequence reports the fake's current authoritative sequence for address.
func (c *Client) Sequence(address string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence[address]
}
