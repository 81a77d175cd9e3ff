// Package txbuilder implements TxBuilder (spec §4.5): turns an
// ActionPlan plus a sequence number into a single signed batched
// transaction, scaling human prices/quantities into chain units and
// applying the plan's advisory-cancel and minNotional filtering.
package txbuilder

import (
	"context"

	"github.com/google/uuid"

	"github.com/driftnine/marketkeeper/internal/chain"
	"github.com/driftnine/marketkeeper/internal/domain"
	"github.com/driftnine/marketkeeper/internal/errs"
	"github.com/driftnine/marketkeeper/internal/numeric"
)

// Signer is the chain surface this builder depends on.
type Signer interface {
	BuildSignedBatch(ctx context.Context, wallet domain.WalletConfig, sequence uint64, creates []chain.ChainCreate, cancels []chain.ChainCancel, marketType domain.MarketType) ([]byte, error)
}

// Builder constructs signed batches from plans.
type Builder struct {
	signer Signer
}

// New constructs a Builder over the given signer.
func New(signer Signer) *Builder {
	return &Builder{signer: signer}
}

// Result reports what a Build call actually did, so callers and tests
// can assert on the dropped-cancel count spec §9 requires. BatchID
// correlates one signed batch across the worker's logs, the broadcast
// ledger, and the venue's own rejection messages, which never carry
// anything back but the raw log line.
type Result struct {
	SignedTx       []byte
	BatchID        string
	DroppedCreates int
	DroppedCancels int
}

// WouldBroadcast reports whether building plan against market would
// leave at least one create or cancel after tick/notional/advisory
// filtering. WalletWorker calls this before acquiring the sequence
// lease so a plan that filters down to nothing never consumes a
// sequence number (spec §4.7 "NothingToDo ... cycle completes without
// consuming a sequence number").
func WouldBroadcast(plan domain.ActionPlan, market domain.Market, openOrders []domain.OpenOrder) bool {
	creates, _ := scaleCreates(plan.Creates, market)
	cancels, _ := filterCancels(plan.Cancels, openOrders)
	return len(creates) > 0 || len(cancels) > 0
}

// Build scales plan into chain units and signs a batch. It returns
// errs.NothingToDo if, after filtering, nothing remains to broadcast.
func (b *Builder) Build(ctx context.Context, plan domain.ActionPlan, market domain.Market, wallet domain.WalletConfig, sequence uint64, openOrders []domain.OpenOrder) (Result, error) {
	creates, droppedCreates := scaleCreates(plan.Creates, market)
	cancels, droppedCancels := filterCancels(plan.Cancels, openOrders)

	if len(creates) == 0 && len(cancels) == 0 {
		return Result{DroppedCreates: droppedCreates, DroppedCancels: droppedCancels}, errs.NothingToDo()
	}

	signed, err := b.signer.BuildSignedBatch(ctx, wallet, sequence, creates, cancels, market.Type)
	if err != nil {
		return Result{}, errs.New("", errs.CodePlan, errs.WithMessage("build signed batch"), errs.WithCause(err))
	}
	return Result{
		SignedTx:       signed,
		BatchID:        "batch-" + uuid.NewString(),
		DroppedCreates: droppedCreates,
		DroppedCancels: droppedCancels,
	}, nil
}

// scaleCreates rounds every create to its market's tick/step, drops
// zero-quantity or sub-minNotional results silently (spec §4.5).
func scaleCreates(intents []domain.CreateIntent, market domain.Market) ([]chain.ChainCreate, int) {
	out := make([]chain.ChainCreate, 0, len(intents))
	dropped := 0
	for _, intent := range intents {
		priceHuman := numeric.RoundToTick(intent.PriceHuman, market.MinPriceTick, intent.Side)
		qtyHuman := numeric.FloorToStep(intent.QuantityHuman, market.MinQuantityTick)

		chainPrice := numeric.ToChainUnits(priceHuman, market.PriceScale)
		chainQty := numeric.ToChainUnits(qtyHuman, market.BaseDecimals)

		if chainQty.Sign() == 0 {
			dropped++
			continue
		}
		notional := numeric.Notional(priceHuman, qtyHuman)
		if notional.LessThan(market.MinNotional) {
			dropped++
			continue
		}
		out = append(out, chain.ChainCreate{MarketID: market.TestnetMarketID, Side: intent.Side, Price: chainPrice, Quantity: chainQty})
	}
	return out, dropped
}

// filterCancels drops cancel refs that no longer name a known open
// order — cancel refs are advisory, per spec §4.5 and §9.
func filterCancels(refs []domain.CancelRef, openOrders []domain.OpenOrder) ([]chain.ChainCancel, int) {
	known := make(map[string]struct{}, len(openOrders))
	for _, o := range openOrders {
		known[o.OrderHash] = struct{}{}
	}
	out := make([]chain.ChainCancel, 0, len(refs))
	dropped := 0
	for _, ref := range refs {
		if _, ok := known[ref.OrderHash]; !ok {
			dropped++
			continue
		}
		out = append(out, chain.ChainCancel{OrderHash: ref.OrderHash})
	}
	return out, dropped
}
