// Package planner implements Planner (spec §4.6), the strategy core:
// it classifies the current cycle into a phase and produces an
// ActionPlan of creates and cancels. Spread/size math is grounded in
// the teacher's MarketMaking strategy (internal/lambda/strategies
// marketmaking.go) generalized from a single-spread quote pair into
// the spec's MOVE/BUILD/MAINTAIN tiered staircases, and made
// deterministic via a per-worker seeded math/rand/v2 source instead
// of the teacher's unseeded float64 math.
package planner

import (
	"math/rand/v2"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/driftnine/marketkeeper/internal/domain"
)

const (
	moveGapThreshold   = "0.15" // 15%
	moveMinTotalOrders = 30

	buildMinTotal = 50
	buildMinNear  = 20
	buildCreates  = 28

	maintainGapThreshold = "0.02" // 2%
)

// tier describes one of BUILD's five staircase bands.
type tier struct {
	minSpreadPct string
	maxSpreadPct string
	levelsPerSide int
	sizeMultiplier string
}

var buildTiers = []tier{
	{"0.0001", "0.001", 5, "0.8"},
	{"0.001", "0.005", 5, "1.3"},
	{"0.005", "0.015", 2, "2.0"},
	{"0.015", "0.03", 1, "3.0"},
	{"0.03", "0.05", 1, "4.5"},
}

// maintainStages are the rotating spread bands MAINTAIN cycles through.
var maintainStages = []struct {
	minSpreadPct string
	maxSpreadPct string
}{
	{"0.005", "0.015"},
	{"0.015", "0.03"},
	{"0.03", "0.05"},
	{"0.05", "0.08"},
}

// Planner produces ActionPlans for one wallet/market/cycle. It holds
// no cross-market state except the rotating MAINTAIN stage index and
// the deterministic RNG, both keyed per (wallet, market) by the
// caller constructing one Planner per WalletWorker market slot.
type Planner struct {
	rng           *rand.Rand
	maintainStage int
}

// New constructs a Planner seeded for deterministic replay (spec §4.6
// "Determinism requirement").
func New(seed uint64) *Planner {
	return &Planner{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Plan inputs bundle the per-cycle reads the planner needs.
type Inputs struct {
	Sample     domain.PriceSample
	Snapshot   domain.OrderbookSnapshot
	OwnOrders  []domain.OpenOrder
	Params     domain.MarketParams
	MaxOpenOrders int
}

// Classify applies the MOVE/BUILD/MAINTAIN selection rule (spec
// §4.6) given the mainnet/testnet mid gap as a fraction (not bps) and
// the current book's total/near-mid order counts. Exported so
// internal/worker's spread-script hook can report the phase it is scaling
// for without duplicating this switch or consuming Planner's RNG.
func Classify(gap decimal.Decimal, total, near int) domain.Phase {
	switch {
	case gap.GreaterThan(decimal.RequireFromString(moveGapThreshold)) && total >= moveMinTotalOrders:
		return domain.PhaseMove
	case total < buildMinTotal || near < buildMinNear:
		return domain.PhaseBuild
	default:
		return domain.PhaseMaintain
	}
}

// Plan classifies the cycle and produces an ActionPlan.
func (p *Planner) Plan(in Inputs) domain.ActionPlan {
	if !in.Sample.MainnetMid.Available {
		return domain.ActionPlan{Phase: domain.PhaseIdle, Rationale: "mainnet mid unavailable"}
	}
	mainnetMid := in.Sample.MainnetMid.Value

	if !in.Sample.TestnetMid.Available {
		return p.build(mainnetMid, in)
	}
	testnetMid := in.Sample.TestnetMid.Value

	gap := testnetMid.Sub(mainnetMid).Abs().Div(mainnetMid)
	total := in.Snapshot.TotalOrders
	near := in.Snapshot.OrdersNearMid

	switch Classify(gap, total, near) {
	case domain.PhaseMove:
		return p.move(mainnetMid, testnetMid, in)
	case domain.PhaseBuild:
		return p.build(mainnetMid, in)
	default:
		return p.maintain(mainnetMid, in)
	}
}

func (p *Planner) move(mainnetMid, testnetMid decimal.Decimal, in Inputs) domain.ActionPlan {
	side := domain.SideBuy
	if testnetMid.GreaterThan(mainnetMid) {
		side = domain.SideSell
	}

	cancelCount := p.intBetween(8, 12)
	cancels := farthestOwnOrders(in.OwnOrders, mainnetMid, cancelCount)

	createCount := p.intBetween(6, 10)
	creates := make([]domain.CreateIntent, 0, createCount)
	for i := 0; i < createCount; i++ {
		spreadPct := p.floatBetween(0.001, 0.01)
		size := p.floatBetween(0.5, 1.0)
		creates = append(creates, intentAtSpread(mainnetMid, side, spreadPct, in.Params.BaseOrderSize, size))
	}

	return domain.ActionPlan{
		Phase:     domain.PhaseMove,
		Creates:   creates,
		Cancels:   cancels,
		Rationale: "price gap exceeds threshold with sufficient depth; correcting toward mainnet",
	}
}

func (p *Planner) build(mainnetMid decimal.Decimal, in Inputs) domain.ActionPlan {
	creates := make([]domain.CreateIntent, 0, buildCreates)
	for _, t := range buildTiers {
		minPct, _ := decimal.NewFromString(t.minSpreadPct)
		maxPct, _ := decimal.NewFromString(t.maxSpreadPct)
		mult, _ := decimal.NewFromString(t.sizeMultiplier)
		for level := 0; level < t.levelsPerSide; level++ {
			for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
				spreadPct := p.decimalBetween(minPct, maxPct)
				sizeJitter := p.floatBetween(0.9, 1.1)
				size := in.Params.BaseOrderSize.Mul(mult).Mul(decimal.NewFromFloat(sizeJitter))
				creates = append(creates, intentAtSpreadDecimal(mainnetMid, side, spreadPct, size))
			}
		}
	}

	creates = dedupeAgainstOpenOrders(creates, in.OwnOrders)
	creates = capByMaxOpenOrders(creates, len(in.OwnOrders), in.MaxOpenOrders)

	return domain.ActionPlan{
		Phase:     domain.PhaseBuild,
		Creates:   creates,
		Rationale: "book too thin; building staircase depth across five tiers",
	}
}

func (p *Planner) maintain(mainnetMid decimal.Decimal, in Inputs) domain.ActionPlan {
	stage := maintainStages[p.maintainStage%len(maintainStages)]
	p.maintainStage++

	minPct, _ := decimal.NewFromString(stage.minSpreadPct)
	maxPct, _ := decimal.NewFromString(stage.maxSpreadPct)

	perSide := p.intBetween(5, 8)
	creates := make([]domain.CreateIntent, 0, perSide*2)
	for i := 0; i < perSide; i++ {
		for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
			spreadPct := p.decimalBetween(minPct, maxPct)
			size := in.Params.BaseOrderSize.Mul(decimal.NewFromFloat(p.floatBetween(0.2, 0.5)))
			creates = append(creates, intentAtSpreadDecimal(mainnetMid, side, spreadPct, size))
		}
	}
	creates = dedupeAgainstOpenOrders(creates, in.OwnOrders)

	cancelCount := p.intBetween(4, 6)
	cancels := outsideBandOwnOrders(in.OwnOrders, mainnetMid, minPct, maxPct, cancelCount)

	return domain.ActionPlan{
		Phase:     domain.PhaseMaintain,
		Creates:   creates,
		Cancels:   cancels,
		Rationale: "depth adequate; rotating maintenance through spread stage " + stage.minSpreadPct + "-" + stage.maxSpreadPct,
	}
}

func intentAtSpread(mid decimal.Decimal, side domain.Side, spreadPct float64, baseSize decimal.Decimal, sizeMultiplier float64) domain.CreateIntent {
	return intentAtSpreadDecimal(mid, side, decimal.NewFromFloat(spreadPct), baseSize.Mul(decimal.NewFromFloat(sizeMultiplier)))
}

func intentAtSpreadDecimal(mid decimal.Decimal, side domain.Side, spreadPct decimal.Decimal, size decimal.Decimal) domain.CreateIntent {
	offset := mid.Mul(spreadPct)
	var price decimal.Decimal
	if side == domain.SideBuy {
		price = mid.Sub(offset)
	} else {
		price = mid.Add(offset)
	}
	return domain.CreateIntent{Side: side, PriceHuman: price, QuantityHuman: size}
}

func farthestOwnOrders(orders []domain.OpenOrder, mid decimal.Decimal, count int) []domain.CancelRef {
	sorted := append([]domain.OpenOrder(nil), orders...)
	sort.Slice(sorted, func(i, j int) bool {
		di := sorted[i].Price.Sub(mid).Abs()
		dj := sorted[j].Price.Sub(mid).Abs()
		if di.Equal(dj) {
			return sorted[i].Quantity.GreaterThan(sorted[j].Quantity)
		}
		return di.GreaterThan(dj)
	})
	if count > len(sorted) {
		count = len(sorted)
	}
	out := make([]domain.CancelRef, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, domain.CancelRef{OrderHash: sorted[i].OrderHash})
	}
	return out
}

// outsideBandOwnOrders cancels own-orders outside the band passed in,
// which is always the current maintainStages entry — so cancel
// selection rotates across stages the same way create placement does,
// just by riding the band rather than indexing maintainStages a
// second time.
func outsideBandOwnOrders(orders []domain.OpenOrder, mid, minPct, maxPct decimal.Decimal, count int) []domain.CancelRef {
	candidates := make([]domain.OpenOrder, 0, len(orders))
	for _, o := range orders {
		spread := o.Price.Sub(mid).Abs().Div(mid)
		if spread.LessThan(minPct) || spread.GreaterThan(maxPct) {
			candidates = append(candidates, o)
		}
	}
	if count > len(candidates) {
		count = len(candidates)
	}
	out := make([]domain.CancelRef, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, domain.CancelRef{OrderHash: candidates[i].OrderHash})
	}
	return out
}

// dedupeAgainstOpenOrders drops creates whose side and price match an
// existing open order within one tick — approximated here as an exact
// match on rounded price, since tick-level rounding happens later in
// TxBuilder (spec §4.6 edge case).
func dedupeAgainstOpenOrders(creates []domain.CreateIntent, openOrders []domain.OpenOrder) []domain.CreateIntent {
	existing := make(map[string]struct{}, len(openOrders))
	for _, o := range openOrders {
		existing[string(o.Side)+"|"+o.Price.StringFixed(8)] = struct{}{}
	}
	out := make([]domain.CreateIntent, 0, len(creates))
	for _, c := range creates {
		key := string(c.Side) + "|" + c.PriceHuman.StringFixed(8)
		if _, ok := existing[key]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}

// capByMaxOpenOrders truncates creates from the widest tier inward
// until the projected open-order count stays within the wallet's
// limit (spec §4.6 tie-break).
func capByMaxOpenOrders(creates []domain.CreateIntent, currentOpen, maxOpenOrders int) []domain.CreateIntent {
	if maxOpenOrders <= 0 {
		return creates
	}
	allowed := maxOpenOrders - currentOpen
	if allowed < 0 {
		allowed = 0
	}
	if allowed >= len(creates) {
		return creates
	}
	return creates[:allowed]
}

func (p *Planner) intBetween(min, max int) int {
	if max <= min {
		return min
	}
	return min + p.rng.IntN(max-min+1)
}

func (p *Planner) floatBetween(min, max float64) float64 {
	return min + p.rng.Float64()*(max-min)
}

func (p *Planner) decimalBetween(min, max decimal.Decimal) decimal.Decimal {
	span := max.Sub(min)
	frac := decimal.NewFromFloat(p.rng.Float64())
	return min.Add(span.Mul(frac))
}
