// Package worker implements WalletWorker (spec §4.7): the per-wallet
// control loop that ties the price oracle, orderbook view, planner,
// tx builder, and sequence controller together into a round-robin
// cycle over the wallet's configured markets. Its lifecycle follows
// the teacher's BaseLambda (internal/lambda/base_lambda.go): a
// per-instance logger and mutex-guarded state fields around a single
// blocking Run(ctx) loop instead of an event-bus consumer loop. Run
// itself is a plain blocking call; internal/control.Supervisor is what
// owns the goroutine that drives it, the same way BaseLambda.consume
// owns its conc.WaitGroup rather than Start itself.
package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftnine/marketkeeper/internal/chain"
	"github.com/driftnine/marketkeeper/internal/domain"
	"github.com/driftnine/marketkeeper/internal/errs"
	"github.com/driftnine/marketkeeper/internal/orderbook"
	"github.com/driftnine/marketkeeper/internal/planner"
	"github.com/driftnine/marketkeeper/internal/price"
	"github.com/driftnine/marketkeeper/internal/scripting"
	"github.com/driftnine/marketkeeper/internal/sequence"
	"github.com/driftnine/marketkeeper/internal/telemetry"
	"github.com/driftnine/marketkeeper/internal/throttle"
	"github.com/driftnine/marketkeeper/internal/txbuilder"
)

// State names the worker's lifecycle state (spec §4.7 state machine).
type State string

const (
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateCooling  State = "COOLING"
	StateStopping State = "STOPPING"
	StateStopped  State = "STOPPED"
)

const (
	defaultCycleInterval  = 15 * time.Second
	defaultCallTimeout    = 10 * time.Second
	periodicCheckInterval = 30 * time.Second
	maxBroadcastAttempts  = 3
)

// Deps bundles the already-constructed components a Worker wires
// together. cmd/marketkeeper passes the same Chain, Oracle, Throttle,
// Metrics, Scripting and Store to every Worker (Oracle is safe to
// share, spec §5). Each Worker builds its own sequence controller,
// planners, orderbook view and tx builder.
type Deps struct {
	Venue     string
	Chain     chain.Client
	Oracle    *price.Oracle
	Throttle  *throttle.Throttle
	Metrics   *telemetry.WorkerMetrics
	Scripting *scripting.Evaluator
	Store     BroadcastStore
	Logger    *log.Logger
}

// BroadcastStore persists the optional broadcast ledger (spec §4.11).
// A nil Store (the zero value of Deps.Store) turns RecordBroadcast and
// SaveCheckpoint into no-ops, so tests never need a database.
type BroadcastStore interface {
	RecordBroadcast(ctx context.Context, walletID string, market string, plan domain.ActionPlan, sequence uint64, txHash string) error
	SaveCheckpoint(ctx context.Context, walletID string, value uint64) error
}

// Worker runs one wallet's cycles across its enabled markets.
type Worker struct {
	venue   string
	wallet  domain.WalletConfig
	address string

	chainClient chain.Client
	oracle      *price.Oracle
	view        *orderbook.View
	builder     *txbuilder.Builder
	seqCtl      *sequence.Controller
	throttle    *throttle.Throttle
	metrics     *telemetry.WorkerMetrics
	scripting   *scripting.Evaluator
	store       BroadcastStore
	logger      *log.Logger

	markets  []domain.Market
	params   map[string]domain.MarketParams
	planners map[string]*planner.Planner
	cursor   int

	cycleInterval time.Duration
	callTimeout   time.Duration
	lastPeriodic  time.Time

	mu          sync.RWMutex
	state       State
	startedAt   time.Time
	lastCycleAt time.Time
	lastErr     error
}

// New constructs a Worker for one wallet. params must have one entry
// per symbol in wallet.Markets; markets must already be resolved
// through MarketCatalog.EnabledMarkets.
func New(wallet domain.WalletConfig, address string, markets []domain.Market, params map[string]domain.MarketParams, deps Deps) (*Worker, error) {
	if len(markets) == 0 {
		return nil, errs.New("", errs.CodeConfig, errs.WithMessage(fmt.Sprintf("wallet %s has no enabled markets", wallet.WalletID)))
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "", log.LstdFlags)
	}

	w := &Worker{
		venue:         deps.Venue,
		wallet:        wallet,
		address:       address,
		chainClient:   deps.Chain,
		oracle:        deps.Oracle,
		view:          orderbook.New(deps.Chain),
		builder:       txbuilder.New(deps.Chain),
		seqCtl:        sequence.New(deps.Venue, address, deps.Chain),
		throttle:      deps.Throttle,
		metrics:       deps.Metrics,
		scripting:     deps.Scripting,
		store:         deps.Store,
		logger:        logger,
		markets:       markets,
		params:        params,
		planners:      make(map[string]*planner.Planner, len(markets)),
		cycleInterval: defaultCycleInterval,
		callTimeout:   defaultCallTimeout,
		state:         StateStarting,
	}
	for _, m := range markets {
		w.planners[m.Symbol] = planner.New(seedFor(wallet.WalletID, m.Symbol))
	}
	return w, nil
}

// WithCycleInterval overrides the default 15s per-market cycle sleep.
func (w *Worker) WithCycleInterval(d time.Duration) *Worker {
	w.cycleInterval = d
	return w
}

// WithCallTimeout overrides the default 10s per-network-call timeout.
func (w *Worker) WithCallTimeout(d time.Duration) *Worker {
	w.callTimeout = d
	return w
}

// Status returns the worker's current lifecycle state for the
// control plane's status endpoint.
func (w *Worker) Status() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// CheckDrift runs an out-of-band sequence drift check, independent of
// the 30s periodic cadence. internal/streamwatch calls this when it
// sees a chain-stream balance update for the worker's address, per
// spec §4.8's early-detection path.
func (w *Worker) CheckDrift(ctx context.Context) (sequence.DriftResult, error) {
	return w.seqCtl.CheckDrift(ctx)
}

// Report returns the workerStatus(walletId) payload for the
// Supervisor surface's control plane.
func (w *Worker) Report() domain.WorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	lastErr := ""
	if w.lastErr != nil {
		lastErr = w.lastErr.Error()
	}
	return domain.WorkerStatus{
		WalletID:    w.wallet.WalletID,
		State:       string(w.state),
		StartedAt:   w.startedAt,
		LastCycleAt: w.lastCycleAt,
		LastError:   lastErr,
	}
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) recordCycle(err error) {
	w.mu.Lock()
	w.lastCycleAt = time.Now()
	w.lastErr = err
	w.mu.Unlock()
}

// Run executes the worker's lifecycle until ctx is cancelled. It
// returns a non-nil error only on a Fatal condition (spec §4.7
// "Unknown-market / config errors → Fatal, worker exits with
// non-zero status"); a clean shutdown returns nil.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.start(ctx); err != nil {
		w.setState(StateStopped)
		return err
	}
	w.setState(StateRunning)
	w.mu.Lock()
	w.startedAt = time.Now()
	w.mu.Unlock()
	w.lastPeriodic = time.Now()

	for {
		select {
		case <-ctx.Done():
			w.setState(StateStopping)
			w.setState(StateStopped)
			return nil
		default:
		}

		if w.Status() == StateCooling {
			if err := w.cool(ctx); err != nil {
				return err
			}
			continue
		}

		market := w.nextMarket()
		outcome, err := w.runCycle(ctx, market)
		w.recordCycle(err)
		if err != nil {
			if isFatal(err) {
				return err
			}
			w.logger.Printf("[%s/%s] %s cycle error: %v", w.wallet.WalletID, market.Symbol, w.venue, err)
		}
		if outcome == cycleCooling || w.seqCtl.Tripped() {
			if w.metrics != nil {
				w.metrics.RecordCircuitTrip(ctx, w.wallet.WalletID)
			}
			w.setState(StateCooling)
			continue
		}

		if time.Since(w.lastPeriodic) >= periodicCheckInterval {
			w.periodicCheck(ctx)
		}

		if !w.sleepOrDone(ctx, w.cycleInterval) {
			w.setState(StateStopping)
			w.setState(StateStopped)
			return nil
		}
	}
}

func (w *Worker) start(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	defer cancel()
	if err := w.seqCtl.Refresh(callCtx, true); err != nil {
		w.logger.Printf("[%s] %s initial sequence refresh failed: %v", w.wallet.WalletID, w.venue, err)
	}
	if len(w.markets) == 0 {
		return errs.New("", errs.CodeConfig, errs.WithMessage("no enabled markets at startup"))
	}
	return nil
}

func (w *Worker) cool(ctx context.Context) error {
	w.logger.Printf("[%s] %s entering cooldown", w.wallet.WalletID, w.venue)
	if !w.sleepOrDone(ctx, sequence.CooldownDuration()) {
		w.setState(StateStopped)
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	defer cancel()
	if err := w.seqCtl.Refresh(callCtx, true); err != nil {
		w.logger.Printf("[%s] %s cooldown refresh failed: %v", w.wallet.WalletID, w.venue, err)
	}
	w.seqCtl.ResetConsecutiveErrors()
	w.setState(StateRunning)
	return nil
}

func (w *Worker) periodicCheck(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	defer cancel()
	if err := w.seqCtl.Refresh(callCtx, false); err != nil {
		w.logger.Printf("[%s] %s periodic refresh failed: %v", w.wallet.WalletID, w.venue, err)
	}
	if _, err := w.seqCtl.CheckDrift(callCtx); err != nil {
		w.logger.Printf("[%s] %s drift check failed: %v", w.wallet.WalletID, w.venue, err)
	}
	w.lastPeriodic = time.Now()
}

func (w *Worker) nextMarket() domain.Market {
	m := w.markets[w.cursor%len(w.markets)]
	w.cursor++
	return m
}

type cycleOutcome int

const (
	cycleDone cycleOutcome = iota
	cycleSkipped
	cycleCooling
)

// runCycle executes one RUNNING cycle for a single market (spec
// §4.7 RUNNING steps 1-6).
func (w *Worker) runCycle(ctx context.Context, market domain.Market) (cycleOutcome, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	sample := price.Sample(callCtx, w.oracle, market)
	cancel()

	if !sample.MainnetMid.Available {
		return cycleSkipped, nil
	}

	callCtx, cancel = context.WithTimeout(ctx, w.callTimeout)
	ownOrders, err := w.view.OwnOrders(callCtx, w.address, market)
	cancel()
	if err != nil {
		return cycleSkipped, err
	}

	callCtx, cancel = context.WithTimeout(ctx, w.callTimeout)
	snapshot, err := w.view.Snapshot(callCtx, market, sample.MainnetMid.Value)
	cancel()
	if err != nil {
		return cycleSkipped, err
	}

	params := w.scriptedParams(market, sample, snapshot)

	plan := w.planners[market.Symbol].Plan(planner.Inputs{
		Sample:        sample,
		Snapshot:      snapshot,
		OwnOrders:     ownOrders,
		Params:        params,
		MaxOpenOrders: w.wallet.MaxOpenOrders,
	})
	if plan.Phase == domain.PhaseIdle || plan.Empty() {
		return cycleSkipped, nil
	}
	if !txbuilder.WouldBroadcast(plan, market, ownOrders) {
		return cycleSkipped, nil
	}

	return w.broadcastWithRetry(ctx, market, plan, ownOrders)
}

// scriptedParams applies the market's optional spread script (spec
// §4.9) to BaseSpreadBps, leaving every other tunable untouched. A
// script evaluation error falls back to the unscaled params rather
// than failing the cycle, since the spread hook is advisory.
func (w *Worker) scriptedParams(market domain.Market, sample domain.PriceSample, snapshot domain.OrderbookSnapshot) domain.MarketParams {
	params := w.params[market.Symbol]
	if w.scripting == nil || params.SpreadScript == "" {
		return params
	}

	gap := decimal.Zero
	phase := domain.PhaseBuild
	if sample.TestnetMid.Available && sample.MainnetMid.Available {
		gap = sample.TestnetMid.Value.Sub(sample.MainnetMid.Value).Abs().Div(sample.MainnetMid.Value)
		phase = planner.Classify(gap, snapshot.TotalOrders, snapshot.OrdersNearMid)
	}

	multiplier, err := w.scripting.SpreadMultiplier(params.SpreadScript, scripting.Inputs{
		Gap:   gap.Mul(decimal.NewFromInt(10000)),
		Near:  snapshot.OrdersNearMid,
		Total: snapshot.TotalOrders,
		Phase: string(phase),
	})
	if err != nil {
		w.logger.Printf("[%s/%s] %s spread script error: %v", w.wallet.WalletID, market.Symbol, w.venue, err)
		return params
	}

	params.BaseSpreadBps = params.BaseSpreadBps.Mul(multiplier)
	return params
}

// broadcastWithRetry drives SequenceController.withSequence up to
// three times with the prescribed waits between attempts, breaking
// to COOLING if none succeed (spec §4.7 step 6).
func (w *Worker) broadcastWithRetry(ctx context.Context, market domain.Market, plan domain.ActionPlan, ownOrders []domain.OpenOrder) (cycleOutcome, error) {
	if w.throttle != nil {
		if err := w.throttle.Wait(ctx); err != nil {
			return cycleSkipped, err
		}
	}

	start := time.Now()
	var lastErr error
	var sent broadcastRecord
	for attempt := 1; attempt <= maxBroadcastAttempts; attempt++ {
		outcome, wait, err := w.seqCtl.WithSequence(ctx, w.broadcastFunc(ctx, market, plan, ownOrders, &sent))

		switch outcome {
		case sequence.OutcomeSuccess:
			if w.metrics != nil {
				w.metrics.RecordBroadcast(ctx, w.wallet.WalletID, market.Symbol, true, float64(time.Since(start).Milliseconds()))
			}
			w.recordLedger(ctx, market, plan, sent)
			return cycleDone, nil
		case sequence.OutcomeFatal:
			return cycleCooling, err
		default: // OutcomeRetryable
			lastErr = err
			if attempt < maxBroadcastAttempts {
				if !w.sleepOrDone(ctx, wait) {
					return cycleCooling, ctx.Err()
				}
			}
		}
	}

	if w.metrics != nil {
		w.metrics.RecordBroadcast(ctx, w.wallet.WalletID, market.Symbol, false, float64(time.Since(start).Milliseconds()))
	}
	return cycleCooling, lastErr
}

// broadcastRecord captures the sequence number, tx hash, and batch
// correlation ID of the attempt that actually succeeded, for the
// optional broadcast ledger (spec §4.11). Zero value means nothing was
// recorded for this cycle.
type broadcastRecord struct {
	sequence uint64
	txHash   string
	batchID  string
}

// broadcastFunc closes over one cycle's plan/market/ownOrders so it
// can be handed to SequenceController.WithSequence as a
// sequence.BroadcastFunc. On a successful broadcast it fills out,
// letting the caller persist it to the ledger without threading the
// sequence number back through WithSequence's own return values.
func (w *Worker) broadcastFunc(ctx context.Context, market domain.Market, plan domain.ActionPlan, ownOrders []domain.OpenOrder, out *broadcastRecord) sequence.BroadcastFunc {
	return func(callCtx context.Context, seq uint64) (string, error) {
		built, err := w.builder.Build(callCtx, plan, market, w.wallet, seq, ownOrders)
		if err != nil {
			return "", err
		}

		txCtx, cancel := context.WithTimeout(callCtx, w.callTimeout)
		defer cancel()
		result, err := w.chainClient.BroadcastBatch(txCtx, built.SignedTx)
		if err != nil {
			return "", err
		}
		if !result.OK {
			return result.RawLog, fmt.Errorf("broadcast %s rejected: %s", built.BatchID, result.RawLog)
		}
		out.sequence = seq
		out.txHash = result.TxHash
		out.batchID = built.BatchID
		return result.RawLog, nil
	}
}

// recordLedger persists a successful broadcast and advances the
// sequence checkpoint hint. Both calls are no-ops when no store is
// configured (BroadcastStore's zero value, Deps.Store left nil);
// failures are logged, never fatal, since the ledger is audit
// infrastructure, not the source of correctness.
func (w *Worker) recordLedger(ctx context.Context, market domain.Market, plan domain.ActionPlan, sent broadcastRecord) {
	if w.store == nil {
		return
	}
	ledgerCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	defer cancel()
	if err := w.store.RecordBroadcast(ledgerCtx, w.wallet.WalletID, market.Symbol, plan, sent.sequence, sent.txHash); err != nil {
		w.logger.Printf("[%s/%s] %s broadcast ledger write failed for batch %s: %v", w.wallet.WalletID, market.Symbol, w.venue, sent.batchID, err)
	}
	if err := w.store.SaveCheckpoint(ledgerCtx, w.wallet.WalletID, sent.sequence+1); err != nil {
		w.logger.Printf("[%s] %s sequence checkpoint write failed: %v", w.wallet.WalletID, w.venue, err)
	}
}

// sleepOrDone sleeps for d or returns false early if ctx is done.
func (w *Worker) sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func isFatal(err error) bool {
	e, ok := err.(*errs.E)
	if !ok {
		return false
	}
	return e.Code == errs.CodeConfig || e.Code == errs.CodeInvariant
}

// seedFor derives a deterministic per-(wallet,market) planner seed so
// restarts replay the same random draws for the same inputs (spec
// §4.6 determinism requirement), without needing to persist seeds.
func seedFor(walletID, symbol string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(walletID))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(symbol))
	return h.Sum64()
}
