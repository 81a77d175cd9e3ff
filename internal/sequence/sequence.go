// Package sequence implements SequenceController (spec §4.4): owns
// the signing sequence number for a wallet under mutually exclusive
// acquisition, proactive refresh, drift detection, and a circuit
// breaker over consecutive broadcast failures. Reconnection-style
// backoff is borrowed from the teacher's websocket_manager.go, here
// configured per error class instead of exponentially, since the
// spec prescribes fixed retry waits.
package sequence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/driftnine/marketkeeper/internal/errs"
)

const (
	refreshMinInterval = 30 * time.Second
	driftThreshold     = 2
	tripThreshold      = 3
	cooldownDuration   = 10 * time.Second

	sequenceMismatchWait = 3 * time.Second
	timeoutHeightWait    = 5 * time.Second
)

// AccountQuerier queries the chain's authoritative account sequence.
type AccountQuerier interface {
	QueryAccountSequence(ctx context.Context, address string) (uint64, error)
}

// Outcome classifies the result of one WithSequence attempt.
type Outcome int

const (
	// OutcomeSuccess means the broadcast succeeded.
	OutcomeSuccess Outcome = iota
	// OutcomeRetryable means the caller should wait and retry.
	OutcomeRetryable
	// OutcomeFatal means the caller must abandon the cycle/process.
	OutcomeFatal
)

// BroadcastFunc performs one signed broadcast at the given sequence
// number and returns the venue's raw rejection text on failure.
type BroadcastFunc func(ctx context.Context, seq uint64) (rawLog string, err error)

// Controller owns a single wallet's sequence state (spec §3 SequenceState).
type Controller struct {
	venue   string
	address string
	querier AccountQuerier

	mu                sync.Mutex
	value             uint64
	lastRefreshedAt   time.Time
	consecutiveErrors int

	inFlight atomic.Bool
}

// New constructs a Controller for one wallet address.
func New(venue, address string, querier AccountQuerier) *Controller {
	return &Controller{venue: venue, address: address, querier: querier}
}

// Value returns the controller's current local sequence value.
func (c *Controller) Value() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Tripped reports whether the circuit breaker has opened (spec §4.4,
// §4.7: ≥3 consecutive errors forces the worker to COOLING).
func (c *Controller) Tripped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveErrors >= tripThreshold
}

// CooldownDuration is the minimum sleep WalletWorker must observe
// after Tripped() becomes true, before re-entering RUNNING.
func CooldownDuration() time.Duration { return cooldownDuration }

// ResetConsecutiveErrors clears the circuit breaker's error count, as
// WalletWorker does when COOLING completes and returns to RUNNING
// (spec §4.7 COOLING state).
func (c *Controller) ResetConsecutiveErrors() {
	c.mu.Lock()
	c.consecutiveErrors = 0
	c.mu.Unlock()
}

// Refresh queries the authoritative sequence and adopts it. If not
// forced and the last refresh was recent, it is a no-op. Query
// failures leave state unchanged (spec §4.4).
func (c *Controller) Refresh(ctx context.Context, force bool) error {
	c.mu.Lock()
	if !force && time.Since(c.lastRefreshedAt) < refreshMinInterval {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	authoritative, err := c.querier.QueryAccountSequence(ctx, c.address)
	if err != nil {
		return errs.New(c.venue, errs.CodeTransient, errs.WithMessage("refresh sequence"), errs.WithCause(err))
	}

	c.mu.Lock()
	c.value = authoritative
	c.lastRefreshedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// DriftResult reports the outcome of a drift check.
type DriftResult struct {
	Drifted       bool
	Authoritative uint64
	Previous      uint64
}

// CheckDrift compares the local value against the chain's
// authoritative sequence, overwriting local state when the
// discrepancy exceeds the threshold (spec §4.4, §8 invariant 8).
func (c *Controller) CheckDrift(ctx context.Context) (DriftResult, error) {
	authoritative, err := c.querier.QueryAccountSequence(ctx, c.address)
	if err != nil {
		return DriftResult{}, errs.New(c.venue, errs.CodeTransient, errs.WithMessage("check drift"), errs.WithCause(err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	previous := c.value
	delta := int64(authoritative) - int64(previous)
	if delta < 0 {
		delta = -delta
	}
	if delta <= driftThreshold {
		return DriftResult{Drifted: false, Authoritative: authoritative, Previous: previous}, nil
	}
	c.value = authoritative
	return DriftResult{Drifted: true, Authoritative: authoritative, Previous: previous}, nil
}

// WithSequence acquires the exclusive lease, invokes fn once at the
// current sequence value, and updates state from the result. Two
// concurrent calls are an internal invariant violation, not a
// queueing opportunity — the worker's own serialization is supposed
// to make this unreachable (spec §4.4, §8 invariant 2).
func (c *Controller) WithSequence(ctx context.Context, fn BroadcastFunc) (Outcome, time.Duration, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return OutcomeFatal, 0, errs.Invariant("concurrent withSequence lease for wallet " + c.address)
	}
	defer c.inFlight.Store(false)

	c.mu.Lock()
	seq := c.value
	c.mu.Unlock()

	rawLog, err := fn(ctx, seq)
	if err == nil {
		c.mu.Lock()
		c.value = seq + 1
		c.consecutiveErrors = 0
		c.mu.Unlock()
		return OutcomeSuccess, 0, nil
	}

	classified := errs.ClassifyBroadcastError(c.venue, rawLog)
	c.mu.Lock()
	c.consecutiveErrors++
	c.mu.Unlock()

	switch classified.Canonical {
	case errs.CanonicalSequenceMismatch:
		_ = c.Refresh(ctx, true)
		return OutcomeRetryable, fixedWait(sequenceMismatchWait), classified
	case errs.CanonicalTimeoutHeight:
		return OutcomeRetryable, fixedWait(timeoutHeightWait), classified
	default:
		return OutcomeRetryable, 0, classified
	}
}

// fixedWait drives a constant-duration backoff.BackOff once, matching
// the teacher's NextBackOff-driven reconnect loop but configured for
// a single fixed delay rather than exponential growth.
func fixedWait(d time.Duration) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d
	b.MaxInterval = d
	b.Multiplier = 1
	b.RandomizationFactor = 0
	wait := b.NextBackOff()
	if wait <= 0 {
		return d
	}
	return wait
}
