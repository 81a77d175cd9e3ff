// Package throttle bounds how often a wallet may broadcast, as a pure
// rate limit with no notion of position or PnL. It is adapted from
// the teacher's internal/risk.Manager, which combined an order-rate
// limiter with position/notional risk checks; this repo's spec
// excludes portfolio risk as a non-goal, so only the rate-limiting
// half survives, repurposed for broadcast pacing.
package throttle

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle wraps a token-bucket limiter for one wallet's broadcasts.
type Throttle struct {
	limiter *rate.Limiter
}

// New constructs a Throttle allowing up to ratePerSecond broadcasts
// per second, with a burst of burst.
func New(ratePerSecond float64, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Wait blocks until a broadcast slot is available or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// Allow reports whether a broadcast may proceed immediately, without
// blocking, and takes a token from the bucket when it may.
func (t *Throttle) Allow() bool {
	return t.limiter.Allow()
}
