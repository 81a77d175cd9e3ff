// Package scripting hosts the optional per-market spread-multiplier
// hook (spec §4.9): a short JS expression, evaluated once per cycle,
// that scales a market's BaseSpreadBps before the planner runs. The
// planner's tier and stage spreads are fixed bands that do not read
// BaseSpreadBps, so the multiplier does not move order prices.
// Grounded on internal/app/lambda/js's goja-hosted strategy runtime
// (instance.go's single-goroutine-per-runtime execution model),
// simplified from a persistent strategy object with an event loop to
// a stateless expression evaluator: there is no lifecycle to
// serialize here, just one compile-and-run per cycle.
package scripting

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/shopspring/decimal"
)

// MinMultiplier and MaxMultiplier bound the multiplier a script can
// return, so a broken or malicious script can only scale the spread
// input within a safe band, never override the planner's tick/
// notional/tier invariants (spec §8 invariants 4-6).
const (
	MinMultiplier = 0.1
	MaxMultiplier = 10.0
)

// Inputs are the globals bound into the script before evaluation.
type Inputs struct {
	Gap   decimal.Decimal // mainnet/testnet mid gap in bps
	Near  int             // orders near the reference price
	Total int             // total open orders on the book
	Phase string          // the planner phase being evaluated for
}

// Evaluator compiles and runs spread scripts, caching compiled
// programs by source text since a market's script is typically
// evaluated every cycle for the lifetime of the process.
type Evaluator struct {
	mu    sync.Mutex
	cache map[string]*goja.Program
}

// New constructs an empty Evaluator.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*goja.Program)}
}

// SpreadMultiplier evaluates script with in bound as globals gap,
// near, total, phase, and returns the clamped numeric result. An
// empty script is a no-op multiplier of 1.
func (e *Evaluator) SpreadMultiplier(script string, in Inputs) (decimal.Decimal, error) {
	script = strings.TrimSpace(script)
	if script == "" {
		return decimal.NewFromInt(1), nil
	}

	prog, err := e.compile(script)
	if err != nil {
		return decimal.Decimal{}, err
	}

	rt := goja.New()
	gap, _ := in.Gap.Float64()
	rt.Set("gap", gap)
	rt.Set("near", in.Near)
	rt.Set("total", in.Total)
	rt.Set("phase", in.Phase)

	val, err := rt.RunProgram(prog)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("spread script: %w", err)
	}
	return clamp(val.ToFloat()), nil
}

func (e *Evaluator) compile(script string) (*goja.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prog, ok := e.cache[script]; ok {
		return prog, nil
	}
	prog, err := goja.Compile("spread-script", script, false)
	if err != nil {
		return nil, fmt.Errorf("compile spread script: %w", err)
	}
	e.cache[script] = prog
	return prog, nil
}

func clamp(multiplier float64) decimal.Decimal {
	switch {
	case multiplier < MinMultiplier:
		multiplier = MinMultiplier
	case multiplier > MaxMultiplier:
		multiplier = MaxMultiplier
	}
	return decimal.NewFromFloat(multiplier)
}
