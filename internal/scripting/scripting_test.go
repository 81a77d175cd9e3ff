package scripting

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSpreadMultiplierEmptyScriptIsNoop(t *testing.T) {
	e := New()
	m, err := e.SpreadMultiplier("", Inputs{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected multiplier 1, got %s", m)
	}
}

func TestSpreadMultiplierClampsHigh(t *testing.T) {
	e := New()
	m, err := e.SpreadMultiplier("100", Inputs{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Equal(decimal.NewFromFloat(MaxMultiplier)) {
		t.Fatalf("expected clamp to %v, got %s", MaxMultiplier, m)
	}
}

func TestSpreadMultiplierClampsLow(t *testing.T) {
	e := New()
	m, err := e.SpreadMultiplier("-5", Inputs{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Equal(decimal.NewFromFloat(MinMultiplier)) {
		t.Fatalf("expected clamp to %v, got %s", MinMultiplier, m)
	}
}

func TestSpreadMultiplierUsesBoundGlobals(t *testing.T) {
	e := New()
	script := "gap > 50 ? 2 : (near < total ? 1.5 : 1)"
	m, err := e.SpreadMultiplier(script, Inputs{Gap: decimal.NewFromInt(10), Near: 1, Total: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("expected 1.5, got %s", m)
	}
}

func TestSpreadMultiplierCachesCompiledProgram(t *testing.T) {
	e := New()
	script := "phase == 'BUILD' ? 1.2 : 1"
	if _, err := e.SpreadMultiplier(script, Inputs{Phase: "BUILD"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.cache) != 1 {
		t.Fatalf("expected 1 cached program, got %d", len(e.cache))
	}
	if _, err := e.SpreadMultiplier(script, Inputs{Phase: "MAINTAIN"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.cache) != 1 {
		t.Fatalf("expected cache reuse, got %d entries", len(e.cache))
	}
}

func TestSpreadMultiplierInvalidScriptErrors(t *testing.T) {
	e := New()
	if _, err := e.SpreadMultiplier("this is not valid js {{{", Inputs{}); err == nil {
		t.Fatal("expected compile error")
	}
}
