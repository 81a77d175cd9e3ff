package planner

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/driftnine/marketkeeper/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func baseParams() domain.MarketParams {
	return domain.MarketParams{BaseOrderSize: dec("15")}
}

func TestPlanIdleWhenMainnetUnavailable(t *testing.T) {
	p := New(42)
	plan := p.Plan(Inputs{Sample: domain.PriceSample{MainnetMid: domain.Unavailable()}})
	if plan.Phase != domain.PhaseIdle {
		t.Fatalf("expected IDLE, got %s", plan.Phase)
	}
}

func TestPlanBuildScenarioS1(t *testing.T) {
	p := New(42)
	in := Inputs{
		Sample: domain.PriceSample{
			MainnetMid: domain.Available(dec("24.5623")),
			TestnetMid: domain.Unavailable(),
		},
		Snapshot: domain.OrderbookSnapshot{TotalOrders: 0, OrdersNearMid: 0},
		Params:   baseParams(),
	}
	plan := p.Plan(in)
	if plan.Phase != domain.PhaseBuild {
		t.Fatalf("expected BUILD, got %s", plan.Phase)
	}
	if len(plan.Creates) != buildCreates {
		t.Fatalf("expected %d creates, got %d", buildCreates, len(plan.Creates))
	}
	if len(plan.Cancels) != 0 {
		t.Fatalf("expected 0 cancels, got %d", len(plan.Cancels))
	}
}

func TestPlanMoveScenarioS3DirectionInvariant(t *testing.T) {
	p := New(42)
	own := make([]domain.OpenOrder, 0, 12)
	for i := 0; i < 12; i++ {
		own = append(own, domain.OpenOrder{OrderHash: fmt.Sprintf("own-%d", i), Side: domain.SideSell, Price: dec("25").Add(decimal.NewFromInt(int64(i))), Quantity: dec("15")})
	}
	in := Inputs{
		Sample: domain.PriceSample{
			MainnetMid: domain.Available(dec("24.5623")),
			TestnetMid: domain.Available(dec("20.00")),
		},
		Snapshot:  domain.OrderbookSnapshot{TotalOrders: 50, OrdersNearMid: 30},
		OwnOrders: own,
		Params:    baseParams(),
	}
	plan := p.Plan(in)
	if plan.Phase != domain.PhaseMove {
		t.Fatalf("expected MOVE, got %s", plan.Phase)
	}
	for _, c := range plan.Creates {
		if c.Side != domain.SideBuy {
			t.Fatalf("expected all BUY creates when testnet < mainnet, got %s", c.Side)
		}
	}
	if len(plan.Creates) < 6 || len(plan.Creates) > 10 {
		t.Fatalf("expected 6-10 creates, got %d", len(plan.Creates))
	}
	if len(plan.Cancels) < 8 || len(plan.Cancels) > 12 {
		t.Fatalf("expected 8-12 cancels, got %d", len(plan.Cancels))
	}
}

func TestPlanMoveSellDirectionWhenTestnetAboveMainnet(t *testing.T) {
	p := New(42)
	in := Inputs{
		Sample: domain.PriceSample{
			MainnetMid: domain.Available(dec("20.00")),
			TestnetMid: domain.Available(dec("24.5623")),
		},
		Snapshot: domain.OrderbookSnapshot{TotalOrders: 50, OrdersNearMid: 30},
		Params:   baseParams(),
	}
	plan := p.Plan(in)
	for _, c := range plan.Creates {
		if c.Side != domain.SideSell {
			t.Fatalf("expected all SELL creates when testnet > mainnet, got %s", c.Side)
		}
	}
}

func TestPlanBuildScenarioS2LowNearCount(t *testing.T) {
	p := New(42)
	in := Inputs{
		Sample: domain.PriceSample{
			MainnetMid: domain.Available(dec("24.5623")),
			TestnetMid: domain.Available(dec("22.1043")),
		},
		Snapshot: domain.OrderbookSnapshot{TotalOrders: 78, OrdersNearMid: 12},
		Params:   baseParams(),
	}
	plan := p.Plan(in)
	if plan.Phase != domain.PhaseBuild {
		t.Fatalf("expected BUILD because near<20, got %s", plan.Phase)
	}
	if len(plan.Creates) != buildCreates || len(plan.Cancels) != 0 {
		t.Fatalf("expected 28 creates 0 cancels, got %d/%d", len(plan.Creates), len(plan.Cancels))
	}
}

func TestPlanMaintainScenarioS4(t *testing.T) {
	p := New(42)
	in := Inputs{
		Sample: domain.PriceSample{
			MainnetMid: domain.Available(dec("24.5623")),
			TestnetMid: domain.Available(dec("24.57")),
		},
		Snapshot: domain.OrderbookSnapshot{TotalOrders: 120, OrdersNearMid: 80},
		Params:   baseParams(),
	}
	plan := p.Plan(in)
	if plan.Phase != domain.PhaseMaintain {
		t.Fatalf("expected MAINTAIN, got %s", plan.Phase)
	}
	if len(plan.Creates) < 10 || len(plan.Creates) > 16 {
		t.Fatalf("expected 10-16 creates, got %d", len(plan.Creates))
	}
	if len(plan.Cancels) < 0 || len(plan.Cancels) > 6 {
		t.Fatalf("expected up to 6 cancels, got %d", len(plan.Cancels))
	}
}

func TestPlanDeterministicForSameSeed(t *testing.T) {
	in := Inputs{
		Sample: domain.PriceSample{
			MainnetMid: domain.Available(dec("24.5623")),
			TestnetMid: domain.Unavailable(),
		},
		Snapshot: domain.OrderbookSnapshot{},
		Params:   baseParams(),
	}
	p1 := New(42)
	p2 := New(42)
	plan1 := p1.Plan(in)
	plan2 := p2.Plan(in)
	if len(plan1.Creates) != len(plan2.Creates) {
		t.Fatalf("expected deterministic create count")
	}
	for i := range plan1.Creates {
		if !plan1.Creates[i].PriceHuman.Equal(plan2.Creates[i].PriceHuman) {
			t.Fatalf("expected identical prices for same seed at index %d: %s vs %s", i, plan1.Creates[i].PriceHuman, plan2.Creates[i].PriceHuman)
		}
	}
}

func TestCapByMaxOpenOrdersTruncates(t *testing.T) {
	creates := make([]domain.CreateIntent, 28)
	capped := capByMaxOpenOrders(creates, 20, 25)
	if len(capped) != 5 {
		t.Fatalf("expected cap to 5 remaining slots, got %d", len(capped))
	}
}
