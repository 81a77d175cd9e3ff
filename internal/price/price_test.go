package price

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftnine/marketkeeper/internal/domain"
)

type fakeSource struct {
	calls int
	price domain.Price
	err   error
}

func (f *fakeSource) QueryMid(ctx context.Context, marketID []byte) (domain.Price, error) {
	f.calls++
	return f.price, f.err
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMainnetMidCachesWithinInterval(t *testing.T) {
	src := &fakeSource{price: domain.Available(dec("24.5"))}
	o := New(src, &fakeSource{}).WithRefreshInterval(time.Minute)
	market := domain.Market{MainnetMarketID: []byte("m1")}

	p1 := o.MainnetMid(context.Background(), market)
	p2 := o.MainnetMid(context.Background(), market)

	if src.calls != 1 {
		t.Fatalf("expected one underlying call, got %d", src.calls)
	}
	if !p1.Available || !p2.Available || !p1.Value.Equal(p2.Value) {
		t.Fatalf("expected consistent cached price, got %+v %+v", p1, p2)
	}
}

func TestMainnetMidReturnsUnavailableOnErrorAfterStale(t *testing.T) {
	src := &fakeSource{err: errors.New("rpc down")}
	o := New(src, &fakeSource{}).WithRefreshInterval(time.Millisecond)
	market := domain.Market{MainnetMarketID: []byte("m1")}

	p := o.MainnetMid(context.Background(), market)
	if p.Available {
		t.Fatalf("expected unavailable price on fetch error with no prior cache")
	}
}

func TestResolveMidPrefersLastTradeWithinTolerance(t *testing.T) {
	p := ResolveMid(dec("10"), dec("10.2"), true, true, dec("10.15"), true)
	if !p.Available || !p.Value.Equal(dec("10.15")) {
		t.Fatalf("expected last trade price, got %+v", p)
	}
}

func TestResolveMidFallsBackToBookMidWhenTradeTooFar(t *testing.T) {
	p := ResolveMid(dec("10"), dec("10.2"), true, true, dec("20"), true)
	if !p.Available || !p.Value.Equal(dec("10.1")) {
		t.Fatalf("expected book mid fallback, got %+v", p)
	}
}

func TestResolveMidUnavailableWithoutBothSides(t *testing.T) {
	p := ResolveMid(dec("10"), dec("10.2"), true, false, decimal.Zero, false)
	if p.Available {
		t.Fatalf("expected unavailable without both sides of book")
	}
}
