package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/taggaverse/ai-trading-agent/internal/exchange"
	"github.com/taggaverse/ai-trading-agent/internal/market"
	"github.com/taggaverse/ai-trading-agent/internal/risk"
	"github.com/taggaverse/ai-trading-agent/internal/strategy"
)

type fakeVenue struct {
	series     map[string]market.Series
	seriesErr  map[string]error
	prices     map[string]float64
	balance    float64
	balanceErr error
	buyErr     error
	buys       []exchange.Fill
	sells      []exchange.Fill
}

func (f *fakeVenue) FetchCandles(_ context.Context, symbol, _ string, _ int) (market.Series, error) {
	if err := f.seriesErr[symbol]; err != nil {
		return nil, err
	}
	return f.series[symbol], nil
}

func (f *fakeVenue) FetchCurrentPrice(_ context.Context, symbol string) (float64, error) {
	px, ok := f.prices[symbol]
	if !ok {
		return 0, errors.New("no price")
	}
	return px, nil
}

func (f *fakeVenue) FetchAvailableBalance(context.Context, string) (float64, error) {
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeVenue) PlaceMarketBuy(ctx context.Context, symbol string, size, _ float64) (exchange.Fill, error) {
	if f.buyErr != nil {
		return exchange.Fill{}, f.buyErr
	}
	px, _ := f.FetchCurrentPrice(ctx, symbol)
	fill := exchange.Fill{Symbol: symbol, Side: exchange.Buy, Size: size, Price: px, Ts: time.Now()}
	f.buys = append(f.buys, fill)
	return fill, nil
}

func (f *fakeVenue) PlaceMarketSell(ctx context.Context, symbol string, size float64) (exchange.Fill, error) {
	px, _ := f.FetchCurrentPrice(ctx, symbol)
	fill := exchange.Fill{Symbol: symbol, Side: exchange.Sell, Size: size, Price: px, Ts: time.Now()}
	f.sells = append(f.sells, fill)
	return fill, nil
}

type denyGate struct{}

func (denyGate) AuthorizeComputeCycle(context.Context, float64) (bool, error) { return false, nil }

type allowGate struct{}

func (allowGate) AuthorizeComputeCycle(context.Context, float64) (bool, error) { return true, nil }

// crossSeries returns n flat candles with the final close moved so the fast
// SMA crosses the slow SMA on the last bar: up for a bullish cross, down for
// a bearish one.
func crossSeries(n int, lastClose float64) market.Series {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s := make(market.Series, n)
	for i := range s {
		px := 100.0
		if i == n-1 {
			px = lastClose
		}
		s[i] = market.Candle{OpenTime: start.Add(time.Duration(i) * time.Hour), Open: px, High: px, Low: px, Close: px, Volume: 1}
	}
	return s
}

func newTestEngine(venue *fakeVenue, symbols []string) *Engine {
	return New(
		Options{Symbols: symbols, Timeframe: "1h", CandleLimit: 100, CycleInterval: time.Minute},
		venue, venue, allowGate{},
		strategy.NewCrossover(50, 0.02, 0.03),
		risk.Limits{RiskPercentage: 0.01, Leverage: 10},
		zerolog.Nop(),
	)
}

func TestCycleOpensLongOnBullishCross(t *testing.T) {
	venue := &fakeVenue{
		series:  map[string]market.Series{"BTC/USDT": crossSeries(56, 110)},
		prices:  map[string]float64{"BTC/USDT": 110},
		balance: 1000,
	}
	eng := newTestEngine(venue, []string{"BTC/USDT"})

	if err := eng.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	pos, open := eng.Ledger().Get("BTC/USDT")
	if !open {
		t.Fatalf("expected open position after bullish cross")
	}
	if pos.EntryPrice != 110 {
		t.Fatalf("expected entry at 110, got %.4f", pos.EntryPrice)
	}
	// 1000 * 0.01 * 10 / 110
	if math.Abs(pos.Size-100.0/110.0) > 1e-9 {
		t.Fatalf("unexpected size %.6f", pos.Size)
	}
	if math.Abs(pos.StopLoss-110*0.98) > 1e-9 || math.Abs(pos.TakeProfit-110*1.03) > 1e-9 {
		t.Fatalf("unexpected bands %.4f/%.4f", pos.StopLoss, pos.TakeProfit)
	}
	if len(venue.buys) != 1 {
		t.Fatalf("expected exactly one buy, got %d", len(venue.buys))
	}
}

func TestStopLossClosesPositionNextCycle(t *testing.T) {
	venue := &fakeVenue{
		series:  map[string]market.Series{"BTC/USDT": crossSeries(56, 110)},
		prices:  map[string]float64{"BTC/USDT": 110},
		balance: 1000,
	}
	eng := newTestEngine(venue, []string{"BTC/USDT"})
	ctx := context.Background()

	if err := eng.Cycle(ctx); err != nil {
		t.Fatalf("entry cycle failed: %v", err)
	}
	if _, open := eng.Ledger().Get("BTC/USDT"); !open {
		t.Fatalf("expected open position")
	}

	// price falls to the stop band (110 * 0.98 = 107.8)
	venue.prices["BTC/USDT"] = 107
	if err := eng.Cycle(ctx); err != nil {
		t.Fatalf("monitoring cycle failed: %v", err)
	}
	if _, open := eng.Ledger().Get("BTC/USDT"); open {
		t.Fatalf("expected position closed after stop trigger")
	}
	if len(venue.sells) != 1 {
		t.Fatalf("expected exactly one sell, got %d", len(venue.sells))
	}
	if venue.sells[0].Price != 107 {
		t.Fatalf("expected forced exit at 107, got %.4f", venue.sells[0].Price)
	}
}

func TestGateDenialHaltsRun(t *testing.T) {
	venue := &fakeVenue{balance: 1000}
	eng := New(
		Options{Symbols: []string{"BTC/USDT"}, CycleInterval: time.Millisecond},
		venue, venue, denyGate{},
		strategy.NewCrossover(50, 0.02, 0.03),
		risk.Limits{RiskPercentage: 0.01, Leverage: 10},
		zerolog.Nop(),
	)
	err := eng.Run(context.Background())
	if !errors.Is(err, ErrGateDenied) {
		t.Fatalf("expected ErrGateDenied, got %v", err)
	}
}

func TestRunStopsOnCancellation(t *testing.T) {
	venue := &fakeVenue{
		series:  map[string]market.Series{},
		prices:  map[string]float64{},
		balance: 1000,
	}
	eng := New(
		Options{Symbols: nil, CycleInterval: time.Millisecond},
		venue, venue, allowGate{},
		strategy.NewCrossover(50, 0.02, 0.03),
		risk.Limits{},
		zerolog.Nop(),
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := eng.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCycleIsolatesSymbolFailures(t *testing.T) {
	venue := &fakeVenue{
		series:    map[string]market.Series{"ETH/USDT": crossSeries(56, 110)},
		seriesErr: map[string]error{"BTC/USDT": errors.New("exchange down")},
		prices:    map[string]float64{"ETH/USDT": 110},
		balance:   1000,
	}
	eng := newTestEngine(venue, []string{"BTC/USDT", "ETH/USDT"})

	if err := eng.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle must survive a symbol failure: %v", err)
	}
	if _, open := eng.Ledger().Get("ETH/USDT"); !open {
		t.Fatalf("healthy symbol must still trade")
	}
	if _, open := eng.Ledger().Get("BTC/USDT"); open {
		t.Fatalf("failed symbol must not trade")
	}
}

func TestBearishCrossWhileFlatIsNoOp(t *testing.T) {
	venue := &fakeVenue{
		series:  map[string]market.Series{"BTC/USDT": crossSeries(56, 90)},
		prices:  map[string]float64{"BTC/USDT": 90},
		balance: 1000,
	}
	eng := newTestEngine(venue, []string{"BTC/USDT"})

	if err := eng.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if len(venue.sells) != 0 || len(venue.buys) != 0 {
		t.Fatalf("flat exit must place no orders, got %d buys %d sells", len(venue.buys), len(venue.sells))
	}
}

func TestOrderFailureLeavesLedgerClean(t *testing.T) {
	venue := &fakeVenue{
		series:  map[string]market.Series{"BTC/USDT": crossSeries(56, 110)},
		prices:  map[string]float64{"BTC/USDT": 110},
		balance: 1000,
		buyErr:  errors.New("order rejected"),
	}
	eng := newTestEngine(venue, []string{"BTC/USDT"})

	if err := eng.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle should absorb the symbol-scoped failure: %v", err)
	}
	if eng.Ledger().Len() != 0 {
		t.Fatalf("a failed order must not create a phantom position")
	}
}

func TestShortSeriesIsSkipped(t *testing.T) {
	venue := &fakeVenue{
		series:  map[string]market.Series{"BTC/USDT": crossSeries(49, 110)},
		prices:  map[string]float64{"BTC/USDT": 110},
		balance: 1000,
	}
	eng := newTestEngine(venue, []string{"BTC/USDT"})

	if err := eng.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if eng.Ledger().Len() != 0 || len(venue.buys) != 0 {
		t.Fatalf("49 candles must never open a position")
	}
}
