package exchange

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/taggaverse/ai-trading-agent/internal/market"
	"github.com/taggaverse/ai-trading-agent/internal/metrics"
)

const epsilon = 1e-9

// FillRecorder captures confirmed fills for later inspection.
type FillRecorder interface {
	Record(Fill)
}

// PaperOptions tunes the offline venue.
type PaperOptions struct {
	StartingCash float64
	SlippageBps  float64
	StartPrice   float64
	Drift        float64 // per-candle close increment of the synthetic walk
	Recorder     FillRecorder
}

// Paper is a fully offline venue: it synthesizes a deterministic candle walk
// per symbol and settles market orders against a virtual cash balance. It
// implements both MarketData and Broker.
type Paper struct {
	mu          sync.Mutex
	log         zerolog.Logger
	cash        float64
	slippageBps float64
	startPrice  float64
	drift       float64
	recorder    FillRecorder
	holdings    map[string]float64 // symbol -> size
	steps       map[string]int     // symbol -> how far the walk has advanced
	lastClose   map[string]float64 // symbol -> most recently emitted close
	now         func() time.Time
}

// NewPaper builds the offline venue. Zero options take usable defaults.
func NewPaper(opts PaperOptions, log zerolog.Logger) *Paper {
	if opts.StartingCash <= 0 {
		opts.StartingCash = 10_000
	}
	if opts.StartPrice <= 0 {
		opts.StartPrice = 100
	}
	if opts.Drift == 0 {
		opts.Drift = 0.1
	}
	return &Paper{
		log:         log,
		cash:        opts.StartingCash,
		slippageBps: math.Max(0, opts.SlippageBps),
		startPrice:  opts.StartPrice,
		drift:       opts.Drift,
		recorder:    opts.Recorder,
		holdings:    make(map[string]float64),
		steps:       make(map[string]int),
		lastClose:   make(map[string]float64),
		now:         time.Now,
	}
}

// FetchCandles extends the symbol's synthetic walk by one step per call and
// returns the trailing limit candles. The walk is deterministic: close
// advances by a fixed drift each candle.
func (p *Paper) FetchCandles(_ context.Context, symbol, timeframe string, limit int) (market.Series, error) {
	if limit <= 0 {
		return nil, nil
	}
	interval := parseTimeframe(timeframe)

	p.mu.Lock()
	p.steps[symbol]++
	step := p.steps[symbol]
	p.mu.Unlock()

	end := step + limit
	series := make(market.Series, 0, limit)
	start := p.now().Truncate(interval).Add(-time.Duration(limit) * interval)
	for i := step; i < end; i++ {
		closePx := p.startPrice + float64(i)*p.drift
		openPx := closePx - p.drift
		series = append(series, market.Candle{
			OpenTime: start.Add(time.Duration(i-step) * interval),
			Open:     openPx,
			High:     math.Max(openPx, closePx) * 1.001,
			Low:      math.Min(openPx, closePx) * 0.999,
			Close:    closePx,
			Volume:   1_000,
		})
	}
	p.mu.Lock()
	p.lastClose[symbol] = series[len(series)-1].Close
	p.mu.Unlock()
	return series, nil
}

// FetchCurrentPrice returns the most recently emitted close for the symbol.
func (p *Paper) FetchCurrentPrice(_ context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if px, ok := p.lastClose[symbol]; ok {
		return px, nil
	}
	return p.startPrice, nil
}

// FetchAvailableBalance reports free virtual cash; the asset is nominal.
func (p *Paper) FetchAvailableBalance(_ context.Context, _ string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash, nil
}

// PlaceMarketBuy settles a buy at the current synthetic price plus slippage.
func (p *Paper) PlaceMarketBuy(ctx context.Context, symbol string, size, _ float64) (Fill, error) {
	if size <= 0 {
		return Fill{}, errors.New("size must be positive")
	}
	price, _ := p.FetchCurrentPrice(ctx, symbol)
	price *= 1 + p.slippageBps/10_000

	p.mu.Lock()
	notional := size * price
	if notional > p.cash+epsilon {
		p.mu.Unlock()
		return Fill{}, errors.New("insufficient cash for buy")
	}
	p.cash -= notional
	p.holdings[symbol] += size
	p.mu.Unlock()

	return p.confirm(symbol, Buy, size, price), nil
}

// PlaceMarketSell settles a sell at the current synthetic price minus
// slippage.
func (p *Paper) PlaceMarketSell(ctx context.Context, symbol string, size float64) (Fill, error) {
	if size <= 0 {
		return Fill{}, errors.New("size must be positive")
	}
	price, _ := p.FetchCurrentPrice(ctx, symbol)
	price *= 1 - p.slippageBps/10_000

	p.mu.Lock()
	if p.holdings[symbol]+epsilon < size {
		p.mu.Unlock()
		return Fill{}, errors.New("insufficient position to sell")
	}
	p.holdings[symbol] -= size
	if p.holdings[symbol] <= epsilon {
		delete(p.holdings, symbol)
	}
	p.cash += size * price
	p.mu.Unlock()

	return p.confirm(symbol, Sell, size, price), nil
}

func (p *Paper) confirm(symbol string, side Side, size, price float64) Fill {
	fill := Fill{Symbol: symbol, Side: side, Size: size, Price: price, Ts: p.now()}
	metrics.OrdersTotal.WithLabelValues(symbol, string(side)).Inc()
	if p.recorder != nil {
		p.recorder.Record(fill)
	}
	p.log.Debug().Str("symbol", symbol).Str("side", string(side)).Float64("size", size).Float64("price", price).Msg("paper fill")
	return fill
}

func parseTimeframe(tf string) time.Duration {
	switch tf {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Hour
	}
}
