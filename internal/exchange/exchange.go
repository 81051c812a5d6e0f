// Package exchange defines the collaborator contracts the trading core
// consumes, plus the venues that implement them. Every call takes a context
// and is expected to respect its deadline; the core never waits on a venue
// without a bound.
package exchange

import (
	"context"
	"time"

	"github.com/taggaverse/ai-trading-agent/internal/market"
)

// MarketData supplies candles and live prices.
type MarketData interface {
	// FetchCandles returns up to limit candles for symbol at the given
	// timeframe, ascending by open time. An empty series is a valid
	// "no data" answer; callers skip the symbol for the cycle.
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) (market.Series, error)
	// FetchCurrentPrice returns the latest traded/mark price for symbol.
	FetchCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// Broker places orders and reports balances.
type Broker interface {
	FetchAvailableBalance(ctx context.Context, asset string) (float64, error)
	PlaceMarketBuy(ctx context.Context, symbol string, size, leverage float64) (Fill, error)
	PlaceMarketSell(ctx context.Context, symbol string, size float64) (Fill, error)
}

// Fill is the confirmed result of an order placement.
type Fill struct {
	Symbol string    `json:"symbol"`
	Side   Side      `json:"side"`
	Size   float64   `json:"size"`
	Price  float64   `json:"price"`
	Ts     time.Time `json:"ts"`
}

// Side enumerates order directions.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)
