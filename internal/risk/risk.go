// Package risk sizes entries and watches open positions for stop-loss and
// take-profit triggers.
package risk

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/taggaverse/ai-trading-agent/internal/ledger"
	"github.com/taggaverse/ai-trading-agent/internal/strategy"
)

// Limits holds the per-entry sizing knobs.
type Limits struct {
	RiskPercentage float64 // fraction of available balance risked per entry
	Leverage       float64
}

// PositionSize converts available balance into an order size at entryPrice.
func (l Limits) PositionSize(balance, entryPrice float64) float64 {
	if entryPrice <= 0 || balance <= 0 {
		return 0
	}
	return balance * l.RiskPercentage * l.Leverage / entryPrice
}

// TriggerKind names what fired a forced exit.
type TriggerKind string

const (
	TriggerStopLoss   TriggerKind = "stop_loss"
	TriggerTakeProfit TriggerKind = "take_profit"
)

// Trigger is a forced exit for one symbol, routed into the same execution
// path as generator-driven exits.
type Trigger struct {
	Symbol string
	Kind   TriggerKind
	Price  float64
	Signal strategy.Signal
}

// PriceSource supplies a fresh price for a symbol.
type PriceSource interface {
	FetchCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// Monitor sweeps the ledger against live prices.
type Monitor struct {
	ledger *ledger.Ledger
	prices PriceSource
	log    zerolog.Logger
}

// NewMonitor wires a monitor to the position ledger and a price source.
func NewMonitor(l *ledger.Ledger, prices PriceSource, log zerolog.Logger) *Monitor {
	return &Monitor{ledger: l, prices: prices, log: log}
}

// Sweep fetches a current price for every open position and returns the
// triggers that fired. A price failure for one symbol is logged and skipped;
// it never aborts the rest of the sweep. Stop-loss is evaluated first, so it
// wins if both conditions somehow hold in the same tick.
func (m *Monitor) Sweep(ctx context.Context) []Trigger {
	var triggers []Trigger
	for _, symbol := range m.ledger.Symbols() {
		pos, ok := m.ledger.Get(symbol)
		if !ok {
			continue
		}
		price, err := m.prices.FetchCurrentPrice(ctx, symbol)
		if err != nil {
			m.log.Error().Err(err).Str("symbol", symbol).Str("stage", "monitoring").Msg("price fetch failed, skipping symbol")
			continue
		}
		if kind, fired := Check(pos, price); fired {
			m.log.Info().Str("symbol", symbol).Str("trigger", string(kind)).Float64("price", price).Msg("risk trigger")
			triggers = append(triggers, Trigger{
				Symbol: symbol,
				Kind:   kind,
				Price:  price,
				Signal: strategy.Signal{Action: strategy.ActionExitLong},
			})
		}
	}
	return triggers
}

// Check evaluates one position against a current price. Boundaries are
// inclusive on both sides.
func Check(pos ledger.Position, price float64) (TriggerKind, bool) {
	switch pos.Side {
	case ledger.Long:
		if price <= pos.StopLoss {
			return TriggerStopLoss, true
		}
		if price >= pos.TakeProfit {
			return TriggerTakeProfit, true
		}
	case ledger.Short:
		if price >= pos.StopLoss {
			return TriggerStopLoss, true
		}
		if price <= pos.TakeProfit {
			return TriggerTakeProfit, true
		}
	}
	return "", false
}
