package strategy

import "github.com/taggaverse/ai-trading-agent/internal/market"

// Crossover signals long entries when the fast SMA crosses above the slow
// SMA and exits when it crosses back below. Stop and take-profit bands are
// fixed fractions of the entry close; that is the strategy, not a tuning
// afterthought.
type Crossover struct {
	minCandles    int
	stopLossPct   float64
	takeProfitPct float64
}

// NewCrossover builds the crossover generator. Non-positive arguments take
// the defaults the strategy was designed around (50 candles, 2% stop,
// 3% take-profit).
func NewCrossover(minCandles int, stopLossPct, takeProfitPct float64) *Crossover {
	if minCandles <= 0 {
		minCandles = 50
	}
	if stopLossPct <= 0 {
		stopLossPct = 0.02
	}
	if takeProfitPct <= 0 {
		takeProfitPct = 0.03
	}
	return &Crossover{
		minCandles:    minCandles,
		stopLossPct:   stopLossPct,
		takeProfitPct: takeProfitPct,
	}
}

// Name returns the configured identifier for logging.
func (c *Crossover) Name() string { return "SMACrossover" }

// MinCandles reports how much history an evaluation needs.
func (c *Crossover) MinCandles() int { return c.minCandles }

// Evaluate compares the two most recent annotated candles and classifies
// exactly one signal. total is the full series length; with fewer than
// MinCandles samples, or any undefined indicator, the answer is None —
// undefined values are never compared. The inclusive comparison on the
// previous bar makes the two crossover directions mutually exclusive for a
// single evaluation.
//
// An exit is emitted on a bearish cross whether or not a position is open;
// the caller treats exit-while-flat as a no-op.
func (c *Crossover) Evaluate(prev, last market.AnnotatedCandle, total int) Signal {
	if total < c.minCandles {
		return None
	}
	if !prev.SMAFast.Valid || !prev.SMASlow.Valid || !last.SMAFast.Valid || !last.SMASlow.Valid {
		return None
	}

	switch {
	case prev.SMAFast.Value <= prev.SMASlow.Value && last.SMAFast.Value > last.SMASlow.Value:
		return Signal{
			Action:     ActionEnterLong,
			StopLoss:   last.Close * (1 - c.stopLossPct),
			TakeProfit: last.Close * (1 + c.takeProfitPct),
		}
	case prev.SMAFast.Value >= prev.SMASlow.Value && last.SMAFast.Value < last.SMASlow.Value:
		return Signal{Action: ActionExitLong}
	default:
		return None
	}
}
