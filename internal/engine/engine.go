// Package engine runs the trading cycle: fetch candles, annotate, signal,
// execute, monitor, sleep, repeat.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/taggaverse/ai-trading-agent/internal/exchange"
	"github.com/taggaverse/ai-trading-agent/internal/ledger"
	"github.com/taggaverse/ai-trading-agent/internal/market"
	"github.com/taggaverse/ai-trading-agent/internal/metrics"
	"github.com/taggaverse/ai-trading-agent/internal/payment"
	"github.com/taggaverse/ai-trading-agent/internal/risk"
	"github.com/taggaverse/ai-trading-agent/internal/strategy"
)

// ErrGateDenied ends the loop: the compute gate refused to pay for another
// cycle.
var ErrGateDenied = errors.New("compute gate denied cycle")

// Stage labels the phase a cycle is in; used for error context and metrics.
type Stage string

const (
	StageFetching   Stage = "fetching_data"
	StageAnnotating Stage = "annotating"
	StageSignaling  Stage = "signaling"
	StageExecuting  Stage = "executing"
	StageMonitoring Stage = "monitoring"
)

// Options collects the engine's tunables.
type Options struct {
	Symbols       []string
	Timeframe     string
	CandleLimit   int
	QuoteAsset    string
	CycleInterval time.Duration
	CostPerCycle  float64
	FastWindow    int
	SlowWindow    int
	RSIWindow     int
}

// Engine owns one ledger and drives it from signals. Symbols are processed
// sequentially in configuration order; the ledger's own locking covers any
// caller that deviates from that.
type Engine struct {
	opts    Options
	marketD exchange.MarketData
	broker  exchange.Broker
	gate    payment.Gate
	strat   *strategy.Crossover
	ledger  *ledger.Ledger
	monitor *risk.Monitor
	limits  risk.Limits
	log     zerolog.Logger
}

// New wires an engine. The ledger is instance-owned and shared by reference
// with the risk monitor; there is no ambient state.
func New(opts Options, md exchange.MarketData, broker exchange.Broker, gate payment.Gate,
	strat *strategy.Crossover, limits risk.Limits, log zerolog.Logger) *Engine {
	if opts.Timeframe == "" {
		opts.Timeframe = "1h"
	}
	if opts.CandleLimit <= 0 {
		opts.CandleLimit = 100
	}
	if opts.QuoteAsset == "" {
		opts.QuoteAsset = "USDT"
	}
	if opts.CycleInterval <= 0 {
		opts.CycleInterval = time.Minute
	}
	if opts.FastWindow <= 0 {
		opts.FastWindow = 20
	}
	if opts.SlowWindow <= 0 {
		opts.SlowWindow = 50
	}
	if opts.RSIWindow <= 0 {
		opts.RSIWindow = 14
	}
	book := ledger.New()
	return &Engine{
		opts:    opts,
		marketD: md,
		broker:  broker,
		gate:    gate,
		strat:   strat,
		ledger:  book,
		monitor: risk.NewMonitor(book, md, log),
		limits:  limits,
		log:     log,
	}
}

// Ledger exposes the engine's position book for inspection.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Run loops until the context is canceled or the gate denies a cycle. A
// failed cycle is reported and retried after the normal delay; the loop
// itself never dies on one bad cycle. Cancellation is honored between
// cycles, never mid-cycle, so in-flight orders complete and stay tracked.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.CycleInterval)
	defer ticker.Stop()

	for {
		if err := e.Cycle(ctx); err != nil {
			if errors.Is(err, ErrGateDenied) {
				e.log.Error().Err(err).Msg("halting trading loop")
				return err
			}
			e.log.Error().Err(err).Msg("cycle failed, retrying after delay")
		}
		select {
		case <-ctx.Done():
			e.log.Info().Msg("stop requested, exiting loop")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cycle runs exactly one pass over all symbols plus a risk sweep. Exposed so
// tests can step the state machine without wall-clock sleeps.
func (e *Engine) Cycle(ctx context.Context) error {
	authorized, err := e.gate.AuthorizeComputeCycle(ctx, e.opts.CostPerCycle)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGateDenied, err)
	}
	if !authorized {
		return ErrGateDenied
	}

	for _, symbol := range e.opts.Symbols {
		if err := e.processSymbol(ctx, symbol); err != nil {
			// symbol-scoped failure: report and move on
			e.log.Error().Err(err).Str("symbol", symbol).Msg("symbol skipped this cycle")
		}
	}

	for _, trigger := range e.monitor.Sweep(ctx) {
		metrics.SignalsTotal.WithLabelValues(trigger.Symbol, trigger.Signal.Action.String()).Inc()
		if err := e.exitLong(ctx, trigger.Symbol, string(trigger.Kind)); err != nil {
			metrics.CycleErrors.WithLabelValues(string(StageMonitoring)).Inc()
			e.log.Error().Err(err).Str("symbol", trigger.Symbol).Str("stage", string(StageMonitoring)).Msg("forced exit failed")
		}
	}

	metrics.CyclesTotal.Inc()
	return nil
}

func (e *Engine) processSymbol(ctx context.Context, symbol string) error {
	series, err := e.marketD.FetchCandles(ctx, symbol, e.opts.Timeframe, e.opts.CandleLimit)
	if err != nil {
		metrics.CycleErrors.WithLabelValues(string(StageFetching)).Inc()
		return fmt.Errorf("%s: %w", StageFetching, err)
	}
	if len(series) < 2 {
		e.log.Debug().Str("symbol", symbol).Int("candles", len(series)).Msg("not enough data, skipping")
		return nil
	}

	annotated := market.Annotate(series, e.opts.FastWindow, e.opts.SlowWindow, e.opts.RSIWindow)

	prev, last := annotated[len(annotated)-2], annotated[len(annotated)-1]
	sig := e.strat.Evaluate(prev, last, len(annotated))
	metrics.SignalsTotal.WithLabelValues(symbol, sig.Action.String()).Inc()

	switch sig.Action {
	case strategy.ActionEnterLong:
		if err := e.enterLong(ctx, symbol, sig); err != nil {
			metrics.CycleErrors.WithLabelValues(string(StageExecuting)).Inc()
			return fmt.Errorf("%s: %w", StageExecuting, err)
		}
	case strategy.ActionExitLong:
		if _, open := e.ledger.Get(symbol); !open {
			// bearish cross with nothing held is a no-op
			return nil
		}
		if err := e.exitLong(ctx, symbol, "signal"); err != nil {
			metrics.CycleErrors.WithLabelValues(string(StageExecuting)).Inc()
			return fmt.Errorf("%s: %w", StageExecuting, err)
		}
	}
	return nil
}

// enterLong sizes, buys, and only then records the position: an order
// failure must never leave a phantom entry in the ledger.
func (e *Engine) enterLong(ctx context.Context, symbol string, sig strategy.Signal) error {
	if _, open := e.ledger.Get(symbol); open {
		e.log.Debug().Str("symbol", symbol).Msg("entry signal while position open, ignoring")
		return nil
	}
	balance, err := e.broker.FetchAvailableBalance(ctx, e.opts.QuoteAsset)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}
	price, err := e.marketD.FetchCurrentPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetch entry price: %w", err)
	}
	size := e.limits.PositionSize(balance, price)
	if size <= 0 {
		e.log.Warn().Str("symbol", symbol).Float64("balance", balance).Msg("entry sized to zero, skipping")
		return nil
	}

	fill, err := e.broker.PlaceMarketBuy(ctx, symbol, size, e.limits.Leverage)
	if err != nil {
		return fmt.Errorf("place buy: %w", err)
	}

	pos := ledger.Position{
		Symbol:     symbol,
		Side:       ledger.Long,
		EntryPrice: fill.Price,
		Size:       fill.Size,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		OpenedAt:   time.Now().UTC(),
	}
	if err := e.ledger.Open(pos); err != nil {
		// consistency violation: the fill happened but cannot be tracked
		var dup ledger.DuplicatePositionError
		if errors.As(err, &dup) {
			e.log.Error().Err(err).Str("symbol", symbol).Msg("duplicate open dropped")
			return nil
		}
		return err
	}
	e.log.Info().Str("symbol", symbol).Float64("entry", fill.Price).Float64("size", fill.Size).
		Float64("stop_loss", pos.StopLoss).Float64("take_profit", pos.TakeProfit).Msg("opened long position")
	return nil
}

// exitLong is the single execution path for both generator-driven and
// risk-forced exits.
func (e *Engine) exitLong(ctx context.Context, symbol, reason string) error {
	pos, open := e.ledger.Get(symbol)
	if !open {
		return nil
	}
	fill, err := e.broker.PlaceMarketSell(ctx, symbol, pos.Size)
	if err != nil {
		return fmt.Errorf("place sell: %w", err)
	}
	closed, err := e.ledger.Close(symbol)
	if err != nil {
		var missing ledger.NoPositionError
		if errors.As(err, &missing) {
			e.log.Error().Err(err).Str("symbol", symbol).Msg("close without tracked position dropped")
			return nil
		}
		return err
	}
	pnl := closed.RealizedPnLPct(fill.Price)
	e.log.Info().Str("symbol", symbol).Str("reason", reason).Float64("exit", fill.Price).
		Float64("pnl_pct", pnl*100).Msg("closed position")
	return nil
}
