package main

import (
	"context"
	"errors"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/taggaverse/ai-trading-agent/internal/config"
	"github.com/taggaverse/ai-trading-agent/internal/engine"
	"github.com/taggaverse/ai-trading-agent/internal/exchange"
	"github.com/taggaverse/ai-trading-agent/internal/metrics"
	"github.com/taggaverse/ai-trading-agent/internal/payment"
	"github.com/taggaverse/ai-trading-agent/internal/risk"
	"github.com/taggaverse/ai-trading-agent/internal/strategy"
	"github.com/taggaverse/ai-trading-agent/internal/util"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(getEnv("AGENT_CONFIG", "internal/config/config.yaml"))
	if err != nil {
		errLog := util.NewLogger("error", true)
		errLog.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel, cfg.App.LogConsole)

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var (
		marketData exchange.MarketData
		broker     exchange.Broker
	)
	switch cfg.Exchange.Venue {
	case "binance":
		venue := exchange.NewBinance(
			getEnv("EXCHANGE_API_KEY", cfg.Exchange.APIKey),
			getEnv("EXCHANGE_SECRET", cfg.Exchange.APISecret),
			cfg.Exchange.Testnet,
			log,
		)
		go func() {
			if err := venue.StreamPrices(ctx, cfg.Exchange.Symbols); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("price stream stopped")
			}
		}()
		marketData, broker = venue, venue
	default:
		var recorder exchange.FillRecorder
		if cfg.Paper.FillsPath != "" {
			r, err := exchange.NewJSONLRecorder(cfg.Paper.FillsPath)
			if err != nil {
				log.Fatal().Err(err).Msg("open fill recorder")
			}
			defer r.Close()
			recorder = r
		}
		venue := exchange.NewPaper(exchange.PaperOptions{
			StartingCash: cfg.Paper.StartingCash,
			SlippageBps:  cfg.Paper.SlippageBps,
			StartPrice:   cfg.Paper.StartPrice,
			Drift:        cfg.Paper.Drift,
			Recorder:     recorder,
		}, log)
		marketData, broker = venue, venue
	}

	var gate payment.Gate = payment.NopGate{}
	if cfg.Payment.Enabled {
		wallet, err := payment.LoadWalletFromEnv()
		if err != nil {
			log.Fatal().Err(err).Msg("load payment wallet")
		}
		gate, err = payment.NewX402Handler(
			cfg.Payment.FacilitatorURL,
			cfg.Payment.RPCURL,
			cfg.Payment.Treasury,
			wallet,
			cfg.Payment.Commitment,
			log,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("init payment gate")
		}
	}

	eng := engine.New(
		engine.Options{
			Symbols:       cfg.Exchange.Symbols,
			Timeframe:     cfg.Exchange.Timeframe,
			CandleLimit:   cfg.Exchange.CandleLimit,
			QuoteAsset:    cfg.Engine.QuoteAsset,
			CycleInterval: time.Duration(cfg.Engine.CycleIntervalSecs) * time.Second,
			CostPerCycle:  cfg.Payment.CostPerCycle,
			FastWindow:    cfg.Strategy.FastWindow,
			SlowWindow:    cfg.Strategy.SlowWindow,
			RSIWindow:     cfg.Strategy.RSIWindow,
		},
		marketData,
		broker,
		gate,
		strategy.NewCrossover(cfg.Strategy.MinCandles, cfg.Strategy.StopLossPct, cfg.Strategy.TakeProfitPct),
		risk.Limits{RiskPercentage: cfg.Risk.RiskPercentage, Leverage: cfg.Risk.Leverage},
		log,
	)

	log.Info().Str("venue", cfg.Exchange.Venue).Strs("symbols", cfg.Exchange.Symbols).Msg("trading agent started")
	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("trading loop ended")
		os.Exit(1)
	}
	log.Info().Msg("shutdown complete")
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
