// Package config exposes strongly typed application configuration structs
// loaded from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogConsole  bool   `yaml:"log_console"`
}

// Exchange selects the venue and the instruments to trade on it.
type Exchange struct {
	Venue       string   `yaml:"venue"` // "paper" or "binance"
	Symbols     []string `yaml:"symbols"`
	Timeframe   string   `yaml:"timeframe"`
	CandleLimit int      `yaml:"candle_limit"`
	APIKey      string   `yaml:"api_key"`
	APISecret   string   `yaml:"api_secret"`
	Testnet     bool     `yaml:"testnet"`
}

// Strategy groups the crossover generator's tunables.
type Strategy struct {
	FastWindow    int     `yaml:"fast_window"`
	SlowWindow    int     `yaml:"slow_window"`
	RSIWindow     int     `yaml:"rsi_window"`
	MinCandles    int     `yaml:"min_candles"`
	StopLossPct   float64 `yaml:"stop_loss_pct"`
	TakeProfitPct float64 `yaml:"take_profit_pct"`
}

// Risk encodes how much of the balance each entry may deploy.
type Risk struct {
	RiskPercentage float64 `yaml:"risk_percentage"`
	Leverage       float64 `yaml:"leverage"`
}

// Engine controls the cycle loop.
type Engine struct {
	CycleIntervalSecs int    `yaml:"cycle_interval_secs"`
	QuoteAsset        string `yaml:"quote_asset"`
}

// Payment configures the per-cycle compute gate.
type Payment struct {
	Enabled        bool    `yaml:"enabled"`
	FacilitatorURL string  `yaml:"facilitator_url"`
	RPCURL         string  `yaml:"rpc_url"`
	Treasury       string  `yaml:"treasury"`
	CostPerCycle   float64 `yaml:"cost_per_cycle"`
	Commitment     string  `yaml:"commitment"`
}

// Paper configures the offline venue.
type Paper struct {
	StartingCash float64 `yaml:"starting_cash"`
	SlippageBps  float64 `yaml:"slippage_bps"`
	FillsPath    string  `yaml:"fills_path"`
	StartPrice   float64 `yaml:"start_price"`
	Drift        float64 `yaml:"drift"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Exchange Exchange `yaml:"exchange"`
	Strategy Strategy `yaml:"strategy"`
	Risk     Risk     `yaml:"risk"`
	Engine   Engine   `yaml:"engine"`
	Payment  Payment  `yaml:"payment"`
	Paper    Paper    `yaml:"paper"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
