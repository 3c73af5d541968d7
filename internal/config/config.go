// Package config
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/coinrun/baseline-trader/internal/tfutils"
)

/*
YAML config example:
mode: "backtest"
symbol: "BTC/USDT"
granularity: "1h"
strategy: "momentum"
fee_rate: 0.001
loss_tolerance: 0.02
order_timeout: 5m
max_entry_retries: 2
bracket_stop_loss_pct: 2.0
bracket_take_profit_pct: 5.0
starting_currency: 1000
starting_asset: 0
instance_id: "btc-momentum-1"
db_conn_str: "postgres://..."
*/

// Duration is a time.Duration that unmarshals from YAML strings
// like "5m" or "90s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Mode        string `yaml:"mode"`
	Symbol      string `yaml:"symbol"`
	Granularity string `yaml:"granularity"`
	Strategy    string `yaml:"strategy"`
	InstanceID  string `yaml:"instance_id"`

	FeeRate          float64 `yaml:"fee_rate"`
	LossTolerance    float64 `yaml:"loss_tolerance"`
	StartingCurrency float64 `yaml:"starting_currency"`
	StartingAsset    float64 `yaml:"starting_asset"`

	OrderTimeout         Duration `yaml:"order_timeout"`
	MaxEntryRetries      int      `yaml:"max_entry_retries"`
	BracketStopLossPct   float64  `yaml:"bracket_stop_loss_pct"`
	BracketTakeProfitPct float64  `yaml:"bracket_take_profit_pct"`

	// backtest window
	BacktestFrom time.Time `yaml:"backtest_from"`
	BacktestTo   time.Time `yaml:"backtest_to"`

	// strategy tuning
	MomentumLookback  int     `yaml:"momentum_lookback"`
	MomentumThreshold float64 `yaml:"momentum_threshold"`
	SMAFastPeriod     int     `yaml:"sma_fast_period"`
	SMASlowPeriod     int     `yaml:"sma_slow_period"`
	RSIPeriod         int     `yaml:"rsi_period"`
	RSIOverbought     float64 `yaml:"rsi_overbought"`
	RSIOversold       float64 `yaml:"rsi_oversold"`

	// live loop cadences
	EvalInterval     Duration `yaml:"eval_interval"`
	PollInterval     Duration `yaml:"poll_interval"`
	BalanceTolerance float64  `yaml:"balance_tolerance"`

	FlattenOnExit bool `yaml:"flatten_on_exit"`

	// secrets come from the environment, never from YAML
	WallexAPIKey   string `yaml:"-"`
	DBConnStr      string `yaml:"-"`
	TelegramToken  string `yaml:"-"`
	TelegramChatID string `yaml:"-"`
	CandleCSV      string `yaml:"candle_csv"`
}

// Load reads flags, an optional YAML file, and the environment.
// Precedence: flags < YAML < environment (secrets are env-only).
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("trader", flag.ContinueOnError)

	mode := fs.String("mode", "backtest", "Mode: backtest, paper or live")
	symbol := fs.String("symbol", "BTC/USDT", "Trading symbol (base/quote)")
	granularity := fs.String("granularity", "1h", "Candle granularity (e.g. 1m, 5m, 1h)")
	strategyName := fs.String("strategy", "momentum", "Strategy: momentum, smacross or rsi")
	instanceID := fs.String("instance-id", "default", "Instance identifier for persistence")
	feeRate := fs.Float64("fee-rate", 0.001, "Venue fee rate per fill (e.g. 0.001 for 0.1%)")
	lossTolerance := fs.Float64("loss-tolerance", 0.0, "Baseline loss tolerance fraction (e.g. 0.02 for 2%)")
	startingCurrency := fs.Float64("starting-currency", 1000, "Starting currency balance")
	startingAsset := fs.Float64("starting-asset", 0, "Starting asset balance")
	orderTimeout := fs.Duration("order-timeout", 5*time.Minute, "Pending order timeout")
	maxEntryRetries := fs.Int("max-entry-retries", 2, "Entry re-submissions after a timeout")
	slPct := fs.Float64("bracket-stop-loss-pct", 0, "Bracket stop-loss percent below entry (0 disables)")
	tpPct := fs.Float64("bracket-take-profit-pct", 0, "Bracket take-profit percent above entry (0 disables)")
	from := fs.String("from", "", "Backtest start date (YYYY-MM-DD)")
	to := fs.String("to", "", "Backtest end date (YYYY-MM-DD)")
	candleCSV := fs.String("candle-csv", "", "CSV file with backtest candles")
	flattenOnExit := fs.Bool("flatten-on-exit", false, "Close any open position before exiting")
	configFile := fs.String("config", "", "Path to YAML config file")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:                 *mode,
		Symbol:               *symbol,
		Granularity:          *granularity,
		Strategy:             *strategyName,
		InstanceID:           *instanceID,
		FeeRate:              *feeRate,
		LossTolerance:        *lossTolerance,
		StartingCurrency:     *startingCurrency,
		StartingAsset:        *startingAsset,
		OrderTimeout:         Duration(*orderTimeout),
		MaxEntryRetries:      *maxEntryRetries,
		BracketStopLossPct:   *slPct,
		BracketTakeProfitPct: *tpPct,
		CandleCSV:            *candleCSV,
		FlattenOnExit:        *flattenOnExit,
		MomentumLookback:     10,
		MomentumThreshold:    2.0,
		SMAFastPeriod:        10,
		SMASlowPeriod:        30,
		RSIPeriod:            14,
		RSIOverbought:        70,
		RSIOversold:          30,
	}

	if *from != "" {
		t, err := time.Parse("2006-01-02", *from)
		if err != nil {
			return Config{}, fmt.Errorf("parsing -from: %w", err)
		}
		cfg.BacktestFrom = t
	}
	if *to != "" {
		t, err := time.Parse("2006-01-02", *to)
		if err != nil {
			return Config{}, fmt.Errorf("parsing -to: %w", err)
		}
		cfg.BacktestTo = t
	}

	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// .env is optional, real env vars win
	_ = godotenv.Load()
	cfg.WallexAPIKey = os.Getenv("WALLEX_API_KEY")
	cfg.DBConnStr = os.Getenv("DB_CONN_STR")
	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	cfg.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects a config before any trading starts.
func (c Config) Validate() error {
	switch c.Mode {
	case "backtest", "paper", "live":
	default:
		return fmt.Errorf("invalid mode %q, want backtest, paper or live", c.Mode)
	}
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !tfutils.IsValidGranularity(c.Granularity) {
		return fmt.Errorf("invalid granularity %q", c.Granularity)
	}
	if c.FeeRate < 0 || c.FeeRate >= 1 {
		return fmt.Errorf("fee_rate %v out of range [0,1)", c.FeeRate)
	}
	if c.LossTolerance < 0 || c.LossTolerance >= 1 {
		return fmt.Errorf("loss_tolerance %v out of range [0,1)", c.LossTolerance)
	}
	if c.StartingCurrency < 0 || c.StartingAsset < 0 {
		return fmt.Errorf("starting balances cannot be negative")
	}
	if c.OrderTimeout <= 0 {
		return fmt.Errorf("order_timeout must be positive")
	}
	if c.MaxEntryRetries < 0 {
		return fmt.Errorf("max_entry_retries cannot be negative")
	}
	if c.BracketStopLossPct < 0 || c.BracketStopLossPct >= 100 {
		return fmt.Errorf("bracket_stop_loss_pct %v out of range [0,100)", c.BracketStopLossPct)
	}
	if c.BracketTakeProfitPct < 0 {
		return fmt.Errorf("bracket_take_profit_pct cannot be negative")
	}
	if c.Mode == "live" && c.WallexAPIKey == "" {
		return fmt.Errorf("live mode needs WALLEX_API_KEY in the environment")
	}
	if c.Mode == "backtest" && !c.BacktestFrom.IsZero() && !c.BacktestTo.IsZero() && !c.BacktestTo.After(c.BacktestFrom) {
		return fmt.Errorf("backtest window end must be after start")
	}
	return nil
}
