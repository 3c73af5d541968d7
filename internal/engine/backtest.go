// Package engine
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/coinrun/baseline-trader/internal/baseline"
	"github.com/coinrun/baseline-trader/internal/candle"
	"github.com/coinrun/baseline-trader/internal/db"
	"github.com/coinrun/baseline-trader/internal/exchange"
	"github.com/coinrun/baseline-trader/internal/feed"
	"github.com/coinrun/baseline-trader/internal/journal"
	"github.com/coinrun/baseline-trader/internal/order"
	"github.com/coinrun/baseline-trader/internal/position"
	"github.com/coinrun/baseline-trader/internal/strategy"
	"github.com/coinrun/baseline-trader/internal/utils"
)

// ErrBalanceMismatch indicates the internal book diverged from the
// venue beyond tolerance.
var ErrBalanceMismatch = errors.New("balance mismatch with venue")

// ErrFeeMismatch indicates the configured fee rate does not match what
// the venue advertises.
var ErrFeeMismatch = errors.New("configured fee rate does not match venue")

// Config holds the parameters shared by all execution contexts.
type Config struct {
	InstanceID       string
	Symbol           string
	Granularity      string
	FeeRate          float64
	LossTolerance    float64
	StartingCurrency float64
	StartingAsset    float64
	OrderTimeout     time.Duration
	MaxEntryRetries  int
	WindowSize       int
}

// Result is the outcome of a backtest run.
type Result struct {
	StartTime     time.Time        `json:"start_time"`
	EndTime       time.Time        `json:"end_time"`
	FinalCurrency float64          `json:"final_currency"`
	FinalAsset    float64          `json:"final_asset"`
	FinalEquity   float64          `json:"final_equity"`
	Trades        []position.Trade `json:"trades"`
	EquityCurve   []float64        `json:"equity_curve"`
	MaxDrawdown   float64          `json:"max_drawdown"`
	APY           float64          `json:"apy"`
	WinningTrades int              `json:"winning_trades"`
	LosingTrades  int              `json:"losing_trades"`
	TotalFees     float64          `json:"total_fees"`
	LongestIdle   int              `json:"longest_idle"` // candles spent flat
	Floors        baseline.Floors  `json:"floors"`
}

// validateFeeRate aborts before the first trade when the configured fee
// disagrees with what the venue advertises.
func validateFeeRate(configured, advertised float64) error {
	if math.Abs(configured-advertised) > 1e-9 {
		return fmt.Errorf("%w: configured %.6f, venue %.6f", ErrFeeMismatch, configured, advertised)
	}
	return nil
}

// RunBacktest replays a finite candle series through the full trading
// stack. Same candles, strategy, and config produce an identical trade
// ledger and final balance: the clock is driven by candle timestamps
// and order IDs come from a deterministic counter.
func RunBacktest(ctx context.Context, cfg Config, candles []candle.Candle, strat strategy.Strategy, storage db.Storage) (*Result, error) {
	sliceFeed, err := feed.NewSliceFeed(candles, cfg.Granularity)
	if err != nil {
		return nil, err
	}
	if sliceFeed.Len() == 0 {
		return nil, errors.New("backtest needs at least one candle")
	}

	adapter := exchange.NewSimAdapter(cfg.FeeRate, startingBalances(cfg))
	if err := validateFeeRate(cfg.FeeRate, adapter.FeeRate()); err != nil {
		return nil, err
	}

	clock := order.NewSimClock(candles[0].Timestamp)
	tracker := baseline.New(cfg.StartingAsset, cfg.StartingCurrency, cfg.LossTolerance)

	var jr journal.Journaler
	if storage != nil {
		jr = storage
	}
	mgr := position.NewManager(
		position.Config{Symbol: cfg.Symbol, FeeRate: cfg.FeeRate, MaxEntryRetries: cfg.MaxEntryRetries},
		nil, tracker, clock, jr,
		func(tr position.Trade) {
			if storage != nil {
				if err := storage.SaveTrade(ctx, cfg.InstanceID, tr); err != nil {
					utils.GetLogger().Printf("Engine | saving trade: %v", err)
				}
			}
		},
	)
	lifecycle := order.NewLifecycleManager(adapter, clock, order.CounterIDs(), cfg.OrderTimeout, mgr)
	mgr.Bind(lifecycle)
	mgr.Seed(cfg.StartingCurrency, cfg.StartingAsset)

	windowSize := cfg.WindowSize
	if windowSize <= 0 {
		windowSize = strat.WarmupPeriod() * 4
	}
	window := candle.NewWindow(windowSize)

	initialEquity := cfg.StartingCurrency + cfg.StartingAsset*candles[0].Open
	result := &Result{
		StartTime:   candles[0].Timestamp,
		EndTime:     candles[len(candles)-1].Timestamp,
		EquityCurve: make([]float64, 0, sliceFeed.Len()),
	}

	idle := 0
	for {
		c, ok := sliceFeed.Next()
		if !ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		clock.Set(c.Timestamp)
		adapter.SetCandle(c)
		if err := lifecycle.PollAll(ctx); err != nil {
			return nil, fmt.Errorf("polling orders: %w", err)
		}
		window.Append(c)
		mgr.OnCandle(c.Close)

		sig, err := strat.OnCandles(ctx, window.Snapshot(), mgr.StrategyView())
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", strat.Name(), err)
		}
		if err := mgr.OnSignal(ctx, sig); err != nil {
			return nil, err
		}

		snap := mgr.Snapshot()
		result.EquityCurve = append(result.EquityCurve, snap.Currency+snap.Asset*c.Close)

		if snap.State == position.Flat {
			idle++
			if idle > result.LongestIdle {
				result.LongestIdle = idle
			}
		} else {
			idle = 0
		}
	}

	snap := mgr.Snapshot()
	result.FinalCurrency = snap.Currency
	result.FinalAsset = snap.Asset
	result.FinalEquity = result.EquityCurve[len(result.EquityCurve)-1]
	result.Trades = mgr.Trades()
	result.Floors = snap.Floors
	fillTradeStats(result)
	result.MaxDrawdown = maxDrawdown(result.EquityCurve)
	result.APY = annualizedReturn(initialEquity, result.FinalEquity, result.EndTime.Sub(result.StartTime))

	utils.GetLogger().Printf("Engine | backtest %s done: %d trades, equity %.2f -> %.2f, apy %.2f%%",
		cfg.Symbol, len(result.Trades), initialEquity, result.FinalEquity, result.APY*100)
	return result, nil
}

func startingBalances(cfg Config) map[string]float64 {
	base, quote := exchange.SplitSymbol(cfg.Symbol)
	return map[string]float64{
		base:  cfg.StartingAsset,
		quote: cfg.StartingCurrency,
	}
}

func fillTradeStats(r *Result) {
	for _, tr := range r.Trades {
		r.TotalFees += tr.Fees
		if tr.PnL > 0 {
			r.WinningTrades++
		} else {
			r.LosingTrades++
		}
	}
}

func maxDrawdown(equity []float64) float64 {
	peak := math.Inf(-1)
	maxDD := 0.0
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			dd := (peak - e) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func annualizedReturn(initial, final float64, elapsed time.Duration) float64 {
	if initial <= 0 || final <= 0 || elapsed <= 0 {
		return 0
	}
	years := elapsed.Hours() / (24 * 365)
	if years <= 0 {
		return 0
	}
	return math.Pow(final/initial, 1/years) - 1
}
