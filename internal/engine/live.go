package engine

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coinrun/baseline-trader/internal/baseline"
	"github.com/coinrun/baseline-trader/internal/candle"
	"github.com/coinrun/baseline-trader/internal/db"
	"github.com/coinrun/baseline-trader/internal/exchange"
	"github.com/coinrun/baseline-trader/internal/feed"
	"github.com/coinrun/baseline-trader/internal/journal"
	"github.com/coinrun/baseline-trader/internal/notifier"
	"github.com/coinrun/baseline-trader/internal/order"
	"github.com/coinrun/baseline-trader/internal/position"
	"github.com/coinrun/baseline-trader/internal/strategy"
	"github.com/coinrun/baseline-trader/internal/utils"
)

// LiveConfig extends Config with the live-loop cadences.
type LiveConfig struct {
	Config
	EvalInterval     time.Duration
	PollInterval     time.Duration
	BalanceTolerance float64
}

// LiveEngine runs the trading loop against a real or simulated venue.
// Three activities cooperate: the candle listener (single writer of the
// window), the fixed-cadence evaluator, and the order-status poller.
// A feed gap pauses the evaluator; a balance mismatch beyond tolerance
// blocks new entries but never touches an open position. Cancellation
// stops the loops and leaves positions untouched.
type LiveEngine struct {
	cfg      LiveConfig
	adapter  exchange.Adapter
	feed     *feed.ExchangeFeed
	strat    strategy.Strategy
	storage  db.Storage
	notifier notifier.Notifier

	lifecycle *order.LifecycleManager
	mgr       *position.Manager
	tracker   *baseline.Tracker
	window    *candle.Window

	entriesBlocked atomic.Bool
}

func NewLive(cfg LiveConfig, adapter exchange.Adapter, f *feed.ExchangeFeed, strat strategy.Strategy, storage db.Storage, n notifier.Notifier) *LiveEngine {
	if cfg.EvalInterval <= 0 {
		cfg.EvalInterval = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BalanceTolerance <= 0 {
		cfg.BalanceTolerance = 1e-6
	}
	if n == nil {
		n = notifier.Noop{}
	}

	windowSize := cfg.WindowSize
	if windowSize <= 0 {
		windowSize = strat.WarmupPeriod() * 4
	}

	e := &LiveEngine{
		cfg:      cfg,
		adapter:  adapter,
		feed:     f,
		strat:    strat,
		storage:  storage,
		notifier: n,
		tracker:  baseline.New(cfg.StartingAsset, cfg.StartingCurrency, cfg.LossTolerance),
		window:   candle.NewWindow(windowSize),
	}

	var jr journal.Journaler
	if storage != nil {
		jr = storage
	}
	clock := order.WallClock{}
	e.mgr = position.NewManager(
		position.Config{Symbol: cfg.Symbol, FeeRate: cfg.FeeRate, MaxEntryRetries: cfg.MaxEntryRetries},
		nil, e.tracker, clock, jr,
		func(tr position.Trade) {
			msg := fmt.Sprintf("[%s] %s exit @ %.8f, pnl %.8f", cfg.Symbol, tr.ExitReason, tr.ExitPrice, tr.PnL)
			if err := e.notifier.SendWithRetry(msg); err != nil {
				utils.GetLogger().Printf("Engine | trade notification: %v", err)
			}
			if storage != nil {
				if err := storage.SaveTrade(context.Background(), cfg.InstanceID, tr); err != nil {
					utils.GetLogger().Printf("Engine | saving trade: %v", err)
				}
			}
		},
	)
	e.lifecycle = order.NewLifecycleManager(adapter, clock, order.UUIDs(), cfg.OrderTimeout, e.mgr)
	e.mgr.Bind(e.lifecycle)
	e.mgr.Seed(cfg.StartingCurrency, cfg.StartingAsset)
	return e
}

// Run blocks until the context is cancelled or a loop fails. Shutdown
// never flattens the position.
func (e *LiveEngine) Run(ctx context.Context) error {
	if err := validateFeeRate(e.cfg.FeeRate, e.adapter.FeeRate()); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.feed.Run(ctx)
	})

	g.Go(func() error {
		return e.listen(ctx)
	})

	g.Go(func() error {
		return e.evaluate(ctx)
	})

	g.Go(func() error {
		return e.pollOrders(ctx)
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// listen is the single writer of the candle window.
func (e *LiveEngine) listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-e.feed.Candles():
			if !ok {
				return nil
			}
			// paper trading drives the simulated venue with live candles
			if sim, ok := e.adapter.(interface{ SetCandle(candle.Candle) }); ok {
				sim.SetCandle(c)
			}
			e.window.Append(c)
			e.mgr.OnCandle(c.Close)
			if e.storage != nil {
				if err := e.storage.SaveCandles(ctx, []candle.Candle{c}); err != nil {
					utils.GetLogger().Printf("Engine | saving candle: %v", err)
				}
			}
		}
	}
}

// evaluate runs the strategy at a fixed cadence.
func (e *LiveEngine) evaluate(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.EvalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		// a gapped feed means the window may be stale
		if !e.feed.Synced() {
			utils.GetLogger().Printf("Engine | [%s] feed out of sync, evaluation paused", e.cfg.Symbol)
			continue
		}
		if e.window.Len() == 0 {
			continue
		}

		if err := e.checkBalances(ctx); err != nil {
			utils.GetLogger().Printf("Engine | [%s] %v", e.cfg.Symbol, err)
		}

		sig, err := e.strat.OnCandles(ctx, e.window.Snapshot(), e.mgr.StrategyView())
		if err != nil {
			utils.GetLogger().Printf("Engine | strategy %s: %v", e.strat.Name(), err)
			continue
		}
		if sig.Action == strategy.Buy && e.entriesBlocked.Load() {
			utils.GetLogger().Printf("Engine | [%s] entry suppressed: %v", e.cfg.Symbol, ErrBalanceMismatch)
			continue
		}
		if err := e.mgr.OnSignal(ctx, sig); err != nil {
			utils.GetLogger().Printf("Engine | [%s] signal: %v", e.cfg.Symbol, err)
		}
	}
}

// checkBalances compares the internal book with the venue. A mismatch
// beyond tolerance blocks new entries until it clears.
func (e *LiveEngine) checkBalances(ctx context.Context) error {
	venueBalances, err := e.adapter.FetchBalances(ctx)
	if err != nil {
		return fmt.Errorf("fetching balances: %w", err)
	}
	base, quote := exchange.SplitSymbol(e.cfg.Symbol)
	snap := e.mgr.Snapshot()

	currencyDiff := math.Abs(venueBalances[quote].Total - snap.Currency)
	assetDiff := math.Abs(venueBalances[base].Total - snap.Asset)
	if currencyDiff > e.cfg.BalanceTolerance || assetDiff > e.cfg.BalanceTolerance {
		if e.entriesBlocked.CompareAndSwap(false, true) {
			msg := fmt.Sprintf("[%s] balance mismatch: book %.8f/%.8f venue %.8f/%.8f, new entries blocked",
				e.cfg.Symbol, snap.Currency, snap.Asset, venueBalances[quote].Total, venueBalances[base].Total)
			if nerr := e.notifier.SendWithRetry(msg); nerr != nil {
				utils.GetLogger().Printf("Engine | mismatch notification: %v", nerr)
			}
		}
		return fmt.Errorf("%w: currency diff %.8f, asset diff %.8f", ErrBalanceMismatch, currencyDiff, assetDiff)
	}
	e.entriesBlocked.Store(false)
	return nil
}

// pollOrders drives order timeouts and fills.
func (e *LiveEngine) pollOrders(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.lifecycle.PollAll(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				utils.GetLogger().Printf("Engine | polling orders: %v", err)
			}
			if e.storage != nil {
				for _, o := range e.lifecycle.Pending() {
					if err := e.storage.SaveOrder(ctx, e.cfg.InstanceID, o); err != nil {
						utils.GetLogger().Printf("Engine | saving order: %v", err)
					}
				}
			}
		}
	}
}

// Flatten closes any open position with a market-style exit. Explicit
// operator action.
func (e *LiveEngine) Flatten(ctx context.Context) error {
	return e.mgr.Flatten(ctx)
}
