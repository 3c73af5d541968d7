package position

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrun/baseline-trader/internal/baseline"
	"github.com/coinrun/baseline-trader/internal/candle"
	"github.com/coinrun/baseline-trader/internal/exchange"
	"github.com/coinrun/baseline-trader/internal/order"
	"github.com/coinrun/baseline-trader/internal/strategy"
)

type harness struct {
	adapter   *exchange.SimAdapter
	lifecycle *order.LifecycleManager
	tracker   *baseline.Tracker
	clock     *order.SimClock
	mgr       *Manager
	t         time.Time
}

func newHarness(t *testing.T, feeRate, lossTolerance float64, maxRetries int) *harness {
	t.Helper()
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	h := &harness{
		adapter: exchange.NewSimAdapter(feeRate, map[string]float64{"USD": 1000, "BTC": 0}),
		tracker: baseline.New(0, 1000, lossTolerance),
		clock:   order.NewSimClock(start),
		t:       start,
	}
	h.mgr = NewManager(
		Config{Symbol: "BTC/USD", FeeRate: feeRate, MaxEntryRetries: maxRetries},
		nil, h.tracker, h.clock, nil, nil,
	)
	h.lifecycle = order.NewLifecycleManager(h.adapter, h.clock, order.CounterIDs(), 5*time.Minute, h.mgr)
	h.mgr.Bind(h.lifecycle)
	h.mgr.Seed(1000, 0)
	return h
}

// step advances one candle: install it, poll orders, refresh last price.
func (h *harness) step(t *testing.T, low, high, close float64) {
	t.Helper()
	h.t = h.t.Add(time.Minute)
	c := candle.Candle{
		Timestamp:   h.t,
		Open:        close,
		High:        high,
		Low:         low,
		Close:       close,
		Volume:      1,
		Symbol:      "BTC/USD",
		Granularity: "1m",
		Source:      "sim",
	}
	h.clock.Set(h.t)
	h.adapter.SetCandle(c)
	require.NoError(t, h.lifecycle.PollAll(context.Background()))
	h.mgr.OnCandle(close)
}

func buySignal(price, slPct, tpPct float64) strategy.Signal {
	return strategy.Signal{Action: strategy.Buy, TriggerPrice: price, StopLossPct: slPct, TakeProfitPct: tpPct}
}

func sellSignal(price float64) strategy.Signal {
	return strategy.Signal{Action: strategy.Sell, TriggerPrice: price}
}

func TestManager_FullCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, 0, 0)

	h.step(t, 99, 101, 100)
	require.NoError(t, h.mgr.OnSignal(ctx, buySignal(100, 0, 0)))
	assert.Equal(t, Entering, h.mgr.Snapshot().State)

	// entry fills when the next candle reaches the limit
	h.step(t, 99, 101, 100)
	snap := h.mgr.Snapshot()
	assert.Equal(t, Holding, snap.State)
	assert.InDelta(t, 0.0, snap.Currency, 1e-9)
	assert.InDelta(t, 10.0, snap.Size, 1e-9)

	// sell above entry
	require.NoError(t, h.mgr.OnSignal(ctx, sellSignal(110)))
	assert.Equal(t, Exiting, h.mgr.Snapshot().State)
	h.step(t, 105, 111, 108)

	snap = h.mgr.Snapshot()
	assert.Equal(t, Flat, snap.State)
	assert.InDelta(t, 1100.0, snap.Currency, 1e-9)
	assert.InDelta(t, 0.0, snap.Asset, 1e-9)

	trades := h.mgr.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "sell", trades[0].ExitReason)
	assert.InDelta(t, 100.0, trades[0].PnL, 1e-9)

	// floors ratcheted to the realized amounts
	floors := h.tracker.Floors()
	assert.InDelta(t, 10.0, floors.AssetFloor, 1e-9)
	assert.InDelta(t, 1100.0, floors.CurrencyFloor, 1e-9)
}

func TestManager_BuyVeto(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, 0, 0)

	// complete one cycle to raise the asset floor to 10 BTC
	h.step(t, 99, 101, 100)
	require.NoError(t, h.mgr.OnSignal(ctx, buySignal(100, 0, 0)))
	h.step(t, 99, 101, 100)
	require.NoError(t, h.mgr.OnSignal(ctx, sellSignal(110)))
	h.step(t, 105, 111, 108)
	require.Equal(t, Flat, h.mgr.Snapshot().State)

	// 1100 USD at price 115 buys only ~9.56 BTC, below the 10 BTC floor
	require.NoError(t, h.mgr.OnSignal(ctx, buySignal(115, 0, 0)))
	assert.Equal(t, Flat, h.mgr.Snapshot().State)
	assert.Empty(t, h.lifecycle.Pending())

	// at price 105 it buys ~10.47 BTC, above the floor
	require.NoError(t, h.mgr.OnSignal(ctx, buySignal(105, 0, 0)))
	assert.Equal(t, Entering, h.mgr.Snapshot().State)
}

func TestManager_SellVeto(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, 0, 0)

	// currency floor seeded at 1000: selling 10 BTC below 100 is vetoed
	h.step(t, 99, 101, 100)
	require.NoError(t, h.mgr.OnSignal(ctx, buySignal(100, 0, 0)))
	h.step(t, 99, 101, 100)
	require.Equal(t, Holding, h.mgr.Snapshot().State)

	require.NoError(t, h.mgr.OnSignal(ctx, sellSignal(95)))
	assert.Equal(t, Holding, h.mgr.Snapshot().State)

	require.NoError(t, h.mgr.OnSignal(ctx, sellSignal(101)))
	assert.Equal(t, Exiting, h.mgr.Snapshot().State)
}

func TestManager_LossToleranceAllowsSmallLoss(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, 0.10, 0)

	h.step(t, 99, 101, 100)
	require.NoError(t, h.mgr.OnSignal(ctx, buySignal(100, 0, 0)))
	h.step(t, 99, 101, 100)

	// floor 1000, tolerance 10%: anything above 900 clears
	require.NoError(t, h.mgr.OnSignal(ctx, sellSignal(95)))
	assert.Equal(t, Exiting, h.mgr.Snapshot().State)
	h.step(t, 90, 96, 93)

	snap := h.mgr.Snapshot()
	assert.Equal(t, Flat, snap.State)
	assert.InDelta(t, 950.0, snap.Currency, 1e-9)
	// losing exit does not move the floor down
	assert.InDelta(t, 1000.0, h.tracker.Floors().CurrencyFloor, 1e-9)
}

func TestManager_BracketStopLossFirst(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, 0.50, 0)

	h.step(t, 99, 101, 100)
	require.NoError(t, h.mgr.OnSignal(ctx, buySignal(100, 2, 5)))
	h.step(t, 99, 101, 100) // entry fills, legs armed at 98 and 105
	require.Equal(t, Holding, h.mgr.Snapshot().State)
	require.Len(t, h.lifecycle.Pending(), 2)

	// one candle breaches both legs: stop-loss wins the tie
	h.step(t, 97, 106, 100)

	snap := h.mgr.Snapshot()
	assert.Equal(t, Flat, snap.State)
	trades := h.mgr.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "stop-loss", trades[0].ExitReason)
	assert.InDelta(t, 98.0, trades[0].ExitPrice, 1e-9)
	assert.Empty(t, h.lifecycle.Pending())
}

func TestManager_BracketTakeProfit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, 0, 0)

	h.step(t, 99, 101, 100)
	require.NoError(t, h.mgr.OnSignal(ctx, buySignal(100, 2, 5)))
	h.step(t, 99, 101, 100)
	require.Equal(t, Holding, h.mgr.Snapshot().State)

	h.step(t, 103, 106, 105)

	trades := h.mgr.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "take-profit", trades[0].ExitReason)
	assert.InDelta(t, 105.0, trades[0].ExitPrice, 1e-9)
	assert.Equal(t, Flat, h.mgr.Snapshot().State)
	assert.Empty(t, h.lifecycle.Pending())
}

func TestManager_EntryTimeoutRetryThenAbandon(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, 0, 1)

	h.step(t, 99, 101, 100)
	require.NoError(t, h.mgr.OnSignal(ctx, buySignal(100, 0, 0)))

	// price runs away, the entry can never fill
	for i := 0; i < 6; i++ {
		h.step(t, 110, 115, 112)
	}
	// first timeout fired, one retry placed at the refreshed price 112
	pending := h.lifecycle.Pending()
	require.Len(t, pending, 1)
	assert.InDelta(t, 112.0, pending[0].Price, 1e-9)
	assert.Equal(t, Entering, h.mgr.Snapshot().State)

	// the retry times out too and retries are exhausted
	for i := 0; i < 6; i++ {
		h.step(t, 120, 125, 122)
	}
	snap := h.mgr.Snapshot()
	assert.Equal(t, Flat, snap.State)
	assert.InDelta(t, 1000.0, snap.Currency, 1e-9)
	assert.Empty(t, h.lifecycle.Pending())
	assert.Empty(t, h.mgr.Trades())
}

func TestManager_ExitTimeoutForcesMarketExit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, 0.50, 0)

	h.step(t, 99, 101, 100)
	require.NoError(t, h.mgr.OnSignal(ctx, buySignal(100, 0, 0)))
	h.step(t, 99, 101, 100)
	require.Equal(t, Holding, h.mgr.Snapshot().State)

	// exit limit way above the market never fills
	require.NoError(t, h.mgr.OnSignal(ctx, sellSignal(200)))
	for i := 0; i < 6; i++ {
		h.step(t, 99, 101, 100)
	}

	// the timeout escalated to a market exit that filled at the close
	snap := h.mgr.Snapshot()
	assert.Equal(t, Flat, snap.State)
	trades := h.mgr.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "forced", trades[0].ExitReason)
	assert.InDelta(t, 100.0, trades[0].ExitPrice, 1e-9)
}

func TestManager_BalanceConservation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0.001, 0.50, 0)

	prices := []struct{ low, high, close float64 }{
		{99, 101, 100}, {99, 101, 100}, {101, 104, 103},
		{103, 107, 106}, {104, 108, 105}, {100, 106, 101},
	}
	h.step(t, 99, 101, 100)
	require.NoError(t, h.mgr.OnSignal(ctx, buySignal(100, 2, 5)))
	for _, p := range prices {
		h.step(t, p.low, p.high, p.close)
	}
	if h.mgr.Snapshot().State == Holding {
		require.NoError(t, h.mgr.OnSignal(ctx, sellSignal(101)))
		h.step(t, 100, 102, 101)
	}

	// manager book matches the venue book exactly
	balances, err := h.adapter.FetchBalances(ctx)
	require.NoError(t, err)
	snap := h.mgr.Snapshot()
	assert.InDelta(t, balances["USD"].Total, snap.Currency, 1e-9)
	assert.InDelta(t, balances["BTC"].Total, snap.Asset, 1e-9)
}

func TestManager_Flatten(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, 0.99, 0)

	h.step(t, 99, 101, 100)
	require.NoError(t, h.mgr.OnSignal(ctx, buySignal(100, 0, 0)))
	h.step(t, 99, 101, 100)
	require.Equal(t, Holding, h.mgr.Snapshot().State)

	require.NoError(t, h.mgr.Flatten(ctx))
	h.step(t, 90, 95, 92)

	snap := h.mgr.Snapshot()
	assert.Equal(t, Flat, snap.State)
	trades := h.mgr.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "flatten", trades[0].ExitReason)

	// flatten while flat is a no-op
	require.NoError(t, h.mgr.Flatten(ctx))
	assert.Len(t, h.mgr.Trades(), 1)
}
