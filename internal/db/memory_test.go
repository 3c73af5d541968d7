package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrun/baseline-trader/internal/candle"
	"github.com/coinrun/baseline-trader/internal/journal"
	"github.com/coinrun/baseline-trader/internal/order"
	"github.com/coinrun/baseline-trader/internal/position"
)

func TestMemoryStorage_Candles(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	candles := []candle.Candle{
		{Timestamp: start.Add(time.Hour), Open: 101, High: 102, Low: 100, Close: 101, Volume: 1, Symbol: "BTC/USD", Granularity: "1h", Source: "test"},
		{Timestamp: start, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1, Symbol: "BTC/USD", Granularity: "1h", Source: "test"},
	}
	require.NoError(t, m.SaveCandles(ctx, candles))

	got, err := m.GetCandles(ctx, "BTC/USD", "1h", start, start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Timestamp.Before(got[1].Timestamp))

	// duplicates overwrite
	require.NoError(t, m.SaveCandles(ctx, candles[:1]))
	got, _ = m.GetCandles(ctx, "BTC/USD", "1h", start, start.Add(2*time.Hour))
	assert.Len(t, got, 2)

	// invalid candle rejected
	bad := candle.Candle{Timestamp: start, Open: 100, High: 90, Low: 99, Close: 100, Symbol: "BTC/USD", Granularity: "1h"}
	assert.Error(t, m.SaveCandles(ctx, []candle.Candle{bad}))
}

func TestMemoryStorage_Orders(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	o := order.Order{ID: "ord-1", Symbol: "BTC/USD", Side: order.Buy, Kind: order.Entry, Price: 100, Size: 1, Status: order.Pending}
	require.NoError(t, m.SaveOrder(ctx, "inst-a", o))

	o.Status = order.Filled
	o.FilledPrice = 100
	require.NoError(t, m.SaveOrder(ctx, "inst-a", o))

	got, err := m.GetOrders(ctx, "inst-a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, order.Filled, got[0].Status)

	// instances are isolated
	other, _ := m.GetOrders(ctx, "inst-b")
	assert.Empty(t, other)
}

func TestMemoryStorage_TradesAndEvents(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)

	tr := position.Trade{Symbol: "BTC/USD", EntryOrderID: "e1", ExitOrderID: "x1", PnL: 10, ExitTime: now}
	require.NoError(t, m.SaveTrade(ctx, "inst-a", tr))
	trades, err := m.GetTrades(ctx, "inst-a")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 10.0, trades[0].PnL)

	require.NoError(t, m.LogEvent(ctx, journal.Event{Time: now, Type: "trade", Description: "exit"}))
	require.NoError(t, m.LogEvent(ctx, journal.Event{Time: now, Type: "signal", Description: "veto"}))

	events, err := m.GetEvents(ctx, "trade", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "exit", events[0].Description)

	all, _ := m.GetEvents(ctx, "", now.Add(-time.Hour), now.Add(time.Hour))
	assert.Len(t, all, 2)
}
