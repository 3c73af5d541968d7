package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrun/baseline-trader/internal/candle"
	"github.com/coinrun/baseline-trader/internal/order"
)

func simCandle(low, high, close float64) candle.Candle {
	return candle.Candle{
		Timestamp:   time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		Open:        close,
		High:        high,
		Low:         low,
		Close:       close,
		Volume:      1,
		Symbol:      "BTC/USD",
		Granularity: "1h",
		Source:      "sim",
	}
}

func TestSimAdapter_LimitFills(t *testing.T) {
	ctx := context.Background()

	t.Run("Buy fills when low reaches limit", func(t *testing.T) {
		s := NewSimAdapter(0.001, map[string]float64{"USD": 1000})
		id, err := s.SubmitOrder(ctx, order.Order{Symbol: "BTC/USD", Side: order.Buy, Kind: order.Entry, Price: 100, Size: 1})
		require.NoError(t, err)

		s.SetCandle(simCandle(101, 105, 104))
		fill, err := s.GetOrderStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, order.Pending, fill.Status)

		s.SetCandle(simCandle(99, 102, 101))
		fill, err = s.GetOrderStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, order.Filled, fill.Status)
		assert.Equal(t, 100.0, fill.Price)
	})

	t.Run("Sell fills when high reaches limit", func(t *testing.T) {
		s := NewSimAdapter(0, map[string]float64{"BTC": 1})
		id, err := s.SubmitOrder(ctx, order.Order{Symbol: "BTC/USD", Side: order.Sell, Kind: order.Exit, Price: 110, Size: 1})
		require.NoError(t, err)

		s.SetCandle(simCandle(100, 109, 105))
		fill, _ := s.GetOrderStatus(ctx, id)
		assert.Equal(t, order.Pending, fill.Status)

		s.SetCandle(simCandle(105, 111, 108))
		fill, _ = s.GetOrderStatus(ctx, id)
		assert.Equal(t, order.Filled, fill.Status)
		assert.Equal(t, 110.0, fill.Price)
	})

	t.Run("Stop-loss sell fills when low reaches limit", func(t *testing.T) {
		s := NewSimAdapter(0, map[string]float64{"BTC": 1})
		id, err := s.SubmitOrder(ctx, order.Order{Symbol: "BTC/USD", Side: order.Sell, Kind: order.StopLoss, Price: 95, Size: 1})
		require.NoError(t, err)

		s.SetCandle(simCandle(96, 100, 98))
		fill, _ := s.GetOrderStatus(ctx, id)
		assert.Equal(t, order.Pending, fill.Status)

		s.SetCandle(simCandle(94, 97, 95))
		fill, _ = s.GetOrderStatus(ctx, id)
		assert.Equal(t, order.Filled, fill.Status)
		assert.Equal(t, 95.0, fill.Price)
	})

	t.Run("Market order fills at close", func(t *testing.T) {
		s := NewSimAdapter(0, map[string]float64{"BTC": 1})
		id, err := s.SubmitOrder(ctx, order.Order{Symbol: "BTC/USD", Side: order.Sell, Kind: order.Exit, Price: 0, Size: 1})
		require.NoError(t, err)
		s.SetCandle(simCandle(100, 105, 103))
		fill, _ := s.GetOrderStatus(ctx, id)
		assert.Equal(t, order.Filled, fill.Status)
		assert.Equal(t, 103.0, fill.Price)
	})
}

func TestSimAdapter_SuppressFills(t *testing.T) {
	ctx := context.Background()
	s := NewSimAdapter(0, map[string]float64{"USD": 1000})
	id, err := s.SubmitOrder(ctx, order.Order{Symbol: "BTC/USD", Side: order.Buy, Kind: order.Entry, Price: 100, Size: 1})
	require.NoError(t, err)

	s.SuppressFills(2)
	s.SetCandle(simCandle(99, 102, 101))
	fill, _ := s.GetOrderStatus(ctx, id)
	assert.Equal(t, order.Pending, fill.Status)

	s.SetCandle(simCandle(99, 102, 101))
	fill, _ = s.GetOrderStatus(ctx, id)
	assert.Equal(t, order.Pending, fill.Status)

	s.SetCandle(simCandle(99, 102, 101))
	fill, _ = s.GetOrderStatus(ctx, id)
	assert.Equal(t, order.Filled, fill.Status)
}

func TestSimAdapter_Settlement(t *testing.T) {
	ctx := context.Background()
	s := NewSimAdapter(0.01, map[string]float64{"USD": 1000, "BTC": 0})

	id, err := s.SubmitOrder(ctx, order.Order{Symbol: "BTC/USD", Side: order.Buy, Kind: order.Entry, Price: 100, Size: 10})
	require.NoError(t, err)
	s.SetCandle(simCandle(99, 102, 101))
	_, err = s.GetOrderStatus(ctx, id)
	require.NoError(t, err)

	balances, err := s.FetchBalances(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, balances["USD"].Total, 1e-9)
	assert.InDelta(t, 9.9, balances["BTC"].Total, 1e-9) // 10 minus 1% fee

	// settlement happens once, repeated polls do not double-spend
	_, err = s.GetOrderStatus(ctx, id)
	require.NoError(t, err)
	balances, _ = s.FetchBalances(ctx)
	assert.InDelta(t, 9.9, balances["BTC"].Total, 1e-9)
}

func TestSimAdapter_Cancel(t *testing.T) {
	ctx := context.Background()
	s := NewSimAdapter(0, map[string]float64{"USD": 1000})
	id, err := s.SubmitOrder(ctx, order.Order{Symbol: "BTC/USD", Side: order.Buy, Kind: order.Entry, Price: 100, Size: 1})
	require.NoError(t, err)

	require.NoError(t, s.CancelOrder(ctx, id))
	fill, err := s.GetOrderStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, order.Cancelled, fill.Status)

	assert.Error(t, s.CancelOrder(ctx, "missing"))
}

func TestSplitSymbol(t *testing.T) {
	base, quote := SplitSymbol("BTC/USD")
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USD", quote)

	base, quote = SplitSymbol("ETH-USDT")
	assert.Equal(t, "ETH", base)
	assert.Equal(t, "USDT", quote)
}
