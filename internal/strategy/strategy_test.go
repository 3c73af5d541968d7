package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrun/baseline-trader/internal/candle"
)

func createCandles(closes []float64) []candle.Candle {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]candle.Candle, len(closes))
	for i, c := range closes {
		candles[i] = candle.Candle{
			Timestamp:   start.Add(time.Duration(i) * time.Hour),
			Open:        c,
			High:        c * 1.01,
			Low:         c * 0.99,
			Close:       c,
			Volume:      1,
			Symbol:      "BTC/USD",
			Granularity: "1h",
			Source:      "test",
		}
	}
	return candles
}

func TestMomentumStrategy_OnCandles(t *testing.T) {
	ctx := context.Background()
	s := NewMomentumStrategy(3, 5.0, 2, 5)

	t.Run("Warming up", func(t *testing.T) {
		sig, err := s.OnCandles(ctx, createCandles([]float64{100, 100}), PositionSnapshot{})
		require.NoError(t, err)
		assert.Equal(t, Hold, sig.Action)
		assert.Equal(t, "warming up", sig.Reason)
	})

	t.Run("Buy on rise above threshold", func(t *testing.T) {
		// 100 -> 106 over 3 candles is +6% > 5%
		sig, err := s.OnCandles(ctx, createCandles([]float64{100, 102, 104, 106}), PositionSnapshot{})
		require.NoError(t, err)
		assert.Equal(t, Buy, sig.Action)
		assert.Equal(t, 106.0, sig.TriggerPrice)
		assert.Equal(t, 2.0, sig.StopLossPct)
		assert.Equal(t, 5.0, sig.TakeProfitPct)
	})

	t.Run("No buy while holding", func(t *testing.T) {
		sig, err := s.OnCandles(ctx, createCandles([]float64{100, 102, 104, 106}), PositionSnapshot{Holding: true, EntryPrice: 100})
		require.NoError(t, err)
		assert.Equal(t, Hold, sig.Action)
	})

	t.Run("Sell on drop below threshold", func(t *testing.T) {
		sig, err := s.OnCandles(ctx, createCandles([]float64{106, 104, 102, 100}), PositionSnapshot{Holding: true, EntryPrice: 106})
		require.NoError(t, err)
		assert.Equal(t, Sell, sig.Action)
	})

	t.Run("Hold inside threshold", func(t *testing.T) {
		sig, err := s.OnCandles(ctx, createCandles([]float64{100, 101, 100, 101}), PositionSnapshot{})
		require.NoError(t, err)
		assert.Equal(t, Hold, sig.Action)
	})
}

func TestSMACrossStrategy_OnCandles(t *testing.T) {
	ctx := context.Background()
	s := NewSMACrossStrategy(2, 4, 0, 0)

	t.Run("Bullish crossover emits buy", func(t *testing.T) {
		// flat then rising: fast SMA crosses above slow SMA
		closes := []float64{10, 10, 10, 10, 10, 10, 14}
		sig, err := s.OnCandles(ctx, createCandles(closes), PositionSnapshot{})
		require.NoError(t, err)
		assert.Equal(t, Buy, sig.Action)
		assert.Equal(t, "SMA bullish crossover", sig.Reason)
	})

	t.Run("Bearish crossover emits sell when holding", func(t *testing.T) {
		closes := []float64{14, 14, 14, 14, 14, 14, 10}
		sig, err := s.OnCandles(ctx, createCandles(closes), PositionSnapshot{Holding: true, EntryPrice: 14})
		require.NoError(t, err)
		assert.Equal(t, Sell, sig.Action)
	})

	t.Run("Bearish crossover while flat holds", func(t *testing.T) {
		closes := []float64{14, 14, 14, 14, 14, 14, 10}
		sig, err := s.OnCandles(ctx, createCandles(closes), PositionSnapshot{})
		require.NoError(t, err)
		assert.Equal(t, Hold, sig.Action)
	})
}

func TestRSIStrategy_OnCandles(t *testing.T) {
	ctx := context.Background()
	s := NewRSIStrategy(3, 70, 30, 0, 0)

	t.Run("Buy on oversold recovery", func(t *testing.T) {
		// steady decline keeps RSI pinned low, then a bounce lifts it out
		closes := []float64{100, 95, 90, 85, 80, 92}
		sig, err := s.OnCandles(ctx, createCandles(closes), PositionSnapshot{})
		require.NoError(t, err)
		assert.Equal(t, Buy, sig.Action)
		assert.Equal(t, "RSI exited oversold", sig.Reason)
	})

	t.Run("Sell on overbought fade while holding", func(t *testing.T) {
		closes := []float64{100, 105, 110, 115, 120, 108}
		sig, err := s.OnCandles(ctx, createCandles(closes), PositionSnapshot{Holding: true, EntryPrice: 100})
		require.NoError(t, err)
		assert.Equal(t, Sell, sig.Action)
	})

	t.Run("Neutral holds", func(t *testing.T) {
		closes := []float64{100, 101, 100, 101, 100, 101}
		sig, err := s.OnCandles(ctx, createCandles(closes), PositionSnapshot{})
		require.NoError(t, err)
		assert.Equal(t, Hold, sig.Action)
	})
}

func TestNew(t *testing.T) {
	p := Params{
		MomentumLookback:  5,
		MomentumThreshold: 2,
		SMAFastPeriod:     10,
		SMASlowPeriod:     30,
		RSIPeriod:         14,
		RSIOverbought:     70,
		RSIOversold:       30,
	}

	for _, name := range []string{"momentum", "smacross", "rsi"} {
		s, err := New(name, p)
		require.NoError(t, err)
		assert.NotEmpty(t, s.Name())
		assert.Greater(t, s.WarmupPeriod(), 0)
	}

	_, err := New("unknown", p)
	assert.Error(t, err)
}
