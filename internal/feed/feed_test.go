package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrun/baseline-trader/internal/candle"
)

func series(start time.Time, n int) []candle.Candle {
	out := make([]candle.Candle, n)
	for i := 0; i < n; i++ {
		out[i] = candle.Candle{
			Timestamp:   start.Add(time.Duration(i) * time.Hour),
			Open:        100,
			High:        101,
			Low:         99,
			Close:       100,
			Volume:      1,
			Symbol:      "BTC/USD",
			Granularity: "1h",
			Source:      "test",
		}
	}
	return out
}

func TestSliceFeed(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Serves candles in order", func(t *testing.T) {
		f, err := NewSliceFeed(series(start, 3), "1h")
		require.NoError(t, err)
		assert.Equal(t, 3, f.Len())

		for i := 0; i < 3; i++ {
			c, ok := f.Next()
			require.True(t, ok)
			assert.Equal(t, start.Add(time.Duration(i)*time.Hour), c.Timestamp)
		}
		_, ok := f.Next()
		assert.False(t, ok)
		assert.Equal(t, 0, f.Remaining())
	})

	t.Run("Rejects gapped series", func(t *testing.T) {
		s := series(start, 4)
		s = append(s[:2], s[3])
		_, err := NewSliceFeed(s, "1h")
		require.Error(t, err)
		assert.ErrorIs(t, err, candle.ErrGap)
	})

	t.Run("Rejects disordered series", func(t *testing.T) {
		s := series(start, 3)
		s[1], s[2] = s[2], s[1]
		_, err := NewSliceFeed(s, "1h")
		require.Error(t, err)
		assert.ErrorIs(t, err, candle.ErrNonMonotonic)
	})

	t.Run("Empty series is fine", func(t *testing.T) {
		f, err := NewSliceFeed(nil, "1h")
		require.NoError(t, err)
		_, ok := f.Next()
		assert.False(t, ok)
	})
}
