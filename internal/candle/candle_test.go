package candle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to create test candles at a fixed price
func createTestSeries(start time.Time, granularity string, closes []float64) []Candle {
	step := time.Hour
	switch granularity {
	case "1m":
		step = time.Minute
	case "5m":
		step = 5 * time.Minute
	}
	candles := make([]Candle, len(closes))
	for i, c := range closes {
		candles[i] = Candle{
			Timestamp:   start.Add(time.Duration(i) * step),
			Open:        c,
			High:        c * 1.01,
			Low:         c * 0.99,
			Close:       c,
			Volume:      1,
			Symbol:      "BTC/USD",
			Granularity: granularity,
			Source:      "test",
		}
	}
	return candles
}

func TestCandle_Validate(t *testing.T) {
	now := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	valid := Candle{
		Timestamp:   now,
		Open:        10000,
		High:        10100,
		Low:         9900,
		Close:       10050,
		Volume:      1.5,
		Symbol:      "BTC/USD",
		Granularity: "1h",
		Source:      "test",
	}

	t.Run("Valid candle", func(t *testing.T) {
		assert.NoError(t, valid.Validate())
	})

	t.Run("Zero timestamp", func(t *testing.T) {
		c := valid
		c.Timestamp = time.Time{}
		assert.Error(t, c.Validate())
	})

	t.Run("High below low", func(t *testing.T) {
		c := valid
		c.High = 9800
		assert.Error(t, c.Validate())
	})

	t.Run("Close outside range", func(t *testing.T) {
		c := valid
		c.Close = 10200
		assert.Error(t, c.Validate())
	})

	t.Run("Negative volume", func(t *testing.T) {
		c := valid
		c.Volume = -1
		assert.Error(t, c.Validate())
	})

	t.Run("Invalid granularity", func(t *testing.T) {
		c := valid
		c.Granularity = "7m"
		assert.Error(t, c.Validate())
	})
}

func TestValidateSeries(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Contiguous series passes", func(t *testing.T) {
		candles := createTestSeries(start, "1h", []float64{100, 101, 102, 103})
		assert.NoError(t, ValidateSeries(candles, "1h"))
	})

	t.Run("Gap detected", func(t *testing.T) {
		candles := createTestSeries(start, "1h", []float64{100, 101, 102, 103})
		candles[2].Timestamp = candles[2].Timestamp.Add(time.Hour) // skip one slot
		candles[3].Timestamp = candles[3].Timestamp.Add(time.Hour)
		err := ValidateSeries(candles, "1h")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrGap)
	})

	t.Run("Duplicate timestamp", func(t *testing.T) {
		candles := createTestSeries(start, "1h", []float64{100, 101, 102})
		candles[2].Timestamp = candles[1].Timestamp
		err := ValidateSeries(candles, "1h")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNonMonotonic)
	})

	t.Run("Out of order timestamps", func(t *testing.T) {
		candles := createTestSeries(start, "1h", []float64{100, 101, 102})
		candles[1], candles[2] = candles[2], candles[1]
		err := ValidateSeries(candles, "1h")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNonMonotonic)
	})

	t.Run("Mixed granularity rejected", func(t *testing.T) {
		candles := createTestSeries(start, "1h", []float64{100, 101})
		candles[1].Granularity = "5m"
		assert.Error(t, ValidateSeries(candles, "1h"))
	})

	t.Run("Empty series passes", func(t *testing.T) {
		assert.NoError(t, ValidateSeries(nil, "1h"))
	})
}

func TestWindow(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := createTestSeries(start, "1h", []float64{100, 101, 102, 103, 104})

	t.Run("Bounded append", func(t *testing.T) {
		w := NewWindow(3)
		for _, c := range candles {
			w.Append(c)
		}
		snap := w.Snapshot()
		require.Len(t, snap, 3)
		assert.Equal(t, 102.0, snap[0].Close)
		assert.Equal(t, 104.0, snap[2].Close)
	})

	t.Run("Stale candles dropped", func(t *testing.T) {
		w := NewWindow(10)
		w.Append(candles[1])
		w.Append(candles[0]) // older, ignored
		w.Append(candles[1]) // duplicate, ignored
		assert.Equal(t, 1, w.Len())
	})

	t.Run("Last", func(t *testing.T) {
		w := NewWindow(10)
		_, ok := w.Last()
		assert.False(t, ok)
		w.Append(candles[0])
		last, ok := w.Last()
		require.True(t, ok)
		assert.Equal(t, candles[0], last)
	})

	t.Run("Snapshot is a copy", func(t *testing.T) {
		w := NewWindow(10)
		w.Append(candles[0])
		snap := w.Snapshot()
		snap[0].Close = 0
		again := w.Snapshot()
		assert.Equal(t, 100.0, again[0].Close)
	})
}
