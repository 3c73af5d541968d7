// Package feed
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/coinrun/baseline-trader/internal/candle"
)

// Source is the slice of the exchange adapter feeds pull candles from.
type Source interface {
	FetchCandles(ctx context.Context, symbol, granularity string, start, end time.Time) ([]candle.Candle, error)
}

// SliceFeed serves a pre-fetched historical series. The series is
// integrity-checked once at construction; a gap or disordered
// timestamp rejects the whole series.
type SliceFeed struct {
	candles []candle.Candle
	pos     int
}

func NewSliceFeed(candles []candle.Candle, granularity string) (*SliceFeed, error) {
	if err := candle.ValidateSeries(candles, granularity); err != nil {
		return nil, fmt.Errorf("slice feed: %w", err)
	}
	return &SliceFeed{candles: candles}, nil
}

// Next returns the next candle, or false when the series is exhausted.
func (f *SliceFeed) Next() (candle.Candle, bool) {
	if f.pos >= len(f.candles) {
		return candle.Candle{}, false
	}
	c := f.candles[f.pos]
	f.pos++
	return c, true
}

// Len returns the total number of candles in the series.
func (f *SliceFeed) Len() int { return len(f.candles) }

// Remaining returns how many candles have not been served yet.
func (f *SliceFeed) Remaining() int { return len(f.candles) - f.pos }
