// Package candle
package candle

import (
	"errors"
	"fmt"
	"time"

	"github.com/coinrun/baseline-trader/internal/tfutils"
)

var (
	// ErrGap indicates a missing candle inside a series.
	ErrGap = errors.New("gap in candle series")
	// ErrNonMonotonic indicates timestamps that are not strictly increasing.
	ErrNonMonotonic = errors.New("candle timestamps not strictly increasing")
)

type Candle struct {
	Timestamp   time.Time `json:"timestamp"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	Symbol      string    `json:"symbol"`
	Granularity string    `json:"granularity"`
	Source      string    `json:"source"`
}

// IsComplete checks if a candle is closed (its interval has fully elapsed)
func (c *Candle) IsComplete(now time.Time) bool {
	candleEnd := c.Timestamp.Add(tfutils.GetGranularityDuration(c.Granularity))
	return !now.Before(candleEnd)
}

// Validate checks if a candle has valid data
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return errors.New("candle timestamp is zero")
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return errors.New("candle prices must be positive")
	}
	if c.High < c.Low {
		return errors.New("candle high cannot be less than low")
	}
	if c.Open < c.Low || c.Open > c.High {
		return errors.New("candle open price must be between high and low")
	}
	if c.Close < c.Low || c.Close > c.High {
		return errors.New("candle close price must be between high and low")
	}
	if c.Volume < 0 {
		return errors.New("candle volume cannot be negative")
	}
	if c.Symbol == "" {
		return errors.New("candle symbol cannot be empty")
	}
	if !tfutils.IsValidGranularity(c.Granularity) {
		return fmt.Errorf("invalid candle granularity %q", c.Granularity)
	}
	return nil
}

// ValidateSeries checks every candle in the series and verifies that
// timestamps are strictly increasing with exactly one granularity step
// between consecutive candles.
func ValidateSeries(candles []Candle, granularity string) error {
	step := tfutils.GetGranularityDuration(granularity)
	if step == 0 {
		return fmt.Errorf("invalid granularity %q", granularity)
	}
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return fmt.Errorf("candle %d (%s): %w", i, candles[i].Timestamp.Format(time.RFC3339), err)
		}
		if candles[i].Granularity != granularity {
			return fmt.Errorf("candle %d has granularity %q, want %q", i, candles[i].Granularity, granularity)
		}
		if i == 0 {
			continue
		}
		diff := candles[i].Timestamp.Sub(candles[i-1].Timestamp)
		if diff <= 0 {
			return fmt.Errorf("%w: candle %d at %s follows %s", ErrNonMonotonic,
				i, candles[i].Timestamp.Format(time.RFC3339), candles[i-1].Timestamp.Format(time.RFC3339))
		}
		if diff != step {
			return fmt.Errorf("%w: %s missing between %s and %s", ErrGap,
				granularity, candles[i-1].Timestamp.Format(time.RFC3339), candles[i].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// NextExpected returns the timestamp of the candle that should follow c.
func NextExpected(c Candle) time.Time {
	return c.Timestamp.Add(tfutils.GetGranularityDuration(c.Granularity))
}
