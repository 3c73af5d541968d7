package strategy

import (
	"context"
	"time"

	"github.com/coinrun/baseline-trader/internal/candle"
)

// RSIStrategy buys when RSI leaves the oversold zone and sells when it
// leaves the overbought zone.
type RSIStrategy struct {
	Period        int
	Overbought    float64
	Oversold      float64
	stopLossPct   float64
	takeProfitPct float64
}

func NewRSIStrategy(period int, overbought, oversold, stopLossPct, takeProfitPct float64) *RSIStrategy {
	if period <= 0 {
		period = 14
	}
	if overbought <= 0 {
		overbought = 70
	}
	if oversold <= 0 {
		oversold = 30
	}
	return &RSIStrategy{
		Period:        period,
		Overbought:    overbought,
		Oversold:      oversold,
		stopLossPct:   stopLossPct,
		takeProfitPct: takeProfitPct,
	}
}

func (s *RSIStrategy) Name() string { return "RSI" }

// WarmupPeriod returns the number of candles needed before signals fire.
// Two extra candles allow comparing the current RSI against the previous one.
func (s *RSIStrategy) WarmupPeriod() int { return s.Period + 2 }

// computeRSI is Wilder's RSI over the last period+1 closes.
func computeRSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}
	closes = closes[len(closes)-period-1:]
	var gains, losses float64
	for i := 1; i < len(closes); i++ {
		diff := closes[i] - closes[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}
	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}

func (s *RSIStrategy) OnCandles(ctx context.Context, window []candle.Candle, pos PositionSnapshot) (Signal, error) {
	if len(window) == 0 {
		return holdSignal(s.Name(), "no candles", time.Time{}), nil
	}
	last := window[len(window)-1]
	if len(window) < s.WarmupPeriod() {
		return holdSignal(s.Name(), "warming up", last.Timestamp), nil
	}

	closes := make([]float64, len(window))
	for i, c := range window {
		closes[i] = c.Close
	}

	rsiNow := computeRSI(closes, s.Period)
	rsiPrev := computeRSI(closes[:len(closes)-1], s.Period)

	switch {
	case !pos.Holding && rsiPrev <= s.Oversold && rsiNow > s.Oversold:
		return Signal{
			Time:          last.Timestamp,
			Action:        Buy,
			Reason:        "RSI exited oversold",
			StrategyName:  s.Name(),
			TriggerPrice:  last.Close,
			StopLossPct:   s.stopLossPct,
			TakeProfitPct: s.takeProfitPct,
		}, nil
	case pos.Holding && rsiPrev >= s.Overbought && rsiNow < s.Overbought:
		return Signal{
			Time:         last.Timestamp,
			Action:       Sell,
			Reason:       "RSI exited overbought",
			StrategyName: s.Name(),
			TriggerPrice: last.Close,
		}, nil
	}
	return holdSignal(s.Name(), "RSI in neutral zone", last.Timestamp), nil
}
