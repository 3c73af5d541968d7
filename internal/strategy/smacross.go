package strategy

import (
	"context"
	"time"

	"github.com/coinrun/baseline-trader/internal/candle"
)

// SMACrossStrategy signals on fast/slow simple moving average crossovers.
type SMACrossStrategy struct {
	FastPeriod    int
	SlowPeriod    int
	stopLossPct   float64
	takeProfitPct float64
}

func NewSMACrossStrategy(fastPeriod, slowPeriod int, stopLossPct, takeProfitPct float64) *SMACrossStrategy {
	if fastPeriod <= 0 {
		fastPeriod = 10
	}
	if slowPeriod <= fastPeriod {
		slowPeriod = fastPeriod * 3
	}
	return &SMACrossStrategy{
		FastPeriod:    fastPeriod,
		SlowPeriod:    slowPeriod,
		stopLossPct:   stopLossPct,
		takeProfitPct: takeProfitPct,
	}
}

func (s *SMACrossStrategy) Name() string { return "SMA Crossover" }

// WarmupPeriod returns the number of candles needed before signals fire.
// One extra candle is needed to compare the previous crossover state.
func (s *SMACrossStrategy) WarmupPeriod() int { return s.SlowPeriod + 1 }

func sma(closes []float64, period int) float64 {
	sum := 0.0
	for _, v := range closes[len(closes)-period:] {
		sum += v
	}
	return sum / float64(period)
}

func (s *SMACrossStrategy) OnCandles(ctx context.Context, window []candle.Candle, pos PositionSnapshot) (Signal, error) {
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

	fastNow := sma(closes, s.FastPeriod)
	slowNow := sma(closes, s.SlowPeriod)
	prev := closes[:len(closes)-1]
	fastPrev := sma(prev, s.FastPeriod)
	slowPrev := sma(prev, s.SlowPeriod)

	switch {
	case !pos.Holding && fastPrev <= slowPrev && fastNow > slowNow:
		return Signal{
			Time:          last.Timestamp,
			Action:        Buy,
			Reason:        "SMA bullish crossover",
			StrategyName:  s.Name(),
			TriggerPrice:  last.Close,
			StopLossPct:   s.stopLossPct,
			TakeProfitPct: s.takeProfitPct,
		}, nil
	case pos.Holding && fastPrev >= slowPrev && fastNow < slowNow:
		return Signal{
			Time:         last.Timestamp,
			Action:       Sell,
			Reason:       "SMA bearish crossover",
			StrategyName: s.Name(),
			TriggerPrice: last.Close,
		}, nil
	}
	return holdSignal(s.Name(), "no SMA crossover", last.Timestamp), nil
}
