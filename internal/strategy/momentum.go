package strategy

import (
	"context"
	"time"

	"github.com/coinrun/baseline-trader/internal/candle"
)

// MomentumStrategy buys when price has risen more than Threshold percent
// over the lookback window and exits when it has fallen by the same amount.
type MomentumStrategy struct {
	Lookback      int
	Threshold     float64 // percent
	stopLossPct   float64
	takeProfitPct float64
}

func NewMomentumStrategy(lookback int, threshold, stopLossPct, takeProfitPct float64) *MomentumStrategy {
	if lookback <= 0 {
		lookback = 10
	}
	return &MomentumStrategy{
		Lookback:      lookback,
		Threshold:     threshold,
		stopLossPct:   stopLossPct,
		takeProfitPct: takeProfitPct,
	}
}

func (s *MomentumStrategy) Name() string { return "Momentum" }

// WarmupPeriod returns the number of candles needed before signals fire.
func (s *MomentumStrategy) WarmupPeriod() int { return s.Lookback + 1 }

func (s *MomentumStrategy) OnCandles(ctx context.Context, window []candle.Candle, pos PositionSnapshot) (Signal, error) {
	if len(window) == 0 {
		return holdSignal(s.Name(), "no candles", time.Time{}), nil
	}
	last := window[len(window)-1]
	if len(window) < s.WarmupPeriod() {
		return holdSignal(s.Name(), "warming up", last.Timestamp), nil
	}

	ref := window[len(window)-1-s.Lookback].Close
	changePct := (last.Close - ref) / ref * 100

	switch {
	case !pos.Holding && changePct >= s.Threshold:
		return Signal{
			Time:          last.Timestamp,
			Action:        Buy,
			Reason:        "momentum above threshold",
			StrategyName:  s.Name(),
			TriggerPrice:  last.Close,
			StopLossPct:   s.stopLossPct,
			TakeProfitPct: s.takeProfitPct,
		}, nil
	case pos.Holding && changePct <= -s.Threshold:
		return Signal{
			Time:         last.Timestamp,
			Action:       Sell,
			Reason:       "momentum below threshold",
			StrategyName: s.Name(),
			TriggerPrice: last.Close,
		}, nil
	}
	return holdSignal(s.Name(), "momentum within threshold", last.Timestamp), nil
}
