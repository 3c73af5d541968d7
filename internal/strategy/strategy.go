// Package strategy
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/coinrun/baseline-trader/internal/candle"
)

// Action is the decision a strategy emits for the latest closed candle.
type Action int8

const (
	Hold Action = iota
	Buy
	Sell
	ExitEarly
)

func (a Action) String() string {
	switch a {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	case ExitEarly:
		return "exit-early"
	default:
		return "hold"
	}
}

// Signal carries a strategy decision. StopLossPct/TakeProfitPct are
// percentage offsets from the entry price; zero means no bracket leg.
type Signal struct {
	Time          time.Time `json:"time"`
	Action        Action    `json:"action"`
	Reason        string    `json:"reason"`
	StrategyName  string    `json:"strategy_name"`
	TriggerPrice  float64   `json:"trigger_price"`
	StopLossPct   float64   `json:"stop_loss_pct"`
	TakeProfitPct float64   `json:"take_profit_pct"`
}

// PositionSnapshot is the read-only view of the current position a
// strategy may consult when deciding.
type PositionSnapshot struct {
	Holding    bool
	EntryPrice float64
	EntryTime  time.Time
	Size       float64
}

// Strategy is the interface for all trading strategies.
type Strategy interface {
	Name() string
	WarmupPeriod() int
	OnCandles(ctx context.Context, window []candle.Candle, pos PositionSnapshot) (Signal, error)
}

// Params configures the built-in strategies.
type Params struct {
	MomentumLookback  int
	MomentumThreshold float64 // percent move over the lookback that triggers
	SMAFastPeriod     int
	SMASlowPeriod     int
	RSIPeriod         int
	RSIOverbought     float64
	RSIOversold       float64
	StopLossPct       float64
	TakeProfitPct     float64
}

// New builds a strategy by name.
func New(name string, p Params) (Strategy, error) {
	switch name {
	case "momentum":
		return NewMomentumStrategy(p.MomentumLookback, p.MomentumThreshold, p.StopLossPct, p.TakeProfitPct), nil
	case "smacross":
		return NewSMACrossStrategy(p.SMAFastPeriod, p.SMASlowPeriod, p.StopLossPct, p.TakeProfitPct), nil
	case "rsi":
		return NewRSIStrategy(p.RSIPeriod, p.RSIOverbought, p.RSIOversold, p.StopLossPct, p.TakeProfitPct), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

func holdSignal(name, reason string, t time.Time) Signal {
	return Signal{
		Time:         t,
		Action:       Hold,
		Reason:       reason,
		StrategyName: name,
	}
}
