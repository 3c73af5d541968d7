// Package order
package order

import (
	"errors"
	"time"
)

// ErrTimeout is returned when a pending order exceeds the configured
// timeout without filling.
var ErrTimeout = errors.New("order timed out")

// ErrNotFound is returned when an order ID is unknown to the manager.
var ErrNotFound = errors.New("order not found")

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Kind distinguishes the role an order plays in a position cycle.
type Kind int8

const (
	Entry Kind = iota
	Exit
	StopLoss
	TakeProfit
)

func (k Kind) String() string {
	switch k {
	case Entry:
		return "entry"
	case Exit:
		return "exit"
	case StopLoss:
		return "stop-loss"
	case TakeProfit:
		return "take-profit"
	default:
		return "unknown"
	}
}

type Status int8

const (
	Pending Status = iota
	Filled
	Cancelled
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case TimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool { return s != Pending }

// Order is the manager's record of a single order.
type Order struct {
	ID          string    `json:"id"`
	ExchangeID  string    `json:"exchange_id"`
	BracketID   string    `json:"bracket_id,omitempty"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Kind        Kind      `json:"kind"`
	Price       float64   `json:"price"`
	Size        float64   `json:"size"`
	Status      Status    `json:"status"`
	PlacedAt    time.Time `json:"placed_at"`
	FilledAt    time.Time `json:"filled_at,omitempty"`
	FilledPrice float64   `json:"filled_price,omitempty"`
}
