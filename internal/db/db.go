// Package db
package db

import (
	"context"
	"time"

	"github.com/coinrun/baseline-trader/internal/candle"
	"github.com/coinrun/baseline-trader/internal/journal"
	"github.com/coinrun/baseline-trader/internal/order"
	"github.com/coinrun/baseline-trader/internal/position"
)

// CandleStore persists candle history.
type CandleStore interface {
	SaveCandles(ctx context.Context, candles []candle.Candle) error
	GetCandles(ctx context.Context, symbol, granularity string, start, end time.Time) ([]candle.Candle, error)
}

// OrderStore persists order records per trading instance.
type OrderStore interface {
	SaveOrder(ctx context.Context, instanceID string, o order.Order) error
	GetOrders(ctx context.Context, instanceID string) ([]order.Order, error)
}

// TradeStore persists the completed trade ledger per trading instance.
type TradeStore interface {
	SaveTrade(ctx context.Context, instanceID string, tr position.Trade) error
	GetTrades(ctx context.Context, instanceID string) ([]position.Trade, error)
}

// Storage is the interface for all persistent storage.
type Storage interface {
	CandleStore
	OrderStore
	TradeStore
	journal.Journaler
	Close() error
}
