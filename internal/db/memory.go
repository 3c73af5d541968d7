package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coinrun/baseline-trader/internal/candle"
	"github.com/coinrun/baseline-trader/internal/journal"
	"github.com/coinrun/baseline-trader/internal/order"
	"github.com/coinrun/baseline-trader/internal/position"
)

// MemoryStorage is the in-process store used by backtests and tests.
type MemoryStorage struct {
	mu sync.RWMutex

	// Candles keyed by symbol|granularity|timestamp|source
	candles map[string]candle.Candle

	// Orders and trades by instance ID, append-only
	orders map[string][]order.Order
	trades map[string][]position.Trade

	// Events (append-only)
	events []journal.Event
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		candles: make(map[string]candle.Candle),
		orders:  make(map[string][]order.Order),
		trades:  make(map[string][]position.Trade),
		events:  make([]journal.Event, 0, 1024),
	}
}

func candleKey(symbol, granularity string, ts time.Time, source string) string {
	return strings.ToUpper(symbol) + "|" + granularity + "|" + ts.UTC().Format(time.RFC3339Nano) + "|" + source
}

func (m *MemoryStorage) SaveCandles(ctx context.Context, candles []candle.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return err
		}
		c := candles[i]
		c.Timestamp = c.Timestamp.UTC()
		m.candles[candleKey(c.Symbol, c.Granularity, c.Timestamp, c.Source)] = c
	}
	return nil
}

func (m *MemoryStorage) GetCandles(ctx context.Context, symbol, granularity string, start, end time.Time) ([]candle.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []candle.Candle
	for _, c := range m.candles {
		if !strings.EqualFold(c.Symbol, symbol) || c.Granularity != granularity {
			continue
		}
		if c.Timestamp.Before(start) || c.Timestamp.After(end) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStorage) SaveOrder(ctx context.Context, instanceID string, o order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// replace the previous record for the same order, append otherwise
	for i := range m.orders[instanceID] {
		if m.orders[instanceID][i].ID == o.ID {
			m.orders[instanceID][i] = o
			return nil
		}
	}
	m.orders[instanceID] = append(m.orders[instanceID], o)
	return nil
}

func (m *MemoryStorage) GetOrders(ctx context.Context, instanceID string) ([]order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]order.Order, len(m.orders[instanceID]))
	copy(out, m.orders[instanceID])
	return out, nil
}

func (m *MemoryStorage) SaveTrade(ctx context.Context, instanceID string, tr position.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades[instanceID] = append(m.trades[instanceID], tr)
	return nil
}

func (m *MemoryStorage) GetTrades(ctx context.Context, instanceID string) ([]position.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]position.Trade, len(m.trades[instanceID]))
	copy(out, m.trades[instanceID])
	return out, nil
}

func (m *MemoryStorage) LogEvent(ctx context.Context, event journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Time = event.Time.UTC()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStorage) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []journal.Event
	for _, ev := range m.events {
		if eventType != "" && ev.Type != eventType {
			continue
		}
		if ev.Time.Before(start) || ev.Time.After(end) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *MemoryStorage) Close() error { return nil }
