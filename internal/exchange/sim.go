package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coinrun/baseline-trader/internal/candle"
	"github.com/coinrun/baseline-trader/internal/order"
)

type simOrder struct {
	o         order.Order
	fillPrice float64
	status    order.Status
	settled   bool
}

// SimAdapter is the execution venue for backtest and paper trading.
// Resting orders are resolved against the candle installed with
// SetCandle: directional limits fill when the candle range reaches the
// limit price, market-style orders (Price == 0) fill at the close.
// Fills settle against an internal balance book net of the fee rate.
type SimAdapter struct {
	mu        sync.Mutex
	feeRate   float64
	nextID    int
	orders    map[string]*simOrder
	balances  map[string]float64
	current   candle.Candle
	hasCandle bool
	noFill    int // candles during which nothing fills
	history   []candle.Candle
}

func NewSimAdapter(feeRate float64, balances map[string]float64) *SimAdapter {
	book := make(map[string]float64, len(balances))
	for k, v := range balances {
		book[k] = v
	}
	return &SimAdapter{
		feeRate:  feeRate,
		orders:   make(map[string]*simOrder),
		balances: book,
	}
}

func (s *SimAdapter) Name() string { return "sim" }

func (s *SimAdapter) FeeRate() float64 { return s.feeRate }

// SetCandle installs the candle pending orders are resolved against.
func (s *SimAdapter) SetCandle(c candle.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = c
	s.hasCandle = true
	s.history = append(s.history, c)
	if s.noFill > 0 {
		s.noFill--
	}
}

// SuppressFills keeps every order pending for the next n candles.
func (s *SimAdapter) SuppressFills(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noFill = n
}

func (s *SimAdapter) SubmitOrder(ctx context.Context, o order.Order) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("sim-%d", s.nextID)
	s.orders[id] = &simOrder{o: o, status: order.Pending}
	return id, nil
}

func (s *SimAdapter) GetOrderStatus(ctx context.Context, exchangeID string) (order.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	so, ok := s.orders[exchangeID]
	if !ok {
		return order.Fill{}, fmt.Errorf("unknown order %s", exchangeID)
	}
	if so.status == order.Pending && s.hasCandle && s.noFill == 0 {
		if price, filled := s.tryFill(so.o); filled {
			so.status = order.Filled
			so.fillPrice = price
			s.settle(so)
		}
	}
	return order.Fill{Status: so.status, Price: so.fillPrice}, nil
}

// tryFill decides whether the current candle reaches the order.
func (s *SimAdapter) tryFill(o order.Order) (float64, bool) {
	c := s.current
	if o.Price == 0 {
		// market-style order
		return c.Close, true
	}
	switch o.Side {
	case order.Buy:
		if c.Low <= o.Price {
			return o.Price, true
		}
	case order.Sell:
		switch o.Kind {
		case order.StopLoss:
			if c.Low <= o.Price {
				return o.Price, true
			}
		default:
			if c.High >= o.Price {
				return o.Price, true
			}
		}
	}
	return 0, false
}

// settle applies the fill to the balance book.
func (s *SimAdapter) settle(so *simOrder) {
	if so.settled {
		return
	}
	so.settled = true
	base, quote := SplitSymbol(so.o.Symbol)
	notional := so.fillPrice * so.o.Size
	switch so.o.Side {
	case order.Buy:
		s.balances[quote] -= notional
		s.balances[base] += so.o.Size * (1 - s.feeRate)
	case order.Sell:
		s.balances[base] -= so.o.Size
		s.balances[quote] += notional * (1 - s.feeRate)
	}
}

func (s *SimAdapter) CancelOrder(ctx context.Context, exchangeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	so, ok := s.orders[exchangeID]
	if !ok {
		return fmt.Errorf("unknown order %s", exchangeID)
	}
	if so.status == order.Pending {
		so.status = order.Cancelled
	}
	return nil
}

func (s *SimAdapter) FetchBalances(ctx context.Context) (map[string]Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Balance, len(s.balances))
	for asset, v := range s.balances {
		out[asset] = Balance{Asset: asset, Available: v, Total: v}
	}
	return out, nil
}

// FetchCandles returns candles previously installed with SetCandle.
func (s *SimAdapter) FetchCandles(ctx context.Context, symbol, granularity string, start, end time.Time) ([]candle.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []candle.Candle
	for _, c := range s.history {
		if c.Symbol != symbol || c.Granularity != granularity {
			continue
		}
		if c.Timestamp.Before(start) || c.Timestamp.After(end) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
