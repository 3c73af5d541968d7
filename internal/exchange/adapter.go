// Package exchange
package exchange

import (
	"context"
	"strings"
	"time"

	"github.com/coinrun/baseline-trader/internal/candle"
	"github.com/coinrun/baseline-trader/internal/order"
)

// Balance is the venue-side view of one asset.
type Balance struct {
	Asset     string  `json:"asset"`
	Available float64 `json:"available"`
	Locked    float64 `json:"locked"`
	Total     float64 `json:"total"`
}

// Adapter is the interface every execution venue implements. It also
// satisfies order.Executor.
type Adapter interface {
	Name() string
	SubmitOrder(ctx context.Context, o order.Order) (string, error)
	GetOrderStatus(ctx context.Context, exchangeID string) (order.Fill, error)
	CancelOrder(ctx context.Context, exchangeID string) error
	FetchBalances(ctx context.Context) (map[string]Balance, error)
	FetchCandles(ctx context.Context, symbol, granularity string, start, end time.Time) ([]candle.Candle, error)
	FeeRate() float64
}

// SplitSymbol splits "BTC/USD" or "BTC-USD" into base and quote.
func SplitSymbol(symbol string) (base, quote string) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 {
		parts = strings.Split(symbol, "-")
		if len(parts) != 2 {
			return symbol, ""
		}
	}
	return parts[0], parts[1]
}

// NormalizeSymbol converts e.g. btc-usdt to BTCUSDT for the Wallex API
func NormalizeSymbol(symbol string) string {
	s := strings.ReplaceAll(symbol, "-", "")
	return strings.ToUpper(strings.ReplaceAll(s, "/", ""))
}
