package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	wallex "github.com/wallexchange/wallex-go"

	"github.com/coinrun/baseline-trader/internal/candle"
	"github.com/coinrun/baseline-trader/internal/order"
	"github.com/coinrun/baseline-trader/internal/tfutils"
	"github.com/coinrun/baseline-trader/internal/utils"
)

// WallexAdapter executes against the Wallex exchange.
type WallexAdapter struct {
	client  *wallex.Client
	feeRate float64
}

func NewWallexAdapter(apiKey string, feeRate float64) *WallexAdapter {
	return &WallexAdapter{
		client:  wallex.New(wallex.ClientOptions{APIKey: apiKey}),
		feeRate: feeRate,
	}
}

func (w *WallexAdapter) Name() string { return "wallex" }

// FeeRate returns the venue taker fee advertised for this account.
func (w *WallexAdapter) FeeRate() float64 { return w.feeRate }

// retry wraps a function with retry logic for transient errors, using exponential backoff and error logging.
func retry(attempts int, delay time.Duration, fn func() error) error {
	backoff := delay
	for i := 1; i <= attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		utils.GetLogger().Printf("Exchange | Wallex retry attempt %d/%d failed: %v. Backing off for %v", i, attempts, err, backoff)
		time.Sleep(backoff)
		if backoff < 5*time.Minute {
			backoff *= 2
			if backoff > 5*time.Minute {
				backoff = 5 * time.Minute
			}
		}
	}
	return errors.New("all retry attempts failed")
}

func (w *WallexAdapter) SubmitOrder(ctx context.Context, o order.Order) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	orderType := "LIMIT"
	price := o.Price
	if price == 0 {
		orderType = "MARKET"
	}
	params := &wallex.OrderParams{
		Symbol:   NormalizeSymbol(o.Symbol),
		Type:     orderType,
		Side:     strings.ToUpper(string(o.Side)),
		Price:    wallex.Number(strconv.FormatFloat(price, 'f', 8, 64)),
		Quantity: wallex.Number(strconv.FormatFloat(o.Size, 'f', 8, 64)),
	}

	var resp *wallex.Order
	err := retry(3, 2*time.Second, func() error {
		var err error
		resp, err = w.client.PlaceOrder(params)
		if err != nil {
			return fmt.Errorf("placing order: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("SubmitOrder failed: %w", err)
	}
	return resp.ClientOrderID, nil
}

func (w *WallexAdapter) GetOrderStatus(ctx context.Context, exchangeID string) (order.Fill, error) {
	select {
	case <-ctx.Done():
		return order.Fill{}, ctx.Err()
	default:
	}

	resp, err := w.client.Order(exchangeID)
	if err != nil {
		return order.Fill{}, fmt.Errorf("GetOrderStatus failed: %w", err)
	}

	price := float64Ptr(resp.ExecutedPrice)
	if price == 0 {
		price, _ = strconv.ParseFloat(string(resp.Price), 64)
	}
	return order.Fill{Status: mapWallexStatus(resp.Status), Price: price}, nil
}

func mapWallexStatus(status string) order.Status {
	switch strings.ToUpper(status) {
	case "FILLED":
		return order.Filled
	case "CANCELED", "CANCELLED", "REJECTED", "EXPIRED":
		return order.Cancelled
	default:
		return order.Pending
	}
}

func (w *WallexAdapter) CancelOrder(ctx context.Context, exchangeID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return w.client.CancelOrder(exchangeID)
	}
}

// FetchBalances retrieves the current balance of all assets.
func (w *WallexAdapter) FetchBalances(ctx context.Context) (map[string]Balance, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var wallexBalances map[string]*wallex.Balance
	err := retry(3, 2*time.Second, func() error {
		var err error
		wallexBalances, err = w.client.Balances()
		if err != nil {
			return fmt.Errorf("fetching balances: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("FetchBalances failed: %w", err)
	}

	balances := make(map[string]Balance)
	for asset, wb := range wallexBalances {
		available, _ := strconv.ParseFloat(string(wb.Value), 64)
		locked, _ := strconv.ParseFloat(string(wb.Locked), 64)
		balances[asset] = Balance{
			Asset:     asset,
			Available: available,
			Locked:    locked,
			Total:     available + locked,
		}
	}
	return balances, nil
}

func (w *WallexAdapter) FetchCandles(ctx context.Context, symbol, granularity string, start, end time.Time) ([]candle.Candle, error) {
	if !tfutils.IsValidGranularity(granularity) {
		return nil, fmt.Errorf("unsupported granularity: %s", granularity)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var wallexCandles []*wallex.Candle
	err := retry(3, 2*time.Second, func() error {
		var err error
		wallexCandles, err = w.client.Candles(NormalizeSymbol(symbol), normalizedResolution(granularity), start, end)
		if err != nil {
			return fmt.Errorf("fetching candles: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("FetchCandles failed: %w", err)
	}

	step := tfutils.GetGranularityDuration(granularity)
	var candles []candle.Candle
	for _, wc := range wallexCandles {
		open, _ := strconv.ParseFloat(string(wc.Open), 64)
		high, _ := strconv.ParseFloat(string(wc.High), 64)
		low, _ := strconv.ParseFloat(string(wc.Low), 64)
		cl, _ := strconv.ParseFloat(string(wc.Close), 64)
		volume, _ := strconv.ParseFloat(string(wc.Volume), 64)

		c := candle.Candle{
			Timestamp:   wc.Timestamp.UTC().Truncate(step),
			Open:        open,
			High:        high,
			Low:         low,
			Close:       cl,
			Volume:      volume,
			Symbol:      symbol,
			Granularity: granularity,
			Source:      w.Name(),
		}
		if err := c.Validate(); err != nil {
			continue // skip malformed venue rows
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// normalizedResolution maps a granularity to the Wallex candle resolution.
func normalizedResolution(granularity string) string {
	switch granularity {
	case "1h", "4h":
		return strconv.Itoa(int(tfutils.GetGranularityDuration(granularity).Minutes()))
	case "1d":
		return "D"
	default:
		return strings.TrimSuffix(granularity, "m")
	}
}

// Helper to safely dereference *wallex.Number
func float64Ptr(n *wallex.Number) float64 {
	if n == nil {
		return 0
	}
	out, _ := strconv.ParseFloat(string(*n), 64)
	return out
}
