package feed

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coinrun/baseline-trader/internal/candle"
	"github.com/coinrun/baseline-trader/internal/tfutils"
	"github.com/coinrun/baseline-trader/internal/utils"
)

// ExchangeFeed polls closed candles from the venue at granularity
// cadence and emits them in order on the Candles channel. When the
// venue returns non-contiguous data the feed marks itself out of sync,
// stops emitting, and retries the missing range until continuity is
// restored.
type ExchangeFeed struct {
	source      Source
	symbol      string
	granularity string
	step        time.Duration
	out         chan candle.Candle
	synced      atomic.Bool

	last     candle.Candle
	haveLast bool
}

func NewExchangeFeed(source Source, symbol, granularity string) (*ExchangeFeed, error) {
	step, err := tfutils.ParseGranularity(granularity)
	if err != nil {
		return nil, fmt.Errorf("exchange feed: %w", err)
	}
	f := &ExchangeFeed{
		source:      source,
		symbol:      symbol,
		granularity: granularity,
		step:        step,
		out:         make(chan candle.Candle, 64),
	}
	f.synced.Store(true)
	return f, nil
}

// Candles is the ordered stream of closed candles.
func (f *ExchangeFeed) Candles() <-chan candle.Candle { return f.out }

// Synced reports whether the stream is currently gap-free. The
// evaluator must not act on stale windows while this is false.
func (f *ExchangeFeed) Synced() bool { return f.synced.Load() }

// Run polls until the context is cancelled. The output channel is
// closed on return.
func (f *ExchangeFeed) Run(ctx context.Context) error {
	defer close(f.out)

	ticker := time.NewTicker(f.step)
	defer ticker.Stop()

	// prime with the most recent closed candle
	if err := f.poll(ctx); err != nil {
		utils.GetLogger().Printf("Feed | [%s %s] initial poll: %v", f.symbol, f.granularity, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := f.poll(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				utils.GetLogger().Printf("Feed | [%s %s] poll: %v", f.symbol, f.granularity, err)
			}
		}
	}
}

// poll fetches everything from the last emitted candle to now and
// emits the closed, contiguous prefix.
func (f *ExchangeFeed) poll(ctx context.Context) error {
	now := time.Now().UTC()
	start := now.Add(-f.step * 3)
	if f.haveLast {
		start = f.last.Timestamp.Add(f.step)
	}
	if !start.Before(now) {
		return nil
	}

	fetched, err := f.source.FetchCandles(ctx, f.symbol, f.granularity, start, now)
	if err != nil {
		return fmt.Errorf("fetching candles: %w", err)
	}

	for _, c := range fetched {
		if !c.IsComplete(now) {
			break
		}
		if f.haveLast {
			diff := c.Timestamp.Sub(f.last.Timestamp)
			if diff <= 0 {
				continue // already emitted
			}
			if diff != f.step {
				if f.synced.CompareAndSwap(true, false) {
					utils.GetLogger().Printf("Feed | [%s %s] %v: last=%s next=%s, resyncing",
						f.symbol, f.granularity, candle.ErrGap,
						f.last.Timestamp.Format(time.RFC3339), c.Timestamp.Format(time.RFC3339))
				}
				// leave last untouched so the next poll refetches the hole
				return fmt.Errorf("%w between %s and %s", candle.ErrGap,
					f.last.Timestamp.Format(time.RFC3339), c.Timestamp.Format(time.RFC3339))
			}
		}
		f.last = c
		f.haveLast = true
		if f.synced.CompareAndSwap(false, true) {
			utils.GetLogger().Printf("Feed | [%s %s] resynced at %s", f.symbol, f.granularity, c.Timestamp.Format(time.RFC3339))
		}
		select {
		case f.out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
