// Package position
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coinrun/baseline-trader/internal/baseline"
	"github.com/coinrun/baseline-trader/internal/journal"
	"github.com/coinrun/baseline-trader/internal/order"
	"github.com/coinrun/baseline-trader/internal/strategy"
	"github.com/coinrun/baseline-trader/internal/utils"
)

// State of the position cycle.
type State int8

const (
	Flat State = iota
	Entering
	Holding
	Exiting
)

func (s State) String() string {
	switch s {
	case Entering:
		return "entering"
	case Holding:
		return "holding"
	case Exiting:
		return "exiting"
	default:
		return "flat"
	}
}

// Trade is the immutable record of one completed position cycle.
type Trade struct {
	Symbol       string        `json:"symbol"`
	EntryOrderID string        `json:"entry_order_id"`
	ExitOrderID  string        `json:"exit_order_id"`
	EntryPrice   float64       `json:"entry_price"`
	ExitPrice    float64       `json:"exit_price"`
	Size         float64       `json:"size"`
	EntryTime    time.Time     `json:"entry_time"`
	ExitTime     time.Time     `json:"exit_time"`
	PnL          float64       `json:"pnl"` // currency terms, net of fees
	Fees         float64       `json:"fees"`
	ExitReason   string        `json:"exit_reason"`
	Duration     time.Duration `json:"duration"`
}

// Snapshot is a read-only view of the manager.
type Snapshot struct {
	State      State           `json:"state"`
	Symbol     string          `json:"symbol"`
	EntryPrice float64         `json:"entry_price"`
	Size       float64         `json:"size"`
	EntryTime  time.Time       `json:"entry_time"`
	Currency   float64         `json:"currency"`
	Asset      float64         `json:"asset"`
	Floors     baseline.Floors `json:"floors"`
}

// Config holds the per-instance trading parameters.
type Config struct {
	Symbol          string
	FeeRate         float64
	MaxEntryRetries int
}

// Manager owns the Flat -> Entering -> Holding -> Exiting -> Flat cycle.
// It is the sole writer of balances and baseline state, implements
// order.Sink, and sizes every entry with the full currency balance.
//
// Lifecycle calls that can synchronously notify the sink (leg cancels)
// run outside the manager mutex.
type Manager struct {
	cfg       Config
	lifecycle *order.LifecycleManager
	tracker   *baseline.Tracker
	clock     order.Clock
	journal   journal.Journaler
	onTrade   func(Trade)

	mu           sync.Mutex
	state        State
	currency     float64
	asset        float64
	entryRetries int
	lastPrice    float64

	entryOrderID string
	exitOrderID  string
	slOrderID    string
	tpOrderID    string
	entryPrice   float64
	entryFee     float64
	size         float64
	entryTime    time.Time
	slPct        float64
	tpPct        float64
	exitReason   string

	trades []Trade
}

func NewManager(cfg Config, lifecycle *order.LifecycleManager, tracker *baseline.Tracker, clock order.Clock, jr journal.Journaler, onTrade func(Trade)) *Manager {
	return &Manager{
		cfg:       cfg,
		lifecycle: lifecycle,
		tracker:   tracker,
		clock:     clock,
		journal:   jr,
		onTrade:   onTrade,
	}
}

// Bind wires the lifecycle manager. The manager is the lifecycle's
// sink, so the two are constructed before being tied together.
func (m *Manager) Bind(lc *order.LifecycleManager) {
	m.lifecycle = lc
}

// Seed sets the starting balances. Call once before trading.
func (m *Manager) Seed(currency, asset float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currency = currency
	m.asset = asset
}

// OnCandle records the latest close for refreshed-price resubmission.
func (m *Manager) OnCandle(closePrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPrice = closePrice
}

// OnSignal drives the state machine from a strategy decision. Vetoed
// and out-of-state signals are dropped, never errors.
func (m *Manager) OnSignal(ctx context.Context, sig strategy.Signal) error {
	m.mu.Lock()
	switch {
	case sig.Action == strategy.Buy && m.state == Flat:
		defer m.mu.Unlock()
		m.entryRetries = 0
		return m.enterLocked(ctx, sig)
	case (sig.Action == strategy.Sell || sig.Action == strategy.ExitEarly) && m.state == Holding:
		price := sig.TriggerPrice
		if price <= 0 {
			price = m.lastPrice
		}
		expectedCurrency := m.size * price * (1 - m.cfg.FeeRate)
		if !m.tracker.AllowSell(expectedCurrency) {
			m.recordEvent(ctx, "signal", "sell vetoed by currency floor", map[string]any{
				"expected_currency": expectedCurrency,
				"floors":            m.tracker.Floors(),
			})
			utils.GetLogger().Printf("Position | [%s] sell vetoed, expected currency %.8f under floor", m.cfg.Symbol, expectedCurrency)
			m.mu.Unlock()
			return nil
		}
		return m.beginExit(ctx, price, sig.Action.String())
	default:
		m.mu.Unlock()
		return nil
	}
}

func (m *Manager) enterLocked(ctx context.Context, sig strategy.Signal) error {
	price := sig.TriggerPrice
	if price <= 0 || m.currency <= 0 {
		return nil
	}
	size := m.currency / price
	expectedAsset := size * (1 - m.cfg.FeeRate)

	if !m.tracker.AllowBuy(expectedAsset) {
		m.recordEvent(ctx, "signal", "buy vetoed by asset floor", map[string]any{
			"expected_asset": expectedAsset,
			"floors":         m.tracker.Floors(),
		})
		utils.GetLogger().Printf("Position | [%s] buy vetoed, expected asset %.8f under floor", m.cfg.Symbol, expectedAsset)
		return nil
	}

	entry := order.Order{
		Symbol: m.cfg.Symbol,
		Side:   order.Buy,
		Kind:   order.Entry,
		Price:  price,
		Size:   size,
	}

	var placed order.Order
	var err error
	if sig.StopLossPct > 0 || sig.TakeProfitPct > 0 {
		sl := order.Order{
			Symbol: m.cfg.Symbol,
			Side:   order.Sell,
			Price:  price * (1 - sig.StopLossPct/100),
			Size:   size * (1 - m.cfg.FeeRate),
		}
		tp := order.Order{
			Symbol: m.cfg.Symbol,
			Side:   order.Sell,
			Price:  price * (1 + sig.TakeProfitPct/100),
			Size:   size * (1 - m.cfg.FeeRate),
		}
		placed, err = m.lifecycle.PlaceBracket(ctx, entry, sl, tp)
	} else {
		placed, err = m.lifecycle.Place(ctx, entry)
	}
	if err != nil {
		return fmt.Errorf("entering position: %w", err)
	}

	m.state = Entering
	m.entryOrderID = placed.ID
	m.slPct = sig.StopLossPct
	m.tpPct = sig.TakeProfitPct
	m.recordEvent(ctx, "order", "entry placed", map[string]any{
		"order_id": placed.ID,
		"price":    price,
		"size":     size,
	})
	return nil
}

// beginExit is entered with the mutex held and releases it before any
// lifecycle call that can notify the sink. A zero price means a
// market-style order.
func (m *Manager) beginExit(ctx context.Context, price float64, reason string) error {
	slID, tpID := m.slOrderID, m.tpOrderID
	m.slOrderID = ""
	m.tpOrderID = ""
	size := m.size
	m.state = Exiting
	m.exitReason = reason
	m.mu.Unlock()

	// Retire surviving bracket legs. If one already filled at the venue
	// the race goes to the leg: settle it instead of exiting twice.
	for _, leg := range []struct {
		id     string
		reason string
	}{{slID, "stop-loss"}, {tpID, "take-profit"}} {
		if leg.id == "" {
			continue
		}
		if err := m.lifecycle.Cancel(ctx, leg.id); err != nil {
			utils.GetLogger().Printf("Position | [%s] cancel leg %s: %v", m.cfg.Symbol, leg.id, err)
		}
		if o, err := m.lifecycle.Get(leg.id); err == nil && o.Status == order.Filled {
			m.mu.Lock()
			m.settleExitLocked(o, leg.reason)
			m.mu.Unlock()
			return nil
		}
	}

	exit := order.Order{
		Symbol: m.cfg.Symbol,
		Side:   order.Sell,
		Kind:   order.Exit,
		Price:  price,
		Size:   size,
	}
	placed, err := m.lifecycle.Place(ctx, exit)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		// position is unprotected now, surface loudly and stay holding
		m.state = Holding
		utils.GetLogger().Printf("Position | [%s] exit placement failed: %v", m.cfg.Symbol, err)
		return fmt.Errorf("exiting position: %w", err)
	}
	m.exitOrderID = placed.ID
	m.recordEvent(ctx, "order", "exit placed", map[string]any{
		"order_id": placed.ID,
		"price":    price,
		"reason":   reason,
	})
	return nil
}

// Flatten closes any held position with a market-style exit, bypassing
// the baseline veto. Explicit operator action, never run on shutdown.
func (m *Manager) Flatten(ctx context.Context) error {
	m.mu.Lock()
	if m.state != Holding {
		m.mu.Unlock()
		return nil
	}
	return m.beginExit(ctx, 0, "flatten")
}

// OnOrderUpdate receives exactly one terminal notification per order.
func (m *Manager) OnOrderUpdate(o order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch o.ID {
	case m.entryOrderID:
		m.onEntryUpdateLocked(o)
	case m.slOrderID, m.tpOrderID:
		m.onLegUpdateLocked(o)
	case m.exitOrderID:
		m.onExitUpdateLocked(o)
	}
}

func (m *Manager) onEntryUpdateLocked(o order.Order) {
	if m.state != Entering {
		return
	}
	ctx := context.Background()
	switch o.Status {
	case order.Filled:
		notional := o.FilledPrice * o.Size
		fee := notional * m.cfg.FeeRate
		acquired := o.Size * (1 - m.cfg.FeeRate)

		m.currency -= notional
		m.asset += acquired
		m.state = Holding
		m.entryPrice = o.FilledPrice
		m.entryFee = fee
		m.size = acquired
		m.entryTime = o.FilledAt
		m.tracker.RecordExit(baseline.AssetAcquired, acquired)

		m.adoptBracketLegsLocked(o)
		utils.GetLogger().Printf("Position | [%s] entered %.8f @ %.8f", m.cfg.Symbol, acquired, o.FilledPrice)
		m.recordEvent(ctx, "state", "holding", map[string]any{"entry_price": o.FilledPrice, "size": acquired})

	case order.TimedOut:
		m.entryRetries++
		if m.entryRetries <= m.cfg.MaxEntryRetries && m.lastPrice > 0 {
			utils.GetLogger().Printf("Position | [%s] entry timed out, retry %d/%d at %.8f",
				m.cfg.Symbol, m.entryRetries, m.cfg.MaxEntryRetries, m.lastPrice)
			m.state = Flat
			sig := strategy.Signal{
				Action:        strategy.Buy,
				TriggerPrice:  m.lastPrice,
				StopLossPct:   m.slPct,
				TakeProfitPct: m.tpPct,
			}
			if err := m.enterLocked(ctx, sig); err != nil {
				utils.GetLogger().Printf("Position | [%s] entry retry failed: %v", m.cfg.Symbol, err)
				m.resetLocked("entry retry failed")
			}
			return
		}
		m.resetLocked("entry abandoned after retries")

	case order.Cancelled:
		m.resetLocked("entry cancelled")
	}
}

// adoptBracketLegsLocked learns the leg IDs armed by the lifecycle
// manager for this entry.
func (m *Manager) adoptBracketLegsLocked(entry order.Order) {
	if entry.BracketID == "" {
		return
	}
	for _, p := range m.lifecycle.Pending() {
		if p.BracketID != entry.BracketID || p.ID == entry.ID {
			continue
		}
		switch p.Kind {
		case order.StopLoss:
			m.slOrderID = p.ID
		case order.TakeProfit:
			m.tpOrderID = p.ID
		}
	}
}

func (m *Manager) onLegUpdateLocked(o order.Order) {
	if o.Status != order.Filled || m.state != Holding {
		return
	}
	reason := "take-profit"
	if o.ID == m.slOrderID {
		reason = "stop-loss"
	}
	m.settleExitLocked(o, reason)
}

func (m *Manager) onExitUpdateLocked(o order.Order) {
	if m.state != Exiting {
		return
	}
	switch o.Status {
	case order.Filled:
		m.settleExitLocked(o, m.exitReason)
	case order.TimedOut:
		// never leave a position stuck: escalate to market. Place does
		// not notify, so calling the lifecycle here is safe.
		utils.GetLogger().Printf("Position | [%s] exit timed out, forcing market exit", m.cfg.Symbol)
		exit := order.Order{
			Symbol: m.cfg.Symbol,
			Side:   order.Sell,
			Kind:   order.Exit,
			Size:   m.size,
		}
		placed, err := m.lifecycle.Place(context.Background(), exit)
		if err != nil {
			utils.GetLogger().Printf("Position | [%s] forced exit failed: %v", m.cfg.Symbol, err)
			return
		}
		m.exitOrderID = placed.ID
		m.exitReason = "forced"
	case order.Cancelled:
		m.state = Holding
	}
}

// settleExitLocked books the completed cycle and returns to Flat.
func (m *Manager) settleExitLocked(o order.Order, reason string) {
	notional := o.FilledPrice * o.Size
	exitFee := notional * m.cfg.FeeRate
	realized := notional - exitFee

	m.asset -= o.Size
	m.currency += realized
	m.tracker.RecordExit(baseline.CurrencyAcquired, realized)

	entryNotional := m.entryPrice * o.Size
	trade := Trade{
		Symbol:       m.cfg.Symbol,
		EntryOrderID: m.entryOrderID,
		ExitOrderID:  o.ID,
		EntryPrice:   m.entryPrice,
		ExitPrice:    o.FilledPrice,
		Size:         o.Size,
		EntryTime:    m.entryTime,
		ExitTime:     o.FilledAt,
		PnL:          realized - entryNotional - m.entryFee,
		Fees:         m.entryFee + exitFee,
		ExitReason:   reason,
		Duration:     o.FilledAt.Sub(m.entryTime),
	}
	m.trades = append(m.trades, trade)
	utils.GetLogger().Printf("Position | [%s] exited %.8f @ %.8f (%s) pnl=%.8f",
		m.cfg.Symbol, o.Size, o.FilledPrice, reason, trade.PnL)
	m.recordEvent(context.Background(), "trade", reason, map[string]any{
		"pnl": trade.PnL, "entry": trade.EntryPrice, "exit": trade.ExitPrice,
	})
	if m.onTrade != nil {
		m.onTrade(trade)
	}
	m.resetLocked("")
}

func (m *Manager) resetLocked(note string) {
	if note != "" {
		utils.GetLogger().Printf("Position | [%s] %s", m.cfg.Symbol, note)
	}
	m.state = Flat
	m.entryOrderID = ""
	m.exitOrderID = ""
	m.slOrderID = ""
	m.tpOrderID = ""
	m.entryPrice = 0
	m.entryFee = 0
	m.size = 0
	m.entryTime = time.Time{}
	m.exitReason = ""
}

func (m *Manager) recordEvent(ctx context.Context, typ, desc string, data map[string]any) {
	if m.journal == nil {
		return
	}
	ev := journal.Event{Time: m.clock.Now(), Type: typ, Description: desc, Data: data}
	if err := m.journal.LogEvent(ctx, ev); err != nil {
		utils.GetLogger().Printf("Position | journal event failed: %v", err)
	}
}

// Snapshot returns a read-only copy of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:      m.state,
		Symbol:     m.cfg.Symbol,
		EntryPrice: m.entryPrice,
		Size:       m.size,
		EntryTime:  m.entryTime,
		Currency:   m.currency,
		Asset:      m.asset,
		Floors:     m.tracker.Floors(),
	}
}

// StrategyView renders the snapshot for strategies.
func (m *Manager) StrategyView() strategy.PositionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return strategy.PositionSnapshot{
		Holding:    m.state == Holding,
		EntryPrice: m.entryPrice,
		EntryTime:  m.entryTime,
		Size:       m.size,
	}
}

// Trades returns a copy of the completed trade ledger.
func (m *Manager) Trades() []Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Trade, len(m.trades))
	copy(out, m.trades)
	return out
}
