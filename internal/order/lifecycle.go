package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coinrun/baseline-trader/internal/utils"
)

// Executor is the slice of the exchange adapter the manager needs.
type Executor interface {
	SubmitOrder(ctx context.Context, o Order) (string, error)
	GetOrderStatus(ctx context.Context, exchangeID string) (Fill, error)
	CancelOrder(ctx context.Context, exchangeID string) error
}

// Fill is the venue-side view of an order returned by status polls.
type Fill struct {
	Status Status
	Price  float64
}

// Sink receives exactly one notification per order when it reaches a
// terminal status.
type Sink interface {
	OnOrderUpdate(o Order)
}

type record struct {
	o         Order
	submitted bool
	notified  bool
}

type bracket struct {
	entryID string
	slID    string
	tpID    string
}

// LifecycleManager owns every order from placement to terminal status.
// It enforces the order timeout, arms bracket legs on entry fill, and
// cancels the surviving OCO sibling atomically with the winning fill.
// All state transitions happen under one mutex; sink notifications are
// delivered after the mutex is released.
type LifecycleManager struct {
	exec    Executor
	clock   Clock
	ids     IDGenerator
	timeout time.Duration
	sink    Sink

	mu       sync.Mutex
	orders   map[string]*record
	brackets map[string]*bracket
	seq      []string // insertion order, drives deterministic polling
}

func NewLifecycleManager(exec Executor, clock Clock, ids IDGenerator, timeout time.Duration, sink Sink) *LifecycleManager {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &LifecycleManager{
		exec:     exec,
		clock:    clock,
		ids:      ids,
		timeout:  timeout,
		sink:     sink,
		orders:   make(map[string]*record),
		brackets: make(map[string]*bracket),
	}
}

// Place submits a standalone order and starts its timeout window.
func (m *LifecycleManager) Place(ctx context.Context, o Order) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	placed, err := m.placeLocked(ctx, o)
	if err != nil {
		return Order{}, err
	}
	return *placed, nil
}

func (m *LifecycleManager) placeLocked(ctx context.Context, o Order) (*Order, error) {
	if o.ID == "" {
		o.ID = m.ids()
	}
	o.Status = Pending
	o.PlacedAt = m.clock.Now()

	exchangeID, err := m.exec.SubmitOrder(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("submit %s %s order: %w", o.Side, o.Kind, err)
	}
	o.ExchangeID = exchangeID

	r := &record{o: o, submitted: true}
	m.orders[o.ID] = r
	m.seq = append(m.seq, o.ID)
	utils.GetLogger().Printf("Order | placed %s %s %s size=%.8f price=%.8f id=%s",
		o.Side, o.Kind, o.Symbol, o.Size, o.Price, o.ID)
	return &r.o, nil
}

// PlaceBracket submits the entry order and registers the stop-loss and
// take-profit legs. The legs are not sent to the venue until the entry
// fills; once armed they are OCO siblings.
func (m *LifecycleManager) PlaceBracket(ctx context.Context, entry, sl, tp Order) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	placed, err := m.placeLocked(ctx, entry)
	if err != nil {
		return Order{}, err
	}

	sl.ID = m.ids()
	tp.ID = m.ids()
	sl.Kind = StopLoss
	tp.Kind = TakeProfit
	sl.BracketID = placed.ID
	tp.BracketID = placed.ID
	placed.BracketID = placed.ID
	sl.Status = Pending
	tp.Status = Pending

	m.orders[sl.ID] = &record{o: sl}
	m.orders[tp.ID] = &record{o: tp}
	m.seq = append(m.seq, sl.ID, tp.ID)
	m.brackets[placed.ID] = &bracket{entryID: placed.ID, slID: sl.ID, tpID: tp.ID}
	return *placed, nil
}

// Poll refreshes one order against the venue, applies timeout and OCO
// rules, and notifies the sink of any terminal transitions. A timeout
// is reported both on the returned order and as ErrTimeout.
func (m *LifecycleManager) Poll(ctx context.Context, id string) (Order, error) {
	m.mu.Lock()
	r, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return Order{}, fmt.Errorf("poll %s: %w", id, ErrNotFound)
	}
	if r.o.Status.Terminal() || !r.submitted {
		o := r.o
		m.mu.Unlock()
		return o, nil
	}

	fill, err := m.exec.GetOrderStatus(ctx, r.o.ExchangeID)
	if err != nil {
		m.mu.Unlock()
		return r.o, fmt.Errorf("poll %s: %w", id, err)
	}

	var toNotify []Order
	var timedOut bool

	switch fill.Status {
	case Filled:
		r.o.Status = Filled
		r.o.FilledPrice = fill.Price
		r.o.FilledAt = m.clock.Now()
		toNotify = append(toNotify, m.markNotifiedLocked(r)...)
		toNotify = append(toNotify, m.onFillLocked(ctx, r)...)
	case Cancelled:
		r.o.Status = Cancelled
		toNotify = append(toNotify, m.markNotifiedLocked(r)...)
		toNotify = append(toNotify, m.onEntryDeadLocked(ctx, r)...)
	default:
		if m.clock.Now().Sub(r.o.PlacedAt) >= m.timeout {
			if cerr := m.exec.CancelOrder(ctx, r.o.ExchangeID); cerr != nil {
				utils.GetLogger().Printf("Order | cancel after timeout failed id=%s: %v", r.o.ID, cerr)
			}
			r.o.Status = TimedOut
			timedOut = true
			toNotify = append(toNotify, m.markNotifiedLocked(r)...)
			toNotify = append(toNotify, m.onEntryDeadLocked(ctx, r)...)
		}
	}

	o := r.o
	m.mu.Unlock()

	for _, n := range toNotify {
		m.sink.OnOrderUpdate(n)
	}
	if timedOut {
		return o, fmt.Errorf("poll %s: %w", id, ErrTimeout)
	}
	return o, nil
}

// onFillLocked arms bracket legs on entry fill and cancels the OCO
// sibling when a leg wins. Returns sibling notifications.
func (m *LifecycleManager) onFillLocked(ctx context.Context, r *record) []Order {
	b, ok := m.brackets[r.o.BracketID]
	if !ok {
		return nil
	}
	switch r.o.ID {
	case b.entryID:
		m.armLegLocked(ctx, b.slID)
		m.armLegLocked(ctx, b.tpID)
		return nil
	case b.slID:
		return m.cancelSiblingLocked(ctx, b.tpID)
	case b.tpID:
		return m.cancelSiblingLocked(ctx, b.slID)
	}
	return nil
}

// onEntryDeadLocked retires unarmed bracket legs when their entry ends
// without filling.
func (m *LifecycleManager) onEntryDeadLocked(ctx context.Context, r *record) []Order {
	b, ok := m.brackets[r.o.BracketID]
	if !ok || r.o.ID != b.entryID {
		return nil
	}
	var out []Order
	out = append(out, m.cancelSiblingLocked(ctx, b.slID)...)
	out = append(out, m.cancelSiblingLocked(ctx, b.tpID)...)
	return out
}

func (m *LifecycleManager) armLegLocked(ctx context.Context, id string) {
	r, ok := m.orders[id]
	if !ok || r.submitted || r.o.Status.Terminal() {
		return
	}
	exchangeID, err := m.exec.SubmitOrder(ctx, r.o)
	if err != nil {
		utils.GetLogger().Printf("Order | arming %s leg failed id=%s: %v", r.o.Kind, r.o.ID, err)
		return
	}
	r.o.ExchangeID = exchangeID
	r.o.PlacedAt = m.clock.Now()
	r.submitted = true
	utils.GetLogger().Printf("Order | armed %s leg %s price=%.8f id=%s", r.o.Kind, r.o.Symbol, r.o.Price, r.o.ID)
}

func (m *LifecycleManager) cancelSiblingLocked(ctx context.Context, id string) []Order {
	r, ok := m.orders[id]
	if !ok || r.o.Status.Terminal() {
		return nil
	}
	if r.submitted {
		if err := m.exec.CancelOrder(ctx, r.o.ExchangeID); err != nil {
			utils.GetLogger().Printf("Order | cancel sibling failed id=%s: %v", r.o.ID, err)
		}
	}
	r.o.Status = Cancelled
	return m.markNotifiedLocked(r)
}

func (m *LifecycleManager) markNotifiedLocked(r *record) []Order {
	if r.notified {
		return nil
	}
	r.notified = true
	return []Order{r.o}
}

// Cancel cancels a pending order.
func (m *LifecycleManager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	r, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", id, ErrNotFound)
	}
	if r.o.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}
	if r.submitted {
		if err := m.exec.CancelOrder(ctx, r.o.ExchangeID); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("cancel %s: %w", id, err)
		}
	}
	r.o.Status = Cancelled
	toNotify := m.markNotifiedLocked(r)
	m.mu.Unlock()

	for _, n := range toNotify {
		m.sink.OnOrderUpdate(n)
	}
	return nil
}

// PollAll polls every pending order in placement order, stop-loss legs
// before their take-profit siblings. Timeouts are reported to the sink
// and do not abort the sweep.
func (m *LifecycleManager) PollAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.seq))
	for _, id := range m.seq {
		if r, ok := m.orders[id]; ok && !r.o.Status.Terminal() && r.submitted {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.Poll(ctx, id); err != nil {
			if isTimeout(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// Get returns a copy of the order record.
func (m *LifecycleManager) Get(id string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return r.o, nil
}

// Pending returns copies of all non-terminal orders in placement order.
func (m *LifecycleManager) Pending() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, id := range m.seq {
		if r, ok := m.orders[id]; ok && !r.o.Status.Terminal() {
			out = append(out, r.o)
		}
	}
	return out
}

// Timeout returns the configured order timeout.
func (m *LifecycleManager) Timeout() time.Duration { return m.timeout }

func isTimeout(err error) bool { return errors.Is(err, ErrTimeout) }
