package candle

import (
	"sync"
)

// Window is a bounded rolling view over the most recent candles.
// One goroutine appends, any number of goroutines read.
type Window struct {
	mu      sync.RWMutex
	max     int
	candles []Candle
}

// NewWindow creates a window keeping at most max candles.
func NewWindow(max int) *Window {
	if max <= 0 {
		max = 1
	}
	return &Window{max: max}
}

// Append adds a candle, evicting the oldest when the window is full.
// Candles older than or equal to the newest already held are dropped.
func (w *Window) Append(c Candle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n := len(w.candles); n > 0 && !c.Timestamp.After(w.candles[n-1].Timestamp) {
		return
	}
	w.candles = append(w.candles, c)
	if len(w.candles) > w.max {
		w.candles = w.candles[len(w.candles)-w.max:]
	}
}

// Snapshot returns a copy of the current contents, oldest first.
func (w *Window) Snapshot() []Candle {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Candle, len(w.candles))
	copy(out, w.candles)
	return out
}

// Len returns the number of candles currently held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.candles)
}

// Last returns the most recent candle, if any.
func (w *Window) Last() (Candle, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.candles) == 0 {
		return Candle{}, false
	}
	return w.candles[len(w.candles)-1], true
}
