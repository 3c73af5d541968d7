package order

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time so backtests can drive timeouts from candle
// timestamps while live trading uses the wall clock.
type Clock interface {
	Now() time.Time
}

// WallClock is the real clock.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now().UTC() }

// SimClock is a manually advanced clock.
type SimClock struct {
	mu sync.RWMutex
	t  time.Time
}

func NewSimClock(start time.Time) *SimClock {
	return &SimClock{t: start}
}

func (c *SimClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}

// Set moves the clock forward. Moving backwards is ignored.
func (c *SimClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.t) {
		c.t = t
	}
}

// IDGenerator produces order IDs.
type IDGenerator func() string

// UUIDs generates random IDs for live and paper trading.
func UUIDs() IDGenerator {
	return uuid.NewString
}

// CounterIDs generates sequential IDs for deterministic replay.
func CounterIDs() IDGenerator {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("ord-%06d", n)
	}
}
