package engine

import (
	"time"

	"github.com/coinrun/baseline-trader/internal/order"
	"github.com/coinrun/baseline-trader/internal/position"
)

// Snapshot is a read-only view of a running live engine for external
// observers. It never exposes mutable state.
type Snapshot struct {
	Position      position.Snapshot `json:"position"`
	PendingOrders []order.Order     `json:"pending_orders"`
	FeedSynced    bool              `json:"feed_synced"`
	EntriesOpen   bool              `json:"entries_open"`
	Trades        int               `json:"trades"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Snapshot captures the current state of the engine.
func (e *LiveEngine) Snapshot() Snapshot {
	return Snapshot{
		Position:      e.mgr.Snapshot(),
		PendingOrders: e.lifecycle.Pending(),
		FeedSynced:    e.feed.Synced(),
		EntriesOpen:   !e.entriesBlocked.Load(),
		Trades:        len(e.mgr.Trades()),
		UpdatedAt:     time.Now().UTC(),
	}
}
