// Package baseline
package baseline

import (
	"sync"

	"github.com/coinrun/baseline-trader/internal/utils"
)

// ExitKind tells the tracker which side of a completed conversion to score.
type ExitKind int8

const (
	// AssetAcquired means a buy cycle completed: currency was converted
	// into asset, and the realized amount is denominated in asset units.
	AssetAcquired ExitKind = iota
	// CurrencyAcquired means a sell cycle completed: asset was converted
	// into currency, and the realized amount is in currency units.
	CurrencyAcquired
)

// Floors is a read-only copy of the tracker watermarks.
type Floors struct {
	AssetFloor    float64 `json:"asset_floor"`
	CurrencyFloor float64 `json:"currency_floor"`
}

// Tracker keeps the dual loss-floor watermarks that veto conversions
// expected to realize less than the best amount ever held on that side.
// Floors only move up, and only on profitable completed conversions.
// The tracker is a pure guard: it never places orders and never errors.
type Tracker struct {
	mu            sync.RWMutex
	assetFloor    float64
	currencyFloor float64
	lossTolerance float64 // fraction in [0,1), widens the veto band
}

// New seeds a tracker from the starting balances. A zero floor means
// that side has no watermark yet and every conversion is allowed.
func New(assetSeed, currencySeed, lossTolerance float64) *Tracker {
	if lossTolerance < 0 {
		lossTolerance = 0
	}
	return &Tracker{
		assetFloor:    assetSeed,
		currencyFloor: currencySeed,
		lossTolerance: lossTolerance,
	}
}

// AllowBuy reports whether a buy expected to acquire candidateAsset units
// clears the asset floor. candidateAsset must already be net of fees.
func (t *Tracker) AllowBuy(candidateAsset float64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.assetFloor == 0 {
		return true
	}
	return candidateAsset > t.assetFloor*(1-t.lossTolerance)
}

// AllowSell reports whether a sell expected to realize candidateCurrency
// clears the currency floor. candidateCurrency must already be net of fees.
func (t *Tracker) AllowSell(candidateCurrency float64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.currencyFloor == 0 {
		return true
	}
	return candidateCurrency > t.currencyFloor*(1-t.lossTolerance)
}

// RecordExit registers a completed conversion. The floor on the acquired
// side ratchets up to the realized amount when it exceeds the current
// floor; it never moves down.
func (t *Tracker) RecordExit(kind ExitKind, realized float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch kind {
	case AssetAcquired:
		if realized > t.assetFloor {
			utils.GetLogger().Printf("Baseline | asset floor %.8f -> %.8f", t.assetFloor, realized)
			t.assetFloor = realized
		}
	case CurrencyAcquired:
		if realized > t.currencyFloor {
			utils.GetLogger().Printf("Baseline | currency floor %.8f -> %.8f", t.currencyFloor, realized)
			t.currencyFloor = realized
		}
	}
}

// Floors returns a copy of the current watermarks.
func (t *Tracker) Floors() Floors {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Floors{AssetFloor: t.assetFloor, CurrencyFloor: t.currencyFloor}
}

// LossTolerance returns the configured veto widening fraction.
func (t *Tracker) LossTolerance() float64 {
	return t.lossTolerance
}
