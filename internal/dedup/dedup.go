// Package dedup decides whether a normalized record is a new order, an
// update to the tracked one, or a stale duplicate.
package dedup

import (
	"time"

	"offerwatchd/internal/order"
)

// Result classifies one normalized record against the tracked order.
type Result int

const (
	// NewOrder means the record starts (or supersedes into) a new
	// pending order.
	NewOrder Result = iota + 1
	// UpdateOf means the record is a re-observation of the tracked
	// order; refresh timestamps, no new lifecycle.
	UpdateOf
	// Stale means the record carries no new information and is dropped.
	Stale
)

// String returns the wire name of the result.
func (r Result) String() string {
	switch r {
	case NewOrder:
		return "new"
	case UpdateOf:
		return "update"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Deduplicator applies the fingerprint identity rules plus a minimum
// re-detection interval: jittery re-renders of an identical order
// within the window never produce a second NewOrder.
type Deduplicator struct {
	window    time.Duration
	supersede bool

	lastFP    string
	lastNewAt time.Time
}

// New creates a Deduplicator. window is the re-detection suppression
// interval; supersede controls whether a different order arriving while
// one is pending replaces it (true) or is dropped as Stale (false).
func New(window time.Duration, supersede bool) *Deduplicator {
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	return &Deduplicator{window: window, supersede: supersede}
}

// Classify decides what rec means relative to the tracked order.
// tracked is nil when nothing is tracked; pending is true only while
// the tracked order awaits a decision. Classify records its own
// NewOrder results for the suppression window, so the caller must act
// on every NewOrder it returns.
func (d *Deduplicator) Classify(rec *order.Record, tracked *order.Record, pending bool, now time.Time) Result {
	if tracked != nil && tracked.Fingerprint == rec.Fingerprint {
		if pending {
			return UpdateOf
		}
		// Same order re-surfacing after a terminal phase: within the
		// window it is residual jitter, beyond it a genuine re-offer.
		if d.withinWindow(rec.Fingerprint, now) {
			return Stale
		}
		return d.noteNew(rec.Fingerprint, now)
	}

	if d.withinWindow(rec.Fingerprint, now) {
		return Stale
	}

	if pending && tracked != nil && !d.supersede {
		return Stale
	}
	return d.noteNew(rec.Fingerprint, now)
}

func (d *Deduplicator) withinWindow(fp string, now time.Time) bool {
	return fp == d.lastFP && now.Sub(d.lastNewAt) < d.window
}

func (d *Deduplicator) noteNew(fp string, now time.Time) Result {
	d.lastFP = fp
	d.lastNewAt = now
	return NewOrder
}
