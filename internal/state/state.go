// Package state owns the overlay's single source of truth: the
// lifecycle of the currently relevant order, if any.
//
// Exactly one goroutine (the pipeline worker) ever mutates the
// machine; subscribers receive immutable Overlay snapshots and redraw
// from scratch on every delivery.
package state

import (
	"log/slog"
	"sync"
	"time"

	"offerwatchd/internal/decision"
	"offerwatchd/internal/order"
)

// Phase is the lifecycle phase of the overlay.
type Phase int

const (
	// Idle means no order is tracked and the overlay shows nothing.
	Idle Phase = iota + 1
	// Pending means an order is on screen awaiting a decision.
	Pending
	// Decided is terminal until reset: the driver (or operator) decided.
	Decided
	// Expired is terminal until reset: the countdown ran out.
	Expired
)

// String returns the wire name of the phase.
func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Decided:
		return "decided"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Decision is the externally supplied outcome for a pending order.
type Decision struct {
	Verdict decision.Verdict `json:"verdict"`
	At      time.Time        `json:"at"`
}

// Overlay is the full overlay display state. Each emitted value is a
// complete replacement, never a diff.
type Overlay struct {
	// Seq increases by one per emitted render signal.
	Seq uint64 `json:"seq"`

	Phase Phase     `json:"phase"`
	At    time.Time `json:"at"`

	// Order is nil exactly when Phase is Idle.
	Order *order.Record `json:"order,omitempty"`

	// Recommendation is attached while an order is tracked.
	Recommendation *decision.Recommendation `json:"recommendation,omitempty"`

	// Decision is set only in the Decided phase.
	Decision *Decision `json:"decision,omitempty"`
}

// Machine drives the overlay lifecycle. All On* methods must be called
// from the single pipeline worker; Current and Subscribe are safe from
// any goroutine.
type Machine struct {
	log *slog.Logger

	mu   sync.Mutex
	cur  Overlay
	seq  uint64
	subs []chan Overlay

	// anomaly is invoked on every defensive no-op, for observability.
	anomaly func()
}

// NewMachine creates a Machine in the Idle phase.
func NewMachine(log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		log: log,
		cur: Overlay{Phase: Idle},
	}
}

// SetAnomalyHook installs a callback fired on every unknown-transition
// no-op. Must be set before the pipeline starts.
func (m *Machine) SetAnomalyHook(fn func()) {
	m.anomaly = fn
}

// Current returns the latest overlay snapshot.
func (m *Machine) Current() Overlay {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Subscribe registers a render-signal channel. Deliveries are
// non-blocking: a subscriber that falls behind loses intermediate
// frames, never the pipeline.
func (m *Machine) Subscribe(buffer int) <-chan Overlay {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Overlay, buffer)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (m *Machine) Unsubscribe(ch <-chan Overlay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if (<-chan Overlay)(s) == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(s)
			return
		}
	}
}

// OnNew installs rec as the tracked order and moves to Pending. Valid
// from every phase: a new order supersedes whatever was on screen.
func (m *Machine) OnNew(rec *order.Record, rc decision.Recommendation, now time.Time) {
	m.mu.Lock()
	if m.cur.Phase == Pending && m.cur.Order != nil {
		m.log.Info("superseding pending order",
			"old_fingerprint", m.cur.Order.Fingerprint,
			"new_fingerprint", rec.Fingerprint)
	}
	m.cur = Overlay{
		Phase:          Pending,
		Order:          rec,
		Recommendation: &rc,
	}
	m.emitLocked(now)
	m.mu.Unlock()
}

// OnUpdate refreshes the tracked order with a fingerprint-identical
// observation. Emits a render signal only when a displayed field
// actually changed. Returns whether a signal was emitted.
func (m *Machine) OnUpdate(rec *order.Record, rc decision.Recommendation, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.Phase != Pending || m.cur.Order == nil ||
		m.cur.Order.Fingerprint != rec.Fingerprint {
		m.noteAnomaly("update", rec.Fingerprint)
		return false
	}

	merged := *rec
	merged.FirstSeenAt = m.cur.Order.FirstSeenAt
	merged.LastSeenAt = now

	changed := !m.cur.Order.DisplayEqual(&merged)
	m.cur.Order = &merged
	m.cur.Recommendation = &rc
	if changed {
		m.emitLocked(now)
	}
	return changed
}

// OnDecided records the external decision for the pending order and
// moves to Decided. A decision with nothing pending is a logged no-op.
func (m *Machine) OnDecided(d Decision, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.Phase != Pending {
		m.noteAnomaly("decide", "")
		return false
	}
	m.cur.Phase = Decided
	m.cur.Decision = &d
	m.emitLocked(now)
	return true
}

// OnExpired moves the pending order to Expired, but only when the
// timeout still refers to the tracked order and its countdown has
// really passed. Stale timers are silently ignored.
func (m *Machine) OnExpired(fingerprint string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.Phase != Pending || m.cur.Order == nil {
		m.log.Debug("expiry for non-pending state", "fingerprint", fingerprint)
		return false
	}
	if m.cur.Order.Fingerprint != fingerprint {
		m.log.Debug("expiry for superseded order", "fingerprint", fingerprint)
		return false
	}
	if !m.cur.Order.Expired(now) {
		// Timer fired early relative to a refreshed countdown.
		return false
	}
	m.cur.Phase = Expired
	m.emitLocked(now)
	return true
}

// Reset returns to Idle. Valid from every non-Idle phase; resetting an
// idle machine is a no-op without a signal.
func (m *Machine) Reset(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.Phase == Idle {
		return false
	}
	m.cur = Overlay{Phase: Idle}
	m.emitLocked(now)
	return true
}

// emitLocked stamps and fans out the current overlay. Callers hold mu.
func (m *Machine) emitLocked(now time.Time) {
	m.seq++
	m.cur.Seq = m.seq
	m.cur.At = now
	snap := m.cur
	for _, s := range m.subs {
		select {
		case s <- snap:
		default:
			// Subscriber is behind; it will catch up on the next frame.
		}
	}
}

func (m *Machine) noteAnomaly(kind, fingerprint string) {
	m.log.Warn("unknown transition",
		"input", kind,
		"phase", m.cur.Phase.String(),
		"fingerprint", fingerprint)
	if m.anomaly != nil {
		m.anomaly()
	}
}
