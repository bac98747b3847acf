// Package pipeline serializes the two producer streams through
// extraction, normalization, deduplication, and the state machine,
// strictly in arrival order, on one dedicated worker.
//
// Submit never blocks the OS callback thread: events go through a
// bounded drop-oldest queue. Expiry is a scheduled wakeup injected into
// the same queue, so the worker stays the only writer of overlay state.
package pipeline

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"offerwatchd/internal/decision"
	"offerwatchd/internal/dedup"
	"offerwatchd/internal/event"
	"offerwatchd/internal/extract"
	"offerwatchd/internal/metrics"
	"offerwatchd/internal/order"
	"offerwatchd/internal/state"
	"offerwatchd/internal/stats"
)

// Config tunes the coordinator.
type Config struct {
	// QueueSize bounds the event queue. Overflow drops the oldest
	// unprocessed event.
	QueueSize int

	// SuppressionWindow is the minimum re-detection interval for the
	// same fingerprint.
	SuppressionWindow time.Duration

	// SupersedePending controls whether a different order arriving
	// while one is pending replaces it.
	SupersedePending bool

	// ExpiryGrace is added to each offer countdown before the
	// synthetic timeout fires, absorbing source-side clock skew.
	ExpiryGrace time.Duration

	// SeenCap and SeenTTL bound the re-posted-notification cache.
	SeenCap int
	SeenTTL time.Duration
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:         50,
		SuppressionWindow: 500 * time.Millisecond,
		SupersedePending:  true,
		ExpiryGrace:       200 * time.Millisecond,
		SeenCap:           1024,
		SeenTTL:           5 * time.Minute,
	}
}

// Options carries the coordinator's collaborators. Extractor,
// Normalizer, and Machine are required; the rest default sensibly.
type Options struct {
	Config     Config
	Logger     *slog.Logger
	Extractor  *extract.Extractor
	Normalizer *order.Normalizer
	Engine     *decision.Engine
	Machine    *state.Machine
	Stats      *stats.Store // optional
	Metrics    *metrics.Set // optional, defaults to the global registry
}

// Coordinator owns the queue, the worker, and the expiry timer.
type Coordinator struct {
	cfg Config
	log *slog.Logger

	extractor  *extract.Extractor
	normalizer *order.Normalizer
	engine     *decision.Engine
	machine    *state.Machine
	dedup      *dedup.Deduplicator
	stats      *stats.Store
	met        *metrics.Set

	q    *queue
	seen *seenCache

	timerMu sync.Mutex
	timer   *time.Timer

	now func() time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("pipeline stopped")

// New builds a Coordinator. It does not start the worker; call Start.
func New(opts Options) (*Coordinator, error) {
	if opts.Extractor == nil || opts.Normalizer == nil || opts.Machine == nil {
		return nil, errors.New("pipeline: extractor, normalizer, and machine are required")
	}
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SuppressionWindow <= 0 {
		cfg.SuppressionWindow = def.SuppressionWindow
	}
	if cfg.SeenCap <= 0 {
		cfg.SeenCap = def.SeenCap
	}
	if cfg.SeenTTL <= 0 {
		cfg.SeenTTL = def.SeenTTL
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	met := opts.Metrics
	if met == nil {
		met = metrics.NewSet(nil)
	}
	engine := opts.Engine
	if engine == nil {
		engine = decision.New(decision.DefaultConfig())
	}

	c := &Coordinator{
		cfg:        cfg,
		log:        log,
		extractor:  opts.Extractor,
		normalizer: opts.Normalizer,
		engine:     engine,
		machine:    opts.Machine,
		dedup:      dedup.New(cfg.SuppressionWindow, cfg.SupersedePending),
		stats:      opts.Stats,
		met:        met,
		q:          newQueue(cfg.QueueSize),
		seen:       newSeenCache(cfg.SeenCap, cfg.SeenTTL),
		now:        time.Now,
		done:       make(chan struct{}),
	}
	c.machine.SetAnomalyHook(met.UnknownTransitions.Inc)
	return c, nil
}

// SetClock overrides the wall clock, for tests. Call before Start.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Start launches the worker.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop shuts the pipeline down: further submissions are rejected, the
// queue is discarded without processing, and the overlay resets to
// Idle. Safe to call more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.q.close()
		c.wg.Wait()
		c.stopTimer()
		c.machine.Reset(c.now())
	})
}

// Submit enqueues a raw event from a producer thread. It never blocks:
// when the queue is full the oldest unprocessed event is dropped and
// an overflow anomaly recorded.
func (c *Coordinator) Submit(raw event.Raw) error {
	c.met.EventsSubmitted.Inc()
	dropped, ok := c.q.push(task{raw: &raw})
	if !ok {
		return ErrStopped
	}
	if dropped {
		c.met.QueueOverflows.Inc()
		c.log.Warn("queue overflow, oldest event dropped", "queue_size", c.cfg.QueueSize)
	}
	c.met.QueueDepth.Set(int64(c.q.len()))
	return nil
}

// Decide injects the external decision for the pending order.
func (c *Coordinator) Decide(verdict decision.Verdict) error {
	d := &state.Decision{Verdict: verdict, At: c.now()}
	if _, ok := c.q.push(task{decide: d}); !ok {
		return ErrStopped
	}
	return nil
}

// Dismiss resets the overlay to Idle (overlay card closed).
func (c *Coordinator) Dismiss() error {
	if _, ok := c.q.push(task{reset: true}); !ok {
		return ErrStopped
	}
	return nil
}

// ReloadRules swaps the extraction rule table.
func (c *Coordinator) ReloadRules(rs *extract.RuleSet) {
	c.extractor.Reload(rs)
	c.log.Info("extraction rules reloaded")
}

func (c *Coordinator) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-c.q.wait():
		}
		for {
			t, ok := c.q.tryPop()
			if !ok {
				break
			}
			c.met.QueueDepth.Set(int64(c.q.len()))
			c.process(t)
		}
	}
}

func (c *Coordinator) process(t task) {
	now := c.now()
	switch {
	case t.reset:
		c.stopTimer()
		c.machine.Reset(now)

	case t.decide != nil:
		c.applyDecision(*t.decide, now)

	case t.timeout != nil:
		if c.machine.OnExpired(t.timeout.fingerprint, now) {
			c.stopTimer()
			c.met.OrdersExpired.Inc()
		}

	case t.raw != nil:
		c.processRaw(*t.raw, now)
	}
}

func (c *Coordinator) applyDecision(d state.Decision, now time.Time) {
	cur := c.machine.Current()
	if !c.machine.OnDecided(d, now) {
		return
	}
	c.stopTimer()
	c.met.OrdersDecided.Inc()

	if c.stats == nil || cur.Order == nil {
		return
	}
	var err error
	switch d.Verdict {
	case decision.Accept:
		var net float64
		if cur.Recommendation != nil {
			net = cur.Recommendation.Net
		}
		err = c.stats.AddAccepted(net, cur.Order.Fare.Major())
	case decision.Reject:
		err = c.stats.AddRejected()
	}
	if err != nil {
		c.log.Error("record decision stats", "error", err)
	}
}

func (c *Coordinator) processRaw(raw event.Raw, now time.Time) {
	log := c.log.With("event_id", raw.ID, "kind", raw.Kind.String())

	if n := raw.Notification; n != nil {
		if c.seen.observe(n.Key(), now) {
			c.met.DuplicateEvents.Inc()
			log.Debug("re-posted notification dropped")
			return
		}
		if c.extractor.Noisy(n) {
			c.met.NoiseFiltered.Inc()
			log.Debug("noise notification dropped")
			return
		}
	}

	fs := c.extractor.Extract(raw)
	if fs.Empty() {
		c.met.ExtractionMisses.Inc()
		log.Debug("no extraction rule fired")
		return
	}

	rec, err := c.normalizer.Normalize(fs, raw.Timestamp)
	if err != nil {
		c.met.NormalizationRejects.Inc()
		log.Info("record rejected", "reason", err)
		return
	}
	rec.EventID = raw.ID

	cur := c.machine.Current()
	pending := cur.Phase == state.Pending

	switch c.dedup.Classify(rec, cur.Order, pending, now) {
	case dedup.Stale:
		c.met.StaleSuppressed.Inc()
		log.Debug("stale record suppressed", "fingerprint", rec.Fingerprint)

	case dedup.UpdateOf:
		rc := c.engine.Evaluate(rec)
		if c.machine.OnUpdate(rec, rc, now) {
			log.Debug("tracked order updated", "fingerprint", rec.Fingerprint)
		}
		c.met.OrdersUpdated.Inc()
		c.armTimer(rec)

	case dedup.NewOrder:
		rc := c.engine.Evaluate(rec)
		c.machine.OnNew(rec, rc, now)
		c.met.OrdersDetected.Inc()
		log.Info("order detected",
			"fingerprint", rec.Fingerprint,
			"fare", rec.Fare.String(),
			"verdict", rc.Verdict.String())
		if c.stats != nil {
			if err := c.stats.AddConsidered(); err != nil {
				c.log.Error("record considered stats", "error", err)
			}
		}
		c.armTimer(rec)
	}
}

// armTimer schedules the synthetic timeout for rec's countdown. The
// callback only enqueues; the worker performs the transition, so the
// single-writer invariant holds.
func (c *Coordinator) armTimer(rec *order.Record) {
	c.stopTimer()
	if rec.ExpiresAt.IsZero() {
		return
	}
	delay := rec.ExpiresAt.Sub(c.now()) + c.cfg.ExpiryGrace
	if delay < 0 {
		delay = 0
	}
	fp := rec.Fingerprint
	c.timerMu.Lock()
	c.timer = time.AfterFunc(delay, func() {
		c.q.push(task{timeout: &timeoutTask{fingerprint: fp}})
	})
	c.timerMu.Unlock()
}

func (c *Coordinator) stopTimer() {
	c.timerMu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerMu.Unlock()
}
