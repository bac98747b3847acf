package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerwatchd/internal/decision"
	"offerwatchd/internal/event"
	"offerwatchd/internal/extract"
	"offerwatchd/internal/metrics"
	"offerwatchd/internal/order"
	"offerwatchd/internal/state"
)

type testPipeline struct {
	coord   *Coordinator
	machine *state.Machine
	met     *metrics.Set

	postID int
}

func newTestPipeline(t *testing.T, cfg Config, normCfg order.Config) *testPipeline {
	t.Helper()

	normalizer, err := order.NewNormalizer(normCfg)
	require.NoError(t, err)

	machine := state.NewMachine(nil)
	met := metrics.NewSet(metrics.NewRegistry("test"))

	coord, err := New(Options{
		Config:     cfg,
		Extractor:  extract.New(nil),
		Normalizer: normalizer,
		Machine:    machine,
		Metrics:    met,
	})
	require.NoError(t, err)

	coord.Start()
	t.Cleanup(coord.Stop)
	return &testPipeline{coord: coord, machine: machine, met: met}
}

// offer builds a distinct offer notification. Each call gets a fresh
// post id so the re-post cache never interferes.
func (p *testPipeline) offer(fare string) event.Raw {
	p.postID++
	return event.NewNotification(event.Notification{
		Package:  "com.didiglobal.driver",
		PostID:   p.postID,
		PostTime: time.Now(),
		Title:    "Nueva solicitud de viaje",
		Text:     fare + " · recogida a 1.2 km · viaje 8.4 km · Desde: Calle 26 · Hacia: Aeropuerto",
	}, time.Now())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPipelineDetectsOffer(t *testing.T) {
	p := newTestPipeline(t, Config{}, order.Config{})

	require.NoError(t, p.coord.Submit(p.offer("COP 12.500")))

	waitFor(t, "pending overlay", func() bool {
		return p.machine.Current().Phase == state.Pending
	})

	cur := p.machine.Current()
	require.NotNil(t, cur.Order)
	assert.Equal(t, int64(1250000), cur.Order.Fare.Amount)
	assert.Equal(t, "COP", cur.Order.Fare.Currency)
	assert.Equal(t, 8400, cur.Order.DistanceMeters)
	assert.Equal(t, 1200, cur.Order.PickupDistanceMeters)
	require.NotNil(t, cur.Recommendation)
	assert.Equal(t, uint64(1), p.met.OrdersDetected.Value())
}

func TestPipelineSuppressesJitter(t *testing.T) {
	p := newTestPipeline(t, Config{SuppressionWindow: time.Minute}, order.Config{})

	require.NoError(t, p.coord.Submit(p.offer("COP 12.500")))
	waitFor(t, "pending overlay", func() bool {
		return p.machine.Current().Phase == state.Pending
	})

	// The same order re-rendered: an update, not a second detection.
	require.NoError(t, p.coord.Submit(p.offer("COP 12.500")))
	waitFor(t, "update processed", func() bool {
		return p.met.OrdersUpdated.Value() == 1
	})
	assert.Equal(t, uint64(1), p.met.OrdersDetected.Value())

	// Decide, then let the same fingerprint bounce back inside the
	// window: suppressed, the decided overlay stays put.
	require.NoError(t, p.coord.Decide(decision.Reject))
	waitFor(t, "decided overlay", func() bool {
		return p.machine.Current().Phase == state.Decided
	})
	require.NoError(t, p.coord.Submit(p.offer("COP 12.500")))
	waitFor(t, "stale suppressed", func() bool {
		return p.met.StaleSuppressed.Value() == 1
	})
	assert.Equal(t, state.Decided, p.machine.Current().Phase)
	assert.Equal(t, uint64(1), p.met.OrdersDetected.Value())
}

func TestPipelineSupersede(t *testing.T) {
	p := newTestPipeline(t, Config{SupersedePending: true}, order.Config{})

	require.NoError(t, p.coord.Submit(p.offer("COP 12.500")))
	waitFor(t, "first order", func() bool {
		return p.met.OrdersDetected.Value() == 1
	})

	require.NoError(t, p.coord.Submit(p.offer("COP 18.300")))
	waitFor(t, "superseding order", func() bool {
		return p.met.OrdersDetected.Value() == 2
	})

	cur := p.machine.Current()
	assert.Equal(t, state.Pending, cur.Phase)
	assert.Equal(t, int64(1830000), cur.Order.Fare.Amount)
}

func TestPipelineKeepPendingWhenSupersedeDisabled(t *testing.T) {
	p := newTestPipeline(t, Config{SupersedePending: false}, order.Config{})

	require.NoError(t, p.coord.Submit(p.offer("COP 12.500")))
	waitFor(t, "first order", func() bool {
		return p.met.OrdersDetected.Value() == 1
	})

	require.NoError(t, p.coord.Submit(p.offer("COP 18.300")))
	waitFor(t, "second offer suppressed", func() bool {
		return p.met.StaleSuppressed.Value() == 1
	})

	assert.Equal(t, int64(1250000), p.machine.Current().Order.Fare.Amount)
}

func TestPipelineDecisionFlow(t *testing.T) {
	p := newTestPipeline(t, Config{}, order.Config{})

	require.NoError(t, p.coord.Submit(p.offer("COP 12.500")))
	waitFor(t, "pending overlay", func() bool {
		return p.machine.Current().Phase == state.Pending
	})

	require.NoError(t, p.coord.Decide(decision.Accept))
	waitFor(t, "decided overlay", func() bool {
		return p.machine.Current().Phase == state.Decided
	})

	cur := p.machine.Current()
	require.NotNil(t, cur.Decision)
	assert.Equal(t, decision.Accept, cur.Decision.Verdict)
	assert.Equal(t, uint64(1), p.met.OrdersDecided.Value())

	// A second decision has nothing pending: counted, not applied.
	require.NoError(t, p.coord.Decide(decision.Reject))
	waitFor(t, "anomaly counted", func() bool {
		return p.met.UnknownTransitions.Value() == 1
	})
	assert.Equal(t, decision.Accept, p.machine.Current().Decision.Verdict)

	require.NoError(t, p.coord.Dismiss())
	waitFor(t, "idle overlay", func() bool {
		return p.machine.Current().Phase == state.Idle
	})
}

func TestPipelineExpiry(t *testing.T) {
	p := newTestPipeline(t,
		Config{ExpiryGrace: 10 * time.Millisecond},
		order.Config{DefaultExpiry: 60 * time.Millisecond},
	)

	require.NoError(t, p.coord.Submit(p.offer("COP 12.500")))
	waitFor(t, "pending overlay", func() bool {
		return p.machine.Current().Phase == state.Pending
	})
	expiresAt := p.machine.Current().Order.ExpiresAt

	waitFor(t, "expired overlay", func() bool {
		return p.machine.Current().Phase == state.Expired
	})

	cur := p.machine.Current()
	assert.False(t, cur.At.Before(expiresAt), "expired at %v, before countdown end %v", cur.At, expiresAt)
	assert.Equal(t, uint64(1), p.met.OrdersExpired.Value())
}

func TestPipelineFilters(t *testing.T) {
	p := newTestPipeline(t, Config{}, order.Config{})

	// Noise notification.
	noise := event.NewNotification(event.Notification{
		Package: "com.didiglobal.driver",
		PostID:  9001,
		Text:    "Estás conectado. Espera una solicitud de viaje",
	}, time.Now())
	require.NoError(t, p.coord.Submit(noise))
	waitFor(t, "noise filtered", func() bool {
		return p.met.NoiseFiltered.Value() == 1
	})

	// Re-posted notification: same key submitted twice.
	repost := p.offer("COP 12.500")
	require.NoError(t, p.coord.Submit(repost))
	require.NoError(t, p.coord.Submit(repost))
	waitFor(t, "duplicate dropped", func() bool {
		return p.met.DuplicateEvents.Value() == 1
	})

	// Hinted but fare-less: extraction succeeds, normalization rejects.
	broken := event.NewNotification(event.Notification{
		Package: "com.didiglobal.driver",
		PostID:  9002,
		Text:    "Nueva solicitud de viaje · Desde: Calle 26",
	}, time.Now())
	require.NoError(t, p.coord.Submit(broken))
	waitFor(t, "normalization reject", func() bool {
		return p.met.NormalizationRejects.Value() == 1
	})

	// No offer hint at all.
	miss := event.NewNotification(event.Notification{
		Package: "com.didiglobal.driver",
		PostID:  9003,
		Text:    "Gracias por conducir hoy",
	}, time.Now())
	require.NoError(t, p.coord.Submit(miss))
	waitFor(t, "extraction miss", func() bool {
		return p.met.ExtractionMisses.Value() == 1
	})

	assert.Equal(t, uint64(1), p.met.OrdersDetected.Value())
}

func TestPipelineOverflow(t *testing.T) {
	// Unstarted coordinator: the queue fills without draining.
	normalizer, err := order.NewNormalizer(order.Config{})
	require.NoError(t, err)
	met := metrics.NewSet(metrics.NewRegistry("test"))
	coord, err := New(Options{
		Config:     Config{QueueSize: 5},
		Extractor:  extract.New(nil),
		Normalizer: normalizer,
		Machine:    state.NewMachine(nil),
		Metrics:    met,
	})
	require.NoError(t, err)
	defer coord.Stop()

	for i := 0; i < 6; i++ {
		raw := event.NewNotification(event.Notification{
			Package: "com.didiglobal.driver",
			PostID:  i,
			Text:    "Nueva solicitud",
		}, time.Now())
		require.NoError(t, coord.Submit(raw))
	}

	assert.Equal(t, uint64(6), met.EventsSubmitted.Value())
	assert.Equal(t, uint64(1), met.QueueOverflows.Value())
	assert.Equal(t, 5, coord.q.len())
}

func TestPipelineStop(t *testing.T) {
	p := newTestPipeline(t, Config{}, order.Config{})

	require.NoError(t, p.coord.Submit(p.offer("COP 12.500")))
	waitFor(t, "pending overlay", func() bool {
		return p.machine.Current().Phase == state.Pending
	})

	p.coord.Stop()
	assert.Equal(t, state.Idle, p.machine.Current().Phase)

	err := p.coord.Submit(p.offer("COP 18.300"))
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, p.coord.Decide(decision.Accept), ErrStopped)
	assert.ErrorIs(t, p.coord.Dismiss(), ErrStopped)

	// Stop is idempotent.
	p.coord.Stop()
}

func TestPipelineReloadRules(t *testing.T) {
	p := newTestPipeline(t, Config{}, order.Config{})

	rs, err := extract.Compile(&extract.RulesConfig{Version: 1, Packages: []string{"com.example.none"}})
	require.NoError(t, err)
	p.coord.ReloadRules(rs)

	require.NoError(t, p.coord.Submit(p.offer("COP 12.500")))
	waitFor(t, "extraction miss", func() bool {
		return p.met.ExtractionMisses.Value() == 1
	})
	assert.Equal(t, state.Idle, p.machine.Current().Phase)
}
