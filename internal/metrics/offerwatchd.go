package metrics

// Set holds every offerwatchd pipeline metric.
type Set struct {
	registry *Registry

	// Counters
	EventsSubmitted      *Counter
	QueueOverflows       *Counter
	NoiseFiltered        *Counter
	DuplicateEvents      *Counter
	ExtractionMisses     *Counter
	NormalizationRejects *Counter
	StaleSuppressed      *Counter
	OrdersDetected       *Counter
	OrdersUpdated        *Counter
	OrdersExpired        *Counter
	OrdersDecided        *Counter
	UnknownTransitions   *Counter

	// Gauges
	QueueDepth *Gauge
}

// NewSet creates and registers all pipeline metrics. A nil registry
// uses the process-wide default.
func NewSet(registry *Registry) *Set {
	if registry == nil {
		registry = Default()
	}
	return &Set{
		registry: registry,

		EventsSubmitted: registry.RegisterCounter(
			"events_submitted_total",
			"Raw events submitted to the pipeline"),
		QueueOverflows: registry.RegisterCounter(
			"queue_overflows_total",
			"Events dropped because the queue was full"),
		NoiseFiltered: registry.RegisterCounter(
			"noise_filtered_total",
			"Notifications dropped by the noise filter"),
		DuplicateEvents: registry.RegisterCounter(
			"duplicate_events_total",
			"Re-posted notifications dropped before extraction"),
		ExtractionMisses: registry.RegisterCounter(
			"extraction_misses_total",
			"Events no extraction rule fired for"),
		NormalizationRejects: registry.RegisterCounter(
			"normalization_rejects_total",
			"Field sets rejected by the normalizer"),
		StaleSuppressed: registry.RegisterCounter(
			"stale_suppressed_total",
			"Records classified stale by the deduplicator"),
		OrdersDetected: registry.RegisterCounter(
			"orders_detected_total",
			"New orders that reached the overlay"),
		OrdersUpdated: registry.RegisterCounter(
			"orders_updated_total",
			"Updates applied to a tracked order"),
		OrdersExpired: registry.RegisterCounter(
			"orders_expired_total",
			"Tracked orders that timed out"),
		OrdersDecided: registry.RegisterCounter(
			"orders_decided_total",
			"Tracked orders with an external decision"),
		UnknownTransitions: registry.RegisterCounter(
			"unknown_transitions_total",
			"Defensive no-ops in the state machine"),

		QueueDepth: registry.RegisterGauge(
			"queue_depth",
			"Events currently waiting in the pipeline queue"),
	}
}

// Registry returns the registry the set is registered in.
func (s *Set) Registry() *Registry {
	return s.registry
}
