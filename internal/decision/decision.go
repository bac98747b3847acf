// Package decision scores a normalized order against the driver's
// configured thresholds and produces an accept/reject recommendation.
//
// The recommendation rides along on the published overlay state; the
// binding decision still comes from the driver.
package decision

import (
	"fmt"

	"offerwatchd/internal/order"
)

// Verdict is the recommendation outcome.
type Verdict int

const (
	// Accept means the offer clears every threshold.
	Accept Verdict = iota + 1
	// Reject means at least one threshold failed.
	Reject
)

// ParseVerdict maps a wire name back to its Verdict.
func ParseVerdict(s string) (Verdict, error) {
	switch s {
	case "accept":
		return Accept, nil
	case "reject":
		return Reject, nil
	default:
		return 0, fmt.Errorf("unknown verdict %q", s)
	}
}

// String returns the wire name of the verdict.
func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Config holds the profitability thresholds, in major units of the
// fare currency.
type Config struct {
	// FuelCostPerKm is the estimated running cost per kilometer.
	FuelCostPerKm float64

	// MaxPickupKm rejects offers with a longer pickup leg.
	MaxPickupKm float64

	// MinNet is the minimum fare after estimated cost.
	MinNet float64

	// MinRatePerMinute is the minimum fare per ETA minute.
	MinRatePerMinute float64

	// MinTripKm rejects trips shorter than this.
	MinTripKm float64
}

// DefaultConfig returns thresholds tuned for COP fares.
func DefaultConfig() Config {
	return Config{
		FuelCostPerKm:    500,
		MaxPickupKm:      2.0,
		MinNet:           3000,
		MinRatePerMinute: 400,
		MinTripKm:        1.0,
	}
}

// Recommendation is the scored outcome for one order.
type Recommendation struct {
	Verdict Verdict `json:"verdict"`

	// Reason is a short display line: the margin summary on accept,
	// the first failing threshold on reject.
	Reason string `json:"reason"`

	// Net is fare minus estimated running cost, in major units.
	Net float64 `json:"net"`

	// RatePerMinute is fare per ETA minute; zero when no ETA was seen.
	RatePerMinute float64 `json:"rate_per_minute"`

	// TotalKm is pickup leg plus trip.
	TotalKm float64 `json:"total_km"`
}

// Engine evaluates orders against a fixed threshold set.
type Engine struct {
	cfg Config
}

// New creates an Engine with the given thresholds.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate scores rec. Missing observations lean permissive: an order
// without an ETA skips the per-minute check, one without distances
// skips the trip checks. Thresholds only reject on evidence.
func (e *Engine) Evaluate(rec *order.Record) Recommendation {
	fare := rec.Fare.Major()
	pickupKm := float64(rec.PickupDistanceMeters) / 1000
	tripKm := float64(rec.DistanceMeters) / 1000
	totalKm := rec.TotalKm()

	net := fare - totalKm*e.cfg.FuelCostPerKm
	var rpm float64
	if rec.ETAMinutes > 0 {
		rpm = fare / float64(rec.ETAMinutes)
	}

	okPickup := pickupKm <= e.cfg.MaxPickupKm
	okNet := net >= e.cfg.MinNet
	okRate := rec.ETAMinutes == 0 || rpm >= e.cfg.MinRatePerMinute
	okTrip := rec.DistanceMeters == 0 || tripKm >= e.cfg.MinTripKm

	r := Recommendation{Net: net, RatePerMinute: rpm, TotalKm: totalKm}
	if okPickup && okNet && okRate && okTrip {
		r.Verdict = Accept
		r.Reason = fmt.Sprintf("net %.0f · %.0f/min · pickup %.1f km", net, rpm, pickupKm)
		return r
	}

	r.Verdict = Reject
	switch {
	case !okTrip:
		r.Reason = fmt.Sprintf("trip too short (%.1f km)", tripKm)
	case !okPickup:
		r.Reason = fmt.Sprintf("pickup too far (%.1f km)", pickupKm)
	case !okRate:
		r.Reason = fmt.Sprintf("rate too low (%.0f/min)", rpm)
	default:
		r.Reason = fmt.Sprintf("net too low (%.0f)", net)
	}
	return r
}
