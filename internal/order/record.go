// Package order turns extracted raw fields into canonical order
// records: typed amounts, distances in meters, and a fingerprint that
// stays stable across repeated, slightly-varying observations of the
// same real-world order.
package order

import "time"

// UnknownAddress marks an address the source event did not carry.
const UnknownAddress = "unknown"

// Record is the canonical form of one observed ride offer.
type Record struct {
	// Fingerprint identifies the real-world order across repeated
	// observations. See Fingerprint in this package.
	Fingerprint string `json:"fingerprint"`

	// EventID is the id of the raw event this record came from.
	EventID string `json:"event_id,omitempty"`

	Fare Money `json:"fare"`

	// DistanceMeters is the trip distance; zero when not observed.
	DistanceMeters int `json:"distance_meters"`

	// PickupDistanceMeters is the leg to the pickup point; zero when
	// not observed.
	PickupDistanceMeters int `json:"pickup_distance_meters,omitempty"`

	// ETAMinutes is the estimated trip duration; zero when not observed.
	ETAMinutes int `json:"eta_minutes,omitempty"`

	Pickup  string `json:"pickup"`
	Dropoff string `json:"dropoff"`

	// OrderID is the observed app's own identifier, when it leaks one.
	OrderID string `json:"order_id,omitempty"`

	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`

	// ExpiresAt is when the offer countdown runs out; zero when the
	// source carried no countdown and no default expiry is configured.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Expired reports whether the offer countdown has passed at now.
// Records without a countdown never expire on their own.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// DisplayEqual reports whether other would render identically on the
// overlay. Updates that change nothing displayable emit no render
// signal.
func (r *Record) DisplayEqual(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.Fare == other.Fare &&
		r.DistanceMeters == other.DistanceMeters &&
		r.PickupDistanceMeters == other.PickupDistanceMeters &&
		r.ETAMinutes == other.ETAMinutes &&
		r.Pickup == other.Pickup &&
		r.Dropoff == other.Dropoff &&
		r.ExpiresAt.Equal(other.ExpiresAt)
}

// TotalKm is the pickup leg plus the trip, in kilometers, floored at a
// token 0.1 so per-km math never divides by zero.
func (r *Record) TotalKm() float64 {
	km := float64(r.PickupDistanceMeters+r.DistanceMeters) / 1000
	if km < 0.1 {
		return 0.1
	}
	return km
}
