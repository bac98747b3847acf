package event

import "fmt"

// Field names a value the extractor can pull out of a raw event.
type Field int

const (
	// FieldFare is the offered fare, symbol and separators included.
	FieldFare Field = iota + 1
	// FieldDistance is the trip distance with an optional unit suffix.
	FieldDistance
	// FieldPickupDistance is the distance to the pickup point.
	FieldPickupDistance
	// FieldETA is the estimated trip duration in minutes.
	FieldETA
	// FieldPickupAddress is the pickup address free text.
	FieldPickupAddress
	// FieldDropoffAddress is the destination address free text.
	FieldDropoffAddress
	// FieldOrderID is the observed app's own order identifier.
	FieldOrderID
	// FieldExpirySeconds is the offer countdown, in seconds.
	FieldExpirySeconds

	fieldMax
)

var fieldNames = map[Field]string{
	FieldFare:           "fare",
	FieldDistance:       "distance",
	FieldPickupDistance: "pickup_distance",
	FieldETA:            "eta",
	FieldPickupAddress:  "pickup_address",
	FieldDropoffAddress: "dropoff_address",
	FieldOrderID:        "order_id",
	FieldExpirySeconds:  "expiry_seconds",
}

// String returns the field's wire name as used in rule files.
func (f Field) String() string {
	if s, ok := fieldNames[f]; ok {
		return s
	}
	return fmt.Sprintf("field(%d)", int(f))
}

// ParseField maps a rule-file field name back to its Field.
func ParseField(s string) (Field, error) {
	for f, name := range fieldNames {
		if name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown field %q", s)
}

// Fields lists all defined fields in declaration order.
func Fields() []Field {
	out := make([]Field, 0, int(fieldMax)-1)
	for f := FieldFare; f < fieldMax; f++ {
		out = append(out, f)
	}
	return out
}

// FieldSet is the ephemeral output of extraction: raw strings keyed by
// field. Absent fields are simply unset.
type FieldSet map[Field]string

// Get returns the raw value for f, and whether it was extracted.
func (fs FieldSet) Get(f Field) (string, bool) {
	v, ok := fs[f]
	return v, ok
}

// Set records the raw value for f unless one is already present.
// Extraction rules run in priority order, so the first match wins.
func (fs FieldSet) Set(f Field, v string) bool {
	if _, ok := fs[f]; ok {
		return false
	}
	fs[f] = v
	return true
}

// Empty reports whether no rule fired at all.
func (fs FieldSet) Empty() bool {
	return len(fs) == 0
}
