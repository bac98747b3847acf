package order

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"

	"offerwatchd/internal/event"
)

// Reject reasons. The pipeline logs and drops the event on any of
// these; the tracked order is never touched by a rejected record.
var (
	ErrMissingRequiredField = errors.New("missing required field")
	ErrUnparsableAmount     = errors.New("unparsable amount")
	ErrUnparsableDistance   = errors.New("unparsable distance")
)

// Config tunes locale handling and fingerprint stability.
type Config struct {
	// DefaultCurrency is the ISO 4217 code assumed when the fare text
	// carries a bare "$" or no currency marker at all.
	DefaultCurrency string

	// Symbols maps currency markers found in fare text to ISO codes.
	// Keys are matched case-insensitively.
	Symbols map[string]string

	// FareRoundStep is the minor-unit step the fingerprint rounds the
	// fare to, absorbing formatting jitter between observations.
	FareRoundStep int64

	// DistanceBucketMeters is the fingerprint's distance bucket width.
	DistanceBucketMeters int

	// AddressPrefixLen is how many normalized address runes feed the
	// fingerprint.
	AddressPrefixLen int

	// DefaultExpiry is applied when the source event carries no
	// countdown. Zero disables the synthetic countdown.
	DefaultExpiry time.Duration
}

// DefaultConfig returns the normalizer defaults.
func DefaultConfig() Config {
	return Config{
		DefaultCurrency: "COP",
		Symbols: map[string]string{
			"$": "", // resolved to DefaultCurrency
			"€": "EUR",
			"£": "GBP",
		},
		FareRoundStep:        100,
		DistanceBucketMeters: 500,
		AddressPrefixLen:     12,
		DefaultExpiry:        8 * time.Second,
	}
}

// Normalizer converts FieldSets into Records.
type Normalizer struct {
	cfg Config
}

// NewNormalizer builds a Normalizer, filling zero config values with
// defaults and validating the currency setup.
func NewNormalizer(cfg Config) (*Normalizer, error) {
	def := DefaultConfig()
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = def.DefaultCurrency
	}
	if _, err := currency.ParseISO(cfg.DefaultCurrency); err != nil {
		return nil, fmt.Errorf("default currency %q: %w", cfg.DefaultCurrency, err)
	}
	if cfg.Symbols == nil {
		cfg.Symbols = def.Symbols
	}
	for sym, code := range cfg.Symbols {
		if code == "" {
			continue
		}
		if _, err := currency.ParseISO(code); err != nil {
			return nil, fmt.Errorf("symbol %q: %w", sym, err)
		}
	}
	if cfg.FareRoundStep <= 0 {
		cfg.FareRoundStep = def.FareRoundStep
	}
	if cfg.DistanceBucketMeters <= 0 {
		cfg.DistanceBucketMeters = def.DistanceBucketMeters
	}
	if cfg.AddressPrefixLen <= 0 {
		cfg.AddressPrefixLen = def.AddressPrefixLen
	}
	return &Normalizer{cfg: cfg}, nil
}

// Normalize validates fs and produces a canonical Record stamped with
// sourceTS. Fare plus at least one address are required; malformed
// numerics are rejected rather than guessed at.
func (n *Normalizer) Normalize(fs event.FieldSet, sourceTS time.Time) (*Record, error) {
	fareRaw, ok := fs.Get(event.FieldFare)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequiredField, event.FieldFare)
	}
	pickup, pok := fs.Get(event.FieldPickupAddress)
	dropoff, dok := fs.Get(event.FieldDropoffAddress)
	pickup = strings.TrimSpace(pickup)
	dropoff = strings.TrimSpace(dropoff)
	if (!pok || pickup == "") && (!dok || dropoff == "") {
		return nil, fmt.Errorf("%w: %s or %s", ErrMissingRequiredField,
			event.FieldPickupAddress, event.FieldDropoffAddress)
	}
	if pickup == "" {
		pickup = UnknownAddress
	}
	if dropoff == "" {
		dropoff = UnknownAddress
	}

	fare, err := n.parseFare(fareRaw)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Fare:        fare,
		Pickup:      pickup,
		Dropoff:     dropoff,
		FirstSeenAt: sourceTS,
		LastSeenAt:  sourceTS,
	}

	if raw, ok := fs.Get(event.FieldDistance); ok {
		if rec.DistanceMeters, err = parseDistance(raw); err != nil {
			return nil, err
		}
	}
	if raw, ok := fs.Get(event.FieldPickupDistance); ok {
		if rec.PickupDistanceMeters, err = parseDistance(raw); err != nil {
			return nil, err
		}
	}

	// Optional enrichments: malformed values are dropped, not fatal.
	if raw, ok := fs.Get(event.FieldETA); ok {
		rec.ETAMinutes, _ = leadingInt(raw)
	}
	if raw, ok := fs.Get(event.FieldOrderID); ok {
		rec.OrderID = strings.TrimSpace(raw)
	}
	if raw, ok := fs.Get(event.FieldExpirySeconds); ok {
		if secs, err := leadingInt(raw); err == nil && secs > 0 {
			rec.ExpiresAt = sourceTS.Add(time.Duration(secs) * time.Second)
		}
	}
	if rec.ExpiresAt.IsZero() && n.cfg.DefaultExpiry > 0 {
		rec.ExpiresAt = sourceTS.Add(n.cfg.DefaultExpiry)
	}

	rec.Fingerprint = n.fingerprint(rec)
	return rec, nil
}

var fareNumber = regexp.MustCompile(`[0-9][0-9.,]*`)

// parseFare parses a raw fare string into fixed-point Money, honoring
// both decimal-point and decimal-comma locales: "$12.50", "12,50 €",
// "COP 138.200" all parse as intended.
func (n *Normalizer) parseFare(raw string) (Money, error) {
	s := strings.TrimSpace(raw)
	code := n.detectCurrency(s)

	num := fareNumber.FindString(s)
	if num == "" {
		return Money{}, fmt.Errorf("%w: %q", ErrUnparsableAmount, raw)
	}

	major, err := parseLocaleNumber(num)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrUnparsableAmount, raw)
	}

	unit, err := currency.ParseISO(code)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrUnparsableAmount, raw)
	}
	scale, _ := currency.Standard.Rounding(unit)
	minor := int64(math.Round(major * math.Pow10(scale)))
	return Money{Amount: minor, Currency: unit.String(), Scale: scale}, nil
}

// detectCurrency finds a currency marker in the fare text. ISO codes
// win over symbols; everything falls back to the default currency.
func (n *Normalizer) detectCurrency(s string) string {
	lower := strings.ToLower(s)
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool {
		return r < 'a' || r > 'z'
	}) {
		if len(tok) != 3 {
			continue
		}
		if unit, err := currency.ParseISO(strings.ToUpper(tok)); err == nil {
			return unit.String()
		}
	}
	for sym, code := range n.cfg.Symbols {
		if strings.Contains(lower, strings.ToLower(sym)) {
			if code == "" {
				return n.cfg.DefaultCurrency
			}
			return code
		}
	}
	return n.cfg.DefaultCurrency
}

// parseLocaleNumber resolves "." and "," without knowing the locale:
// with both present the last one is the decimal separator; a lone
// separator followed by exactly three digits is a thousands group
// ("138.200"), anything shorter is a decimal ("12.50", "3,2").
func parseLocaleNumber(num string) (float64, error) {
	lastDot := strings.LastIndexByte(num, '.')
	lastComma := strings.LastIndexByte(num, ',')

	var dec byte
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			dec = '.'
		} else {
			dec = ','
		}
	case lastDot >= 0:
		dec = separatorRole(num, '.')
	case lastComma >= 0:
		dec = separatorRole(num, ',')
	}

	cleaned := make([]byte, 0, len(num))
	for i := 0; i < len(num); i++ {
		c := num[i]
		switch {
		case c >= '0' && c <= '9':
			cleaned = append(cleaned, c)
		case c == dec && i == strings.LastIndexByte(num, dec):
			cleaned = append(cleaned, '.')
		}
	}
	return strconv.ParseFloat(string(cleaned), 64)
}

// separatorRole decides whether a lone separator kind is decimal or
// thousands. Returns the byte to treat as decimal, or 0 for none.
func separatorRole(num string, sep byte) byte {
	if strings.Count(num, string(sep)) > 1 {
		return 0 // repeated separators are always grouping
	}
	tail := len(num) - strings.LastIndexByte(num, sep) - 1
	if tail == 3 {
		return 0 // "138.200" style grouping
	}
	return sep
}

var distancePattern = regexp.MustCompile(`^([0-9]+(?:[.,][0-9]+)?)\s*(km|mi|m)?$`)

// parseDistance converts a raw distance string to meters. A missing
// unit suffix means kilometers, matching the observed app.
func parseDistance(raw string) (int, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	m := distancePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrUnparsableDistance, raw)
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnparsableDistance, raw)
	}
	var factor float64
	switch m[2] {
	case "", "km":
		factor = 1000
	case "mi":
		factor = 1609.344
	case "m":
		factor = 1
	}
	return int(math.Round(v * factor)), nil
}

var leadingDigits = regexp.MustCompile(`^\s*(\d+)`)

func leadingInt(raw string) (int, error) {
	m := leadingDigits.FindStringSubmatch(raw)
	if m == nil {
		return 0, fmt.Errorf("no leading integer in %q", raw)
	}
	return strconv.Atoi(m[1])
}
