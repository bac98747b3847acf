package order

import (
	"fmt"
	"math"

	"golang.org/x/text/currency"
)

// Money is a fixed-point currency amount. Amount is in minor units
// (cents for USD, centavos for COP) with Scale minor-unit digits as
// defined by ISO 4217 for Currency.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Scale    int    `json:"scale"`
}

// NewMoney builds a Money in minor units, validating code against ISO
// 4217 and resolving its minor-unit scale.
func NewMoney(amount int64, code string) (Money, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return Money{}, fmt.Errorf("currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return Money{Amount: amount, Currency: unit.String(), Scale: scale}, nil
}

// Major returns the amount in major units as a float, for display and
// threshold math only. Never feed it back into Amount.
func (m Money) Major() float64 {
	return float64(m.Amount) / math.Pow10(m.Scale)
}

// Round returns the amount rounded to the nearest multiple of step
// minor units. Used by the fingerprint to absorb formatting jitter.
func (m Money) Round(step int64) int64 {
	if step <= 1 {
		return m.Amount
	}
	half := step / 2
	return ((m.Amount + half) / step) * step
}

// IsZero reports whether no amount was set.
func (m Money) IsZero() bool {
	return m.Amount == 0 && m.Currency == ""
}

// String formats the amount with its currency code, e.g. "12.50 USD".
func (m Money) String() string {
	if m.Scale == 0 {
		return fmt.Sprintf("%d %s", m.Amount, m.Currency)
	}
	div := int64(math.Pow10(m.Scale))
	return fmt.Sprintf("%d.%0*d %s", m.Amount/div, m.Scale, m.Amount%div, m.Currency)
}
