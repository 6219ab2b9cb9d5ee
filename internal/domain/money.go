package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is the currency used when a request does not name one.
const DefaultCurrency = "GHS"

// minorUnitExponent is the number of decimal places of the currency minor unit (pesewas).
const minorUnitExponent = 2

// Money is an amount in currency minor units (1 GH₵ = 100 pesewas).
// All ledger arithmetic happens on Money so splits never leak fractions.
type Money int64

// MaxMoney bounds every amount so a percentage product (at most ×100)
// still fits in int64.
const MaxMoney = Money(math.MaxInt64 / 100)

var (
	maxMinor = decimal.NewFromInt(int64(MaxMoney))
	minMinor = maxMinor.Neg()
)

// MoneyFromMinor converts a whole number of minor units, rejecting values
// outside ±MaxMoney instead of wrapping.
func MoneyFromMinor(minor decimal.Decimal) (Money, error) {
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return 0, &ErrValidation{Field: "amount", Message: fmt.Sprintf("amount exceeds %s", MaxMoney)}
	}
	return Money(minor.IntPart()), nil
}

// NewMoney converts a decimal major-unit amount into Money.
// Amounts with more precision than the minor unit are rejected, not rounded.
func NewMoney(d decimal.Decimal) (Money, error) {
	shifted := d.Shift(minorUnitExponent)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, &ErrValidation{
			Field:   "amount",
			Message: fmt.Sprintf("amount %s has more than %d decimal places", d.String(), minorUnitExponent),
		}
	}
	return MoneyFromMinor(shifted)
}

// ParseMoney parses a major-unit string such as "14.00".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return NewMoney(d)
}

// MustMoney is ParseMoney for literals in tests and defaults.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -minorUnitExponent)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(minorUnitExponent)
}

// MarshalJSON renders Money as a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts both quoted and bare numbers in major units.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
