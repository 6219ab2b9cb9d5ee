package service

import (
	"github.com/boddenberg/plastic-rewards-go/internal/domain"

	"github.com/shopspring/decimal"
)

// maxWeightPlaces is gram precision; scales do not report finer weights.
const maxWeightPlaces = 3

// ValuationPolicy prices collected plastic and splits the value into
// instant cash and savings tokens.
type ValuationPolicy struct {
	pricePerKg  domain.Money
	cashPercent int64
	materials   map[domain.MaterialType]struct{}
}

// NewValuationPolicy builds a policy. cashPercent is the share of the value
// paid out in cash; tokens take the rest.
func NewValuationPolicy(pricePerKg domain.Money, cashPercent int64, materials []domain.MaterialType) *ValuationPolicy {
	set := make(map[domain.MaterialType]struct{}, len(materials))
	for _, m := range materials {
		set[m] = struct{}{}
	}
	return &ValuationPolicy{pricePerKg: pricePerKg, cashPercent: cashPercent, materials: set}
}

// PricePerKg is the flat price applied to every accepted material.
func (p *ValuationPolicy) PricePerKg() domain.Money { return p.pricePerKg }

// Accepts reports whether the material is priced by this policy.
func (p *ValuationPolicy) Accepts(m domain.MaterialType) bool {
	_, ok := p.materials[m]
	return ok
}

// Value prices weightKg of material, rounded half-up to the minor unit.
func (p *ValuationPolicy) Value(material domain.MaterialType, weightKg decimal.Decimal) (domain.Money, error) {
	if !p.Accepts(material) {
		return 0, &domain.ErrValidation{Field: "material_type", Message: "unsupported material " + string(material)}
	}
	if !weightKg.IsPositive() {
		return 0, &domain.ErrValidation{Field: "weight_kg", Message: "must be greater than zero"}
	}
	if !weightKg.Equal(weightKg.Truncate(maxWeightPlaces)) {
		return 0, &domain.ErrValidation{Field: "weight_kg", Message: "at most 3 decimal places"}
	}

	minor := weightKg.Mul(decimal.NewFromInt(int64(p.pricePerKg))).Round(0)
	total, err := domain.MoneyFromMinor(minor)
	if err != nil {
		return 0, &domain.ErrValidation{Field: "weight_kg", Message: "weight is too large to price"}
	}
	return total, nil
}

// Split divides total into cash and tokens. Tokens are rounded down and
// cash is the complement, so cash + tokens == total always holds.
func (p *ValuationPolicy) Split(total domain.Money) (cash, tokens domain.Money) {
	tokens = total * domain.Money(100-p.cashPercent) / 100
	cash = total - tokens
	return cash, tokens
}
