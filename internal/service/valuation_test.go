package service_test

import (
	"testing"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValuation() *service.ValuationPolicy {
	return service.NewValuationPolicy(domain.MustMoney("2.00"), 70, []domain.MaterialType{domain.MaterialPET, domain.MaterialHDPE})
}

func TestValue_TenKilos(t *testing.T) {
	v := newValuation()

	total, err := v.Value(domain.MaterialPET, kg("10"))
	require.NoError(t, err)
	assert.Equal(t, domain.MustMoney("20.00"), total)

	cash, tokens := v.Split(total)
	assert.Equal(t, domain.MustMoney("14.00"), cash)
	assert.Equal(t, domain.MustMoney("6.00"), tokens)
}

func TestValue_RoundsHalfUp(t *testing.T) {
	v := service.NewValuationPolicy(domain.MustMoney("1.25"), 70, []domain.MaterialType{domain.MaterialPET})

	// 0.002 kg * 125 = 0.25 minor units
	total, err := v.Value(domain.MaterialPET, kg("0.002"))
	require.NoError(t, err)
	assert.Equal(t, domain.Money(0), total)

	// 0.004 kg * 125 = 0.5 minor units
	total, err = v.Value(domain.MaterialPET, kg("0.004"))
	require.NoError(t, err)
	assert.Equal(t, domain.Money(1), total)
}

func TestValue_Rejects(t *testing.T) {
	v := newValuation()

	tests := []struct {
		name     string
		material domain.MaterialType
		weight   string
		field    string
	}{
		{"unsupported material", domain.MaterialPS, "1", "material_type"},
		{"zero weight", domain.MaterialPET, "0", "weight_kg"},
		{"negative weight", domain.MaterialPET, "-2", "weight_kg"},
		{"too precise", domain.MaterialPET, "1.2345", "weight_kg"},
		{"product beyond int64", domain.MaterialPET, "100000000000000000", "weight_kg"},
		{"product beyond money cap", domain.MaterialPET, "1000000000000000", "weight_kg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Value(tt.material, kg(tt.weight))
			var verr *domain.ErrValidation
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestSplit_Conserves(t *testing.T) {
	for _, pct := range []int64{0, 1, 33, 50, 70, 99, 100} {
		v := service.NewValuationPolicy(domain.MustMoney("2.00"), pct, []domain.MaterialType{domain.MaterialPET})
		for total := domain.Money(0); total <= 1000; total += 7 {
			cash, tokens := v.Split(total)
			assert.Equal(t, total, cash+tokens, "pct=%d total=%d", pct, total)
			assert.GreaterOrEqual(t, int64(cash), int64(0))
			assert.GreaterOrEqual(t, int64(tokens), int64(0))
		}
	}
}

func TestSplit_ConservesAtMaxMoney(t *testing.T) {
	v := newValuation()

	cash, tokens := v.Split(domain.MaxMoney)
	assert.Equal(t, domain.MaxMoney, cash+tokens)
	assert.Positive(t, int64(tokens))
}

func TestSplit_TokensRoundDown(t *testing.T) {
	v := newValuation()

	// 30% of 0.01 is 0.003: tokens floor to zero, cash takes the cent.
	cash, tokens := v.Split(1)
	assert.Equal(t, domain.Money(1), cash)
	assert.Equal(t, domain.Money(0), tokens)
}
