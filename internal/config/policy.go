package config

import (
	"fmt"
	"os"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"

	"gopkg.in/yaml.v3"
)

// Policy is the pricing and allocation policy of the programme.
// Defaults apply unless a POLICY_FILE overrides them.
type Policy struct {
	Currency          string
	PricePerKg        domain.Money
	CashSharePercent  int64
	Materials         []domain.MaterialType
	DefaultAllocation domain.Allocation
	UnitCosts         domain.UnitCosts
}

// policyFile mirrors the YAML layout; amounts are major-unit strings.
type policyFile struct {
	Currency          string   `yaml:"currency"`
	PricePerKg        string   `yaml:"price_per_kg"`
	CashSharePercent  *int64   `yaml:"cash_share_percent"`
	Materials         []string `yaml:"materials"`
	DefaultAllocation *struct {
		CollectionFunding  int `yaml:"collection_funding"`
		HealthcareAccess   int `yaml:"healthcare_access"`
		HealthIntelligence int `yaml:"health_intelligence"`
		Operations         int `yaml:"operations"`
	} `yaml:"default_allocation"`
	UnitCosts struct {
		CollectorSupport string `yaml:"collector_support"`
		PlasticKg        string `yaml:"plastic_kg"`
		NHISEnrollment   string `yaml:"nhis_enrollment"`
		HealthScreen     string `yaml:"health_screen"`
		Community        string `yaml:"community"`
	} `yaml:"unit_costs"`
}

// DefaultPolicy returns the built-in programme policy.
func DefaultPolicy() *Policy {
	return &Policy{
		Currency:         domain.DefaultCurrency,
		PricePerKg:       domain.MustMoney("2.00"),
		CashSharePercent: 70,
		Materials: []domain.MaterialType{
			domain.MaterialPET,
			domain.MaterialHDPE,
			domain.MaterialLDPE,
			domain.MaterialPP,
			domain.MaterialPS,
			domain.MaterialOther,
		},
		DefaultAllocation: domain.Allocation{
			CollectionFunding:  40,
			HealthcareAccess:   35,
			HealthIntelligence: 15,
			Operations:         10,
		},
		UnitCosts: domain.UnitCosts{
			CollectorSupport: domain.MustMoney("50"),
			PlasticKg:        domain.MustMoney("2"),
			NHISEnrollment:   domain.MustMoney("30"),
			HealthScreen:     domain.MustMoney("15"),
			Community:        domain.MustMoney("100"),
		},
	}
}

// LoadPolicy returns the default policy overlaid with the YAML file at path.
// An empty path returns the defaults.
func LoadPolicy(path string) (*Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var f policyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode policy file: %w", err)
	}

	if f.Currency != "" {
		p.Currency = f.Currency
	}
	if f.PricePerKg != "" {
		if p.PricePerKg, err = domain.ParseMoney(f.PricePerKg); err != nil {
			return nil, fmt.Errorf("price_per_kg: %w", err)
		}
	}
	if f.CashSharePercent != nil {
		p.CashSharePercent = *f.CashSharePercent
	}
	if len(f.Materials) > 0 {
		p.Materials = p.Materials[:0]
		for _, m := range f.Materials {
			p.Materials = append(p.Materials, domain.ParseMaterialType(m))
		}
	}
	if a := f.DefaultAllocation; a != nil {
		p.DefaultAllocation = domain.Allocation{
			CollectionFunding:  a.CollectionFunding,
			HealthcareAccess:   a.HealthcareAccess,
			HealthIntelligence: a.HealthIntelligence,
			Operations:         a.Operations,
		}
	}

	costs := []struct {
		raw string
		dst *domain.Money
		key string
	}{
		{f.UnitCosts.CollectorSupport, &p.UnitCosts.CollectorSupport, "collector_support"},
		{f.UnitCosts.PlasticKg, &p.UnitCosts.PlasticKg, "plastic_kg"},
		{f.UnitCosts.NHISEnrollment, &p.UnitCosts.NHISEnrollment, "nhis_enrollment"},
		{f.UnitCosts.HealthScreen, &p.UnitCosts.HealthScreen, "health_screen"},
		{f.UnitCosts.Community, &p.UnitCosts.Community, "community"},
	}
	for _, c := range costs {
		if c.raw == "" {
			continue
		}
		if *c.dst, err = domain.ParseMoney(c.raw); err != nil {
			return nil, fmt.Errorf("unit_costs.%s: %w", c.key, err)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate rejects policies the ledger cannot operate on.
func (p *Policy) Validate() error {
	if p.PricePerKg <= 0 {
		return fmt.Errorf("policy: price_per_kg must be positive")
	}
	if p.CashSharePercent < 0 || p.CashSharePercent > 100 {
		return fmt.Errorf("policy: cash_share_percent must be within 0..100")
	}
	if len(p.Materials) == 0 {
		return fmt.Errorf("policy: at least one material is required")
	}
	if p.DefaultAllocation.Sum() != 100 {
		return fmt.Errorf("policy: default allocation sums to %d, want 100", p.DefaultAllocation.Sum())
	}
	for _, c := range []domain.Money{
		p.UnitCosts.CollectorSupport, p.UnitCosts.PlasticKg,
		p.UnitCosts.NHISEnrollment, p.UnitCosts.HealthScreen, p.UnitCosts.Community,
	} {
		if c <= 0 {
			return fmt.Errorf("policy: unit costs must be positive")
		}
	}
	return nil
}
