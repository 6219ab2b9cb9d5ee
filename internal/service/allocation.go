package service

import (
	"fmt"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
)

// AllocationEngine validates allocations and derives impact counters.
type AllocationEngine struct {
	defaults domain.Allocation
	costs    domain.UnitCosts
}

// NewAllocationEngine creates an engine with the programme's default split and unit costs.
func NewAllocationEngine(defaults domain.Allocation, costs domain.UnitCosts) *AllocationEngine {
	return &AllocationEngine{defaults: defaults, costs: costs}
}

// Default returns the programme's default allocation.
func (e *AllocationEngine) Default() domain.Allocation { return e.defaults }

// Resolve returns the requested allocation, or the default when none was
// given, after validating it.
func (e *AllocationEngine) Resolve(a *domain.Allocation) (domain.Allocation, error) {
	if a == nil {
		return e.defaults, nil
	}
	if err := ValidateAllocation(*a); err != nil {
		return domain.Allocation{}, err
	}
	return *a, nil
}

// ValidateAllocation requires every percentage within 0..100 and a sum of exactly 100.
func ValidateAllocation(a domain.Allocation) error {
	for _, p := range []int{a.CollectionFunding, a.HealthcareAccess, a.HealthIntelligence, a.Operations} {
		if p < 0 || p > 100 {
			return &domain.ErrValidation{Field: "allocation", Message: "percentages must be within 0..100"}
		}
	}
	if a.Sum() != 100 {
		return &domain.ErrValidation{Field: "allocation", Message: fmt.Sprintf("percentages sum to %d, must be 100", a.Sum())}
	}
	return nil
}

// Allocate derives impact counters from amount and allocation. Every
// counter is floored; no fractional impact is reported.
func (e *AllocationEngine) Allocate(amount domain.Money, a domain.Allocation) (domain.ImpactCounters, error) {
	if amount <= 0 {
		return domain.ImpactCounters{}, &domain.ErrValidation{Field: "amount", Message: "must be greater than zero"}
	}
	if err := ValidateAllocation(a); err != nil {
		return domain.ImpactCounters{}, err
	}

	share := func(pct int, cost domain.Money) int64 {
		return int64(amount) * int64(pct) / (100 * int64(cost))
	}
	return domain.ImpactCounters{
		CollectorsSupported: share(a.CollectionFunding, e.costs.CollectorSupport),
		PlasticCollectedKg:  share(a.CollectionFunding, e.costs.PlasticKg),
		NHISEnrollments:     share(a.HealthcareAccess, e.costs.NHISEnrollment),
		HealthScreens:       share(a.HealthcareAccess, e.costs.HealthScreen),
		CommunitiesReached:  int64(amount) / int64(e.costs.Community),
	}, nil
}
