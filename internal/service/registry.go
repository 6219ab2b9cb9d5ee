package service

import (
	"context"
	"errors"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/observability"
	"github.com/boddenberg/plastic-rewards-go/internal/port"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StoreRegistry is a collector registry backed by the collector store, for
// deployments without an external registry.
type StoreRegistry struct {
	store port.CollectorStore
	now   func() time.Time
}

// NewStoreRegistry creates a registry over store.
func NewStoreRegistry(store port.CollectorStore) *StoreRegistry {
	return &StoreRegistry{store: store, now: time.Now}
}

// Lookup resolves a phone or card number by exact match.
func (r *StoreRegistry) Lookup(ctx context.Context, phoneOrCard string) (string, error) {
	lookup := domain.NewCollectorLookup(phoneOrCard)
	if lookup.CardNumber == "" {
		return "", &domain.ErrValidation{Field: "collector", Message: "phone or card number is required"}
	}
	c, err := r.store.FindCollector(ctx, lookup)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// Register stores a new collector. Identifiers already on file are rejected.
func (r *StoreRegistry) Register(ctx context.Context, req *domain.RegisterCollectorRequest) (*domain.Collector, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Each identifier is looked up the way a hub would type it, so a card
	// number equal to someone's phone is caught as well.
	for _, id := range []string{req.Phone, req.CardNumber} {
		if id == "" {
			continue
		}
		_, err := r.store.FindCollector(ctx, domain.NewCollectorLookup(id))
		var nf *domain.ErrNotFound
		var conflict *domain.ErrConflict
		switch {
		case err == nil, errors.As(err, &conflict):
			return nil, &domain.ErrDuplicate{Key: id}
		case !errors.As(err, &nf):
			return nil, err
		}
	}

	now := r.now()
	return r.store.SaveCollector(ctx, &domain.Collector{
		ID:            uuid.New().String(),
		Name:          req.Name,
		Phone:         req.Phone,
		CardNumber:    req.CardNumber,
		Neighborhood:  req.Neighborhood,
		Active:        true,
		TotalWeightKg: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

// CachedRegistry memoises successful lookups. Identifiers never move
// between collectors, so entries only expire by TTL.
type CachedRegistry struct {
	next    port.CollectorRegistry
	cache   port.Cache[string]
	metrics *observability.Metrics
}

// NewCachedRegistry wraps next with a lookup cache.
func NewCachedRegistry(next port.CollectorRegistry, cache port.Cache[string], metrics *observability.Metrics) *CachedRegistry {
	return &CachedRegistry{next: next, cache: cache, metrics: metrics}
}

func (r *CachedRegistry) Lookup(ctx context.Context, phoneOrCard string) (string, error) {
	key := domain.NewCollectorLookup(phoneOrCard)
	cacheKey := key.Phone + "|" + key.CardNumber
	if id, ok := r.cache.Get(cacheKey); ok {
		r.metrics.IncrCacheHit("registry")
		return id, nil
	}
	r.metrics.IncrCacheMiss("registry")

	id, err := r.next.Lookup(ctx, phoneOrCard)
	if err != nil {
		return "", err
	}
	r.cache.Set(cacheKey, id)
	return id, nil
}

func (r *CachedRegistry) Register(ctx context.Context, req *domain.RegisterCollectorRequest) (*domain.Collector, error) {
	return r.next.Register(ctx, req)
}
