package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyCollection_ConcurrentSums(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	collector := h.enroll(t, "0245550201", "")

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ledger.ApplyCollection(ctx, collector.ID, kg("1.5"), domain.MustMoney("2.10"), domain.MustMoney("0.90"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	c, err := h.ledger.GetOrFail(ctx, collector.ID)
	require.NoError(t, err)
	assert.True(t, c.TotalWeightKg.Equal(kg("75")), "weight %s", c.TotalWeightKg)
	assert.Equal(t, domain.MustMoney("105.00"), c.TotalCashEarned)
	assert.Equal(t, domain.MustMoney("45.00"), c.TotalSavingsTokens)
	assert.Equal(t, int64(n), c.CollectionCount)
}

func TestApplyCollection_RejectsBadDelta(t *testing.T) {
	h := newHarness(t)
	collector := h.enroll(t, "0245550202", "")

	_, err := h.ledger.ApplyCollection(context.Background(), collector.ID, kg("0"), 0, 0)
	var verr *domain.ErrValidation
	assert.ErrorAs(t, err, &verr)

	_, err = h.ledger.ApplyCollection(context.Background(), collector.ID, kg("1"), -1, 0)
	assert.ErrorAs(t, err, &verr)
}

func TestApplyCollection_UnknownCollector(t *testing.T) {
	h := newHarness(t)

	_, err := h.ledger.ApplyCollection(context.Background(), "missing", kg("1"), 1, 0)
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestEnroll_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	collector := h.enroll(t, "0245550203", "")

	again, err := h.ledger.Enroll(ctx, &domain.Collector{ID: collector.ID, Neighborhood: "elsewhere"})
	require.NoError(t, err)
	assert.Equal(t, collector.ID, again.ID)
	assert.Equal(t, "Jamestown", again.Neighborhood)
}

func TestEnroll_ExternalRegistryCollector(t *testing.T) {
	h := newHarness(t)

	c, err := h.ledger.Enroll(context.Background(), &domain.Collector{ID: "ext-42", CardNumber: "EXT-42", Neighborhood: "Osu"})
	require.NoError(t, err)
	assert.True(t, c.Active)
	assert.Equal(t, "card", c.ContactChannel())
	assert.True(t, c.TotalWeightKg.IsZero())
}

func TestDeactivate_KeepsBalances(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	collector := h.enroll(t, "0245550204", "")
	_, err := h.ledger.ApplyCollection(ctx, collector.ID, kg("1"), domain.MustMoney("1.40"), domain.MustMoney("0.60"))
	require.NoError(t, err)

	c, err := h.ledger.Deactivate(ctx, collector.ID)
	require.NoError(t, err)
	assert.False(t, c.Active)
	assert.Equal(t, domain.MustMoney("1.40"), c.TotalCashEarned)

	// Deactivating twice is a no-op.
	_, err = h.ledger.Deactivate(ctx, collector.ID)
	require.NoError(t, err)

	_, err = h.ledger.ApplyCollection(ctx, collector.ID, kg("1"), 1, 0)
	var forbidden *domain.ErrForbidden
	assert.ErrorAs(t, err, &forbidden)
}

func TestList_FiltersByNeighborhood(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enroll(t, "0245550205", "")
	_, err := h.ledger.Enroll(ctx, &domain.Collector{ID: "ext-1", CardNumber: "EXT-1", Neighborhood: "Osu"})
	require.NoError(t, err)

	got, err := h.ledger.List(ctx, "Osu", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ext-1", got[0].ID)
}
