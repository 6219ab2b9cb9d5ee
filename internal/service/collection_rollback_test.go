package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/boddenberg/plastic-rewards-go/internal/config"
	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/events"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/memory"
	"github.com/boddenberg/plastic-rewards-go/internal/port"
	"github.com/boddenberg/plastic-rewards-go/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Mocks ---

// failingLedger rejects every ledger write after the float is reserved.
type failingLedger struct {
	*memory.Store
	err error
}

func (f *failingLedger) ApplyLedgerUpdate(context.Context, *domain.LedgerUpdate) (*domain.Collector, error) {
	return nil, f.err
}

// stuckSessions cannot give float back.
type stuckSessions struct {
	*memory.Sessions
}

func (stuckSessions) Release(context.Context, string, domain.Money) error {
	return errors.New("session store unavailable")
}

// processorWith builds a processor over the harness registry with the
// given ledger and session stores.
func processorWith(h *harness, ledger port.LedgerStore, sessions port.SessionStore) *service.TransactionProcessor {
	policy := config.DefaultPolicy()
	logger := zap.NewNop()
	return service.NewTransactionProcessor(
		h.registry,
		service.NewCollectorLedger(h.store, ledger, h.locker, h.metrics, logger),
		service.NewCashFloatGuard(sessions, h.metrics, logger),
		service.NewValuationPolicy(policy.PricePerKg, policy.CashSharePercent, policy.Materials),
		h.locker, events.Nop{}, h.metrics, logger,
		service.ProcessorConfig{},
	)
}

// --- Tests ---

func TestProcess_LedgerFailureReleasesFloat(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"version conflict", &domain.ErrConflict{Message: "collector was modified concurrently"}},
		{"store error", errors.New("connection reset")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			collector := h.enroll(t, "0245550201", "")
			session := h.openSession(t, "100.00")
			before, err := h.guard.Get(ctx, session.ID)
			require.NoError(t, err)

			processor := processorWith(h, &failingLedger{Store: h.store, err: tt.err}, h.sessions)
			_, err = processor.Process(ctx, &domain.CollectionRequest{
				IdempotencyKey:  "doomed",
				CollectorLookup: "0245550201",
				MaterialType:    "PET",
				WeightKg:        kg("10"),
				SessionID:       session.ID,
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)

			after, err := h.guard.Get(ctx, session.ID)
			require.NoError(t, err)
			assert.Equal(t, before.CashFloatCurrent, after.CashFloatCurrent)
			assert.Equal(t, before.TotalPaidOut, after.TotalPaidOut)
			assert.Equal(t, before.TransactionsCount, after.TransactionsCount)
			assert.True(t, after.Balanced())

			c, err := h.ledger.GetOrFail(ctx, collector.ID)
			require.NoError(t, err)
			assert.Zero(t, c.CollectionCount)

			txs, err := h.ledger.Transactions(ctx, domain.TransactionQuery{SessionID: session.ID})
			require.NoError(t, err)
			assert.Empty(t, txs)

			assert.Equal(t, float64(1), h.metrics.GetLedgerSnapshot().CollectionsAborted)
		})
	}
}

func TestProcess_FailedReleaseIsReported(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enroll(t, "0245550202", "")
	session := h.openSession(t, "100.00")

	cause := &domain.ErrConflict{Message: "collector was modified concurrently"}
	processor := processorWith(h, &failingLedger{Store: h.store, err: cause}, stuckSessions{h.sessions})

	_, err := processor.Process(ctx, &domain.CollectionRequest{
		IdempotencyKey:  "stranded",
		CollectorLookup: "0245550202",
		MaterialType:    "PET",
		WeightKg:        kg("10"),
		SessionID:       session.ID,
	})
	require.Error(t, err)

	var conflict *domain.ErrConflict
	assert.ErrorAs(t, err, &conflict, "the commit failure stays the primary error")
	assert.Contains(t, err.Error(), "release float")
	assert.Contains(t, err.Error(), "session store unavailable")
}

func TestProcess_ConcurrentRetriesCommitOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	collector := h.enroll(t, "0245550203", "")
	session := h.openSession(t, "100.00")

	const retries = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		replayed int
		ids      = map[string]bool{}
	)
	for i := 0; i < retries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.processor.Process(ctx, &domain.CollectionRequest{
				IdempotencyKey:  "flaky-network",
				CollectorLookup: "0245550203",
				MaterialType:    "PET",
				WeightKg:        kg("10"),
				SessionID:       session.ID,
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[res.Transaction.ID] = true
			if res.Replayed {
				replayed++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, retries-1, replayed)

	c, err := h.ledger.GetOrFail(ctx, collector.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.CollectionCount)
	assert.Equal(t, domain.MustMoney("14.00"), c.TotalCashEarned)

	s, err := h.guard.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MustMoney("86.00"), s.CashFloatCurrent)
	assert.Equal(t, int64(1), s.TransactionsCount)
}
