package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/config"
	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/events"
	"github.com/boddenberg/plastic-rewards-go/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// declineFor declines installments of the listed pledges and approves
// everything else.
func declineFor(parents map[string]bool) func(req *domain.ChargeRequest) (*domain.ChargeResult, error) {
	return func(req *domain.ChargeRequest) (*domain.ChargeResult, error) {
		parent, _, found := strings.Cut(req.IdempotencyKey, ":")
		if found && parents[parent] {
			return &domain.ChargeResult{Status: domain.ChargeFailed, Message: "card expired"}, nil
		}
		return succeed(req)
	}
}

func donationsWith(h *harness, gw *scriptedGateway, cfg service.DonationConfig) *service.DonationProcessor {
	policy := config.DefaultPolicy()
	cfg.Currency = policy.Currency
	cfg.PaymentTimeout = time.Second
	return service.NewDonationProcessor(
		h.store, gw, service.NewAllocationEngine(policy.DefaultAllocation, policy.UnitCosts),
		h.scheduler, h.locker, events.Nop{}, h.metrics, zap.NewNop(), cfg,
	)
}

func TestRecurring_SuspendedAfterRepeatedDeclines(t *testing.T) {
	declined := map[string]bool{}
	gw := &scriptedGateway{next: declineFor(declined)}
	h := newHarnessWithGateway(t, gw, time.Second)
	ctx := context.Background()

	parent, err := h.donations.Donate(ctx, donation("pledge-dead-card", "40", domain.DonationMonthly))
	require.NoError(t, err)
	due := *parent.Recurring.NextPaymentDate
	declined[parent.ID] = true

	for attempt := 1; attempt <= 3; attempt++ {
		_, err = h.donations.ChargeRecurring(ctx, parent.ID, due)
		var ext *domain.ErrExternalService
		require.ErrorAs(t, err, &ext, "attempt %d", attempt)
	}

	p, err := h.donations.Get(ctx, "", parent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecurringSuspended, p.Recurring.Status)
	assert.Equal(t, 3, p.Recurring.FailedAttempts)
	assert.Equal(t, "card expired", p.Recurring.LastFailure)

	dueNow, err := h.scheduler.DueForCharge(ctx, due)
	require.NoError(t, err)
	assert.Empty(t, dueNow)

	calls := len(gw.calls)
	child, err := h.donations.ChargeRecurring(ctx, parent.ID, due)
	require.NoError(t, err)
	assert.Nil(t, child)
	assert.Len(t, gw.calls, calls)

	cancelled, err := h.donations.CancelPledge(ctx, "donor-1", parent.ID, "card replaced")
	require.NoError(t, err)
	assert.Equal(t, domain.RecurringCancelled, cancelled.Recurring.Status)
}

func TestRecurring_SuspensionThresholdIsConfigurable(t *testing.T) {
	declined := map[string]bool{}
	gw := &scriptedGateway{next: declineFor(declined)}
	h := newHarnessWithGateway(t, gw, time.Second)
	donations := donationsWith(h, gw, service.DonationConfig{MaxFailedAttempts: 1})
	ctx := context.Background()

	parent, err := donations.Donate(ctx, donation("pledge-strict", "40", domain.DonationMonthly))
	require.NoError(t, err)
	declined[parent.ID] = true

	_, err = donations.ChargeRecurring(ctx, parent.ID, *parent.Recurring.NextPaymentDate)
	require.Error(t, err)

	p, err := donations.Get(ctx, "", parent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecurringSuspended, p.Recurring.Status)
}

func TestSweepDue_DeclinedPledgesDoNotStarveLaterOnes(t *testing.T) {
	declined := map[string]bool{}
	gw := &scriptedGateway{next: declineFor(declined)}
	h := newHarnessWithGateway(t, gw, time.Second)
	donations := donationsWith(h, gw, service.DonationConfig{SweepBatchSize: 2, SweepConcurrency: 1, MaxFailedAttempts: 100})
	ctx := context.Background()

	// Three failing pledges are due alongside a healthy one; a page holds two.
	for _, key := range []string{"bad-1", "bad-2", "bad-3"} {
		d, err := donations.Donate(ctx, donation(key, "30", domain.DonationMonthly))
		require.NoError(t, err)
		declined[d.ID] = true
	}
	good, err := donations.Donate(ctx, donation("good", "30", domain.DonationMonthly))
	require.NoError(t, err)

	asOf := good.Recurring.NextPaymentDate.Add(time.Hour)
	for round := 0; round < 2; round++ {
		report, err := donations.SweepDue(ctx, asOf)
		require.NoError(t, err)
		if round == 0 {
			assert.Equal(t, service.SweepReport{Due: 4, Charged: 1, Failed: 3}, report)
		} else {
			assert.Equal(t, service.SweepReport{Due: 3, Charged: 0, Failed: 3}, report)
		}
	}

	updated, err := donations.Get(ctx, "", good.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Recurring.TotalPayments)
}

func TestDueBatch_PagesWithCursor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var last time.Time
	for _, key := range []string{"p1", "p2", "p3"} {
		d, err := h.donations.Donate(ctx, donation(key, "10", domain.DonationMonthly))
		require.NoError(t, err)
		last = *d.Recurring.NextPaymentDate
	}

	first, cursor, err := h.scheduler.DueBatch(ctx, last, nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NotNil(t, cursor)

	second, cursor, err := h.scheduler.DueBatch(ctx, last, cursor, 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Nil(t, cursor)

	seen := map[string]bool{}
	for _, d := range append(first, second...) {
		seen[d.ID] = true
	}
	assert.Len(t, seen, 3)
}
