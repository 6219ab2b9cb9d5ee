package service_test

import (
	"context"
	"testing"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatGuard_ReserveReleaseTopUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.openSession(t, "20.00")

	s, err := h.guard.Reserve(ctx, s.ID, domain.MustMoney("15.00"))
	require.NoError(t, err)
	assert.Equal(t, domain.MustMoney("5.00"), s.CashFloatCurrent)

	_, err = h.guard.Reserve(ctx, s.ID, domain.MustMoney("5.01"))
	var insufficient *domain.ErrInsufficientFloat
	require.ErrorAs(t, err, &insufficient)

	s, err = h.guard.TopUp(ctx, s.ID, domain.MustMoney("10.00"))
	require.NoError(t, err)
	assert.Equal(t, domain.MustMoney("30.00"), s.CashFloatStart)
	assert.Equal(t, domain.MustMoney("15.00"), s.CashFloatCurrent)
	assert.True(t, s.Balanced())

	require.NoError(t, h.guard.Release(ctx, s.ID, domain.MustMoney("15.00")))
	s, err = h.guard.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MustMoney("30.00"), s.CashFloatCurrent)
	assert.Zero(t, s.TotalPaidOut)
	assert.True(t, s.Balanced())
}

func TestFloatGuard_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.guard.Open(ctx, &domain.OpenSessionRequest{OperatorID: "op", CashFloatStart: 100})
	var verr *domain.ErrValidation
	assert.ErrorAs(t, err, &verr)

	_, err = h.guard.Open(ctx, &domain.OpenSessionRequest{HubID: "hub", OperatorID: "op", CashFloatStart: -1})
	assert.ErrorAs(t, err, &verr)

	s := h.openSession(t, "10.00")
	_, err = h.guard.TopUp(ctx, s.ID, 0)
	assert.ErrorAs(t, err, &verr)
	_, err = h.guard.Reserve(ctx, s.ID, -5)
	assert.ErrorAs(t, err, &verr)
}

func TestFloatGuard_CloseIsFinal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.openSession(t, "10.00")

	closed, err := h.guard.Close(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionClosed, closed.Status)
	assert.NotNil(t, closed.ClosedAt)

	_, err = h.guard.Close(ctx, s.ID)
	var invalid *domain.ErrInvalidTransition
	assert.ErrorAs(t, err, &invalid)

	_, err = h.guard.TopUp(ctx, s.ID, domain.MustMoney("1.00"))
	var forbidden *domain.ErrForbidden
	assert.ErrorAs(t, err, &forbidden)
}

func TestFloatGuard_UnknownSession(t *testing.T) {
	h := newHarness(t)

	_, err := h.guard.Reserve(context.Background(), "nope", 1)
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}
