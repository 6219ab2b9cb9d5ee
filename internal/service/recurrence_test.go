package service

import (
	"testing"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func TestNextChargeDate(t *testing.T) {
	tests := []struct {
		name string
		freq domain.DonationType
		from time.Time
		want time.Time
	}{
		{"monthly clamps to Feb 28", domain.DonationMonthly, date(2025, time.January, 31), date(2025, time.February, 28)},
		{"monthly clamps to Feb 29 in leap year", domain.DonationMonthly, date(2024, time.January, 31), date(2024, time.February, 29)},
		{"monthly mid-month", domain.DonationMonthly, date(2025, time.March, 15), date(2025, time.April, 15)},
		{"monthly over year end", domain.DonationMonthly, date(2025, time.December, 31), date(2026, time.January, 31)},
		{"quarterly clamps", domain.DonationQuarterly, date(2025, time.November, 30), date(2026, time.February, 28)},
		{"yearly from leap day", domain.DonationYearly, date(2024, time.February, 29), date(2025, time.February, 28)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextChargeDate(tt.freq, tt.from)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextChargeDate_OneTimeRejected(t *testing.T) {
	_, err := NextChargeDate(domain.DonationOneTime, date(2025, time.January, 1))
	var verr *domain.ErrValidation
	assert.ErrorAs(t, err, &verr)
}

func TestNextChargeDate_ReturnsToAnchorDay(t *testing.T) {
	feb, err := nextChargeDate(domain.DonationMonthly, date(2025, time.January, 31), 31)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.February, 28), feb)

	mar, err := nextChargeDate(domain.DonationMonthly, feb, 31)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.March, 31), mar)
}

func TestRegisterAndAdvance(t *testing.T) {
	s := &RecurrenceScheduler{now: time.Now}
	end := date(2025, time.March, 15)
	d := &domain.Donation{Recurring: domain.Recurring{
		IsRecurring: true,
		Frequency:   domain.DonationMonthly,
		EndDate:     &end,
	}}

	require.NoError(t, s.Register(d, date(2025, time.January, 31)))
	assert.Equal(t, domain.RecurringActive, d.Recurring.Status)
	assert.Equal(t, 31, d.Recurring.AnchorDay)
	assert.Equal(t, 1, d.Recurring.TotalPayments)
	assert.Equal(t, date(2025, time.February, 28), *d.Recurring.NextPaymentDate)

	d.Recurring.FailedAttempts = 2
	require.NoError(t, s.Advance(d))
	assert.Equal(t, 2, d.Recurring.TotalPayments)
	assert.Zero(t, d.Recurring.FailedAttempts)
	assert.Equal(t, date(2025, time.March, 31), *d.Recurring.NextPaymentDate)
	assert.Equal(t, domain.RecurringEnded, d.Recurring.Status)

	var invalid *domain.ErrInvalidTransition
	assert.ErrorAs(t, s.Advance(d), &invalid)
}

func TestInstallmentKey(t *testing.T) {
	next := date(2025, time.February, 28)
	parent := &domain.Donation{ID: "don-1", Recurring: domain.Recurring{NextPaymentDate: &next}}
	assert.Equal(t, "don-1:2025-02-28", installmentKey(parent))

	parent.Recurring.FailedAttempts = 2
	assert.Equal(t, "don-1:2025-02-28:retry2", installmentKey(parent))
}
