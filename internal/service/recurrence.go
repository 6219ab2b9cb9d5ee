package service

import (
	"context"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/observability"
	"github.com/boddenberg/plastic-rewards-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var recurrenceTracer = otel.Tracer("service/recurrence")

// dueBatchLimit is the default page size of a due scan.
const dueBatchLimit = 500

// NextChargeDate advances from by one period of frequency. Months are
// calendar months; a day that does not exist in the target month is
// clamped to its last day (Jan 31 monthly gives Feb 28 or 29).
func NextChargeDate(frequency domain.DonationType, from time.Time) (time.Time, error) {
	return nextChargeDate(frequency, from, from.Day())
}

// nextChargeDate keeps the pledge on anchorDay when the target month has
// it, so a schedule clamped once to Feb 28 returns to the 31st in March.
func nextChargeDate(frequency domain.DonationType, from time.Time, anchorDay int) (time.Time, error) {
	var months int
	switch frequency {
	case domain.DonationMonthly:
		months = 1
	case domain.DonationQuarterly:
		months = 3
	case domain.DonationYearly:
		months = 12
	default:
		return time.Time{}, &domain.ErrValidation{Field: "frequency", Message: "not a recurring type: " + string(frequency)}
	}
	return addMonthsClamped(from, months, anchorDay), nil
}

func addMonthsClamped(t time.Time, months, day int) time.Time {
	y, m, _ := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	last := daysIn(first.Year(), first.Month(), t.Location())
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// RecurrenceScheduler owns the schedule of recurring pledges.
type RecurrenceScheduler struct {
	store   port.DonationStore
	locker  port.KeyLocker
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewRecurrenceScheduler creates a scheduler over the donation store.
func NewRecurrenceScheduler(store port.DonationStore, locker port.KeyLocker, metrics *observability.Metrics, logger *zap.Logger) *RecurrenceScheduler {
	return &RecurrenceScheduler{store: store, locker: locker, metrics: metrics, logger: logger, now: time.Now}
}

// Register starts the schedule of a pledge whose first charge completed at
// chargedAt. The end date is checked against the next charge.
func (s *RecurrenceScheduler) Register(d *domain.Donation, chargedAt time.Time) error {
	r := &d.Recurring
	next, err := nextChargeDate(r.Frequency, chargedAt, chargedAt.Day())
	if err != nil {
		return err
	}
	r.AnchorDay = chargedAt.Day()
	r.TotalPayments = 1
	r.NextPaymentDate = &next
	r.Status = domain.RecurringActive
	if r.EndDate != nil && next.After(*r.EndDate) {
		r.Status = domain.RecurringEnded
	}
	return nil
}

// Advance moves an active pledge past a successful charge.
func (s *RecurrenceScheduler) Advance(d *domain.Donation) error {
	r := &d.Recurring
	if !r.Active() || r.NextPaymentDate == nil {
		return &domain.ErrInvalidTransition{Resource: "pledge", From: r.Status, To: domain.RecurringActive}
	}
	next, err := nextChargeDate(r.Frequency, *r.NextPaymentDate, r.AnchorDay)
	if err != nil {
		return err
	}
	r.NextPaymentDate = &next
	r.TotalPayments++
	r.FailedAttempts = 0
	r.LastFailure = ""
	if r.EndDate != nil && next.After(*r.EndDate) {
		r.Status = domain.RecurringEnded
	}
	return nil
}

// DueForCharge returns every active pledge whose next payment date is on
// or before asOf, reading the store page by page.
func (s *RecurrenceScheduler) DueForCharge(ctx context.Context, asOf time.Time) ([]domain.Donation, error) {
	ctx, span := recurrenceTracer.Start(ctx, "RecurrenceScheduler.DueForCharge")
	defer span.End()

	var (
		due    []domain.Donation
		cursor *domain.DueCursor
	)
	for {
		page, next, err := s.DueBatch(ctx, asOf, cursor, dueBatchLimit)
		if err != nil {
			return nil, err
		}
		due = append(due, page...)
		if next == nil {
			break
		}
		cursor = next
	}
	span.SetAttributes(attribute.Int("due.count", len(due)))
	return due, nil
}

// DueBatch returns up to limit due pledges ordered by next payment date,
// starting after the cursor. The returned cursor is nil once the due set
// is exhausted. Pledges that stay due, such as declined ones, never hold
// back the pages after them.
func (s *RecurrenceScheduler) DueBatch(ctx context.Context, asOf time.Time, after *domain.DueCursor, limit int) ([]domain.Donation, *domain.DueCursor, error) {
	if limit <= 0 {
		limit = dueBatchLimit
	}
	candidates, err := s.store.QueryDonations(ctx, domain.DonationQuery{DueBefore: &asOf, DueAfter: after, Limit: limit})
	if err != nil {
		return nil, nil, err
	}

	due := make([]domain.Donation, 0, len(candidates))
	for _, d := range candidates {
		if d.ParentID == "" && d.Recurring.Active() && d.Recurring.NextPaymentDate != nil &&
			!d.Recurring.NextPaymentDate.After(asOf) {
			due = append(due, d)
		}
	}
	if len(candidates) < limit {
		return due, nil, nil
	}
	last := candidates[len(candidates)-1]
	return due, &domain.DueCursor{NextPaymentDate: *last.Recurring.NextPaymentDate, ID: last.ID}, nil
}

// Cancel stops a pledge for good. Cancelling is terminal; a cancelled or
// ended pledge cannot be resumed. A suspended pledge can still be cancelled.
func (s *RecurrenceScheduler) Cancel(ctx context.Context, donorRef, donationID, reason string) (*domain.Donation, error) {
	ctx, span := recurrenceTracer.Start(ctx, "RecurrenceScheduler.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("donation.id", donationID))

	var cancelled *domain.Donation
	err := s.locker.WithLock(ctx, donationLockKey(donationID), func(ctx context.Context) error {
		d, err := s.store.GetDonation(ctx, donationID)
		if err != nil {
			return err
		}
		if donorRef != "" && d.DonorRef != donorRef {
			return &domain.ErrNotFound{Resource: "donation", ID: donationID}
		}
		if !d.Recurring.IsRecurring {
			return &domain.ErrValidation{Field: "donation_id", Message: "not a recurring pledge"}
		}
		if !d.Recurring.Active() && d.Recurring.Status != domain.RecurringSuspended {
			return &domain.ErrInvalidTransition{Resource: "pledge", From: d.Recurring.Status, To: domain.RecurringCancelled}
		}

		now := s.now()
		d.Recurring.Status = domain.RecurringCancelled
		d.Recurring.CancelReason = reason
		d.Recurring.CancelledAt = &now
		d.UpdatedAt = now
		if err := s.store.SaveDonations(ctx, d); err != nil {
			return err
		}
		cancelled = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("pledge cancelled",
		zap.String("donation_id", donationID),
		zap.String("reason", reason),
		zap.Int("total_payments", cancelled.Recurring.TotalPayments),
	)
	return cancelled, nil
}

func donationLockKey(id string) string { return "donation:" + id }
