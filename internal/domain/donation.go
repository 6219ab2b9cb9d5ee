package domain

import "time"

// ============================================================
// Donations
// ============================================================

// DonationType is the cadence of a pledge.
type DonationType string

const (
	DonationOneTime   DonationType = "one-time"
	DonationMonthly   DonationType = "monthly"
	DonationQuarterly DonationType = "quarterly"
	DonationYearly    DonationType = "yearly"
)

// Valid reports whether t is a known donation type.
func (t DonationType) Valid() bool {
	switch t {
	case DonationOneTime, DonationMonthly, DonationQuarterly, DonationYearly:
		return true
	}
	return false
}

// Recurring reports whether the type implies a schedule.
func (t DonationType) Recurring() bool {
	return t == DonationMonthly || t == DonationQuarterly || t == DonationYearly
}

// PaymentStatus is the payment state of a donation.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:    {PaymentProcessing},
	PaymentProcessing: {PaymentCompleted, PaymentFailed},
	PaymentCompleted:  {PaymentRefunded},
}

// CanTransition reports whether from → to is a legal payment transition.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	for _, next := range paymentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Recurring schedule statuses.
const (
	RecurringActive    = "active"
	RecurringCancelled = "cancelled"
	RecurringEnded     = "ended"
	// RecurringSuspended is set after too many declined installments.
	RecurringSuspended = "suspended"
)

// Tier is the named bracket a donation falls in.
type Tier struct {
	Name   string   `json:"name"`
	Amount Money    `json:"amount"`
	Impact []string `json:"impact"`
}

// Allocation splits a donation across the four programme categories, in
// whole percentages that must sum to exactly 100.
type Allocation struct {
	CollectionFunding  int `json:"collection_funding"`
	HealthcareAccess   int `json:"healthcare_access"`
	HealthIntelligence int `json:"health_intelligence"`
	Operations         int `json:"operations"`
}

// Sum returns the total of the four percentages.
func (a Allocation) Sum() int {
	return a.CollectionFunding + a.HealthcareAccess + a.HealthIntelligence + a.Operations
}

// ImpactCounters are derived from a completed donation's amount and allocation.
type ImpactCounters struct {
	CollectorsSupported int64 `json:"collectors_supported"`
	PlasticCollectedKg  int64 `json:"plastic_collected_kg"`
	NHISEnrollments     int64 `json:"nhis_enrollments"`
	HealthScreens       int64 `json:"health_screens"`
	CommunitiesReached  int64 `json:"communities_reached"`
}

// Add sums two counter sets (reporting only; donations never accumulate).
func (c ImpactCounters) Add(o ImpactCounters) ImpactCounters {
	return ImpactCounters{
		CollectorsSupported: c.CollectorsSupported + o.CollectorsSupported,
		PlasticCollectedKg:  c.PlasticCollectedKg + o.PlasticCollectedKg,
		NHISEnrollments:     c.NHISEnrollments + o.NHISEnrollments,
		HealthScreens:       c.HealthScreens + o.HealthScreens,
		CommunitiesReached:  c.CommunitiesReached + o.CommunitiesReached,
	}
}

// UnitCosts are the fixed costs that turn allocated money into impact counters.
type UnitCosts struct {
	CollectorSupport Money `json:"collector_support"`
	PlasticKg        Money `json:"plastic_kg"`
	NHISEnrollment   Money `json:"nhis_enrollment"`
	HealthScreen     Money `json:"health_screen"`
	Community        Money `json:"community"`
}

// Recurring is the schedule attached to a monthly/quarterly/yearly pledge.
type Recurring struct {
	IsRecurring     bool         `json:"is_recurring"`
	Frequency       DonationType `json:"frequency,omitempty"`
	Status          string       `json:"status,omitempty"`
	NextPaymentDate *time.Time   `json:"next_payment_date,omitempty"`
	EndDate         *time.Time   `json:"end_date,omitempty"`
	TotalPayments   int          `json:"total_payments"`
	AnchorDay       int          `json:"anchor_day,omitempty"`
	FailedAttempts  int          `json:"failed_attempts,omitempty"`
	LastFailure     string       `json:"last_failure,omitempty"`
	CancelReason    string       `json:"cancel_reason,omitempty"`
	CancelledAt     *time.Time   `json:"cancelled_at,omitempty"`
}

// Active reports whether the schedule is still producing charges.
func (r Recurring) Active() bool {
	return r.IsRecurring && r.Status == RecurringActive
}

// Donation is a pledge and its payment outcome. A recurring pledge is the
// parent record; every scheduled charge is stored as a child donation.
type Donation struct {
	ID                   string         `json:"id"`
	ParentID             string         `json:"parent_id,omitempty"`
	DonorRef             string         `json:"donor_ref"`
	IdempotencyKey       string         `json:"idempotency_key"`
	Amount               Money          `json:"amount"`
	Currency             string         `json:"currency"`
	Type                 DonationType   `json:"type"`
	PaymentMethod        string         `json:"payment_method"`
	PaymentStatus        PaymentStatus  `json:"payment_status"`
	GatewayTransactionID string         `json:"gateway_transaction_id,omitempty"`
	FailureReason        string         `json:"failure_reason,omitempty"`
	Tier                 Tier           `json:"tier"`
	Allocation           Allocation     `json:"allocation"`
	Impact               ImpactCounters `json:"impact"`
	Recurring            Recurring      `json:"recurring"`
	Version              int64          `json:"version"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
}

// TransitionTo moves the payment status forward or fails with ErrInvalidTransition.
func (d *Donation) TransitionTo(to PaymentStatus, at time.Time) error {
	if !d.PaymentStatus.CanTransition(to) {
		return &ErrInvalidTransition{Resource: "payment", From: string(d.PaymentStatus), To: string(to)}
	}
	d.PaymentStatus = to
	d.UpdatedAt = at
	if to == PaymentCompleted {
		t := at
		d.CompletedAt = &t
	}
	return nil
}

// DonationRequest is a pledge submission.
type DonationRequest struct {
	IdempotencyKey string       `json:"idempotency_key"`
	DonorRef       string       `json:"-"`
	Amount         Money        `json:"amount"`
	Currency       string       `json:"currency"`
	Type           DonationType `json:"type"`
	PaymentMethod  string       `json:"payment_method"`
	Allocation     *Allocation  `json:"allocation,omitempty"`
	EndDate        *time.Time   `json:"end_date,omitempty"`
}

// DonationQuery filters donation reads.
type DonationQuery struct {
	DonorRef      string
	ParentID      string
	PaymentStatus PaymentStatus
	DueBefore     *time.Time
	// DueAfter resumes a due scan after the given position.
	DueAfter *DueCursor
	Limit    int
}

// DueCursor is a keyset position in the due-pledge order
// (next payment date, then id).
type DueCursor struct {
	NextPaymentDate time.Time
	ID              string
}

// Before reports whether the cursor sorts strictly before d.
func (c DueCursor) Before(d *Donation) bool {
	next := d.Recurring.NextPaymentDate
	if next == nil {
		return false
	}
	if !next.Equal(c.NextPaymentDate) {
		return c.NextPaymentDate.Before(*next)
	}
	return c.ID < d.ID
}

// ImpactTotals aggregates impact over completed donations.
type ImpactTotals struct {
	Donations     int            `json:"donations"`
	TotalDonated  Money          `json:"total_donated"`
	Impact        ImpactCounters `json:"impact"`
	ActivePledges int            `json:"active_pledges"`
}

// ChargeRequest is sent to the payment gateway.
type ChargeRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	Amount         Money  `json:"amount"`
	Currency       string `json:"currency"`
	Method         string `json:"method"`
	Reference      string `json:"reference"`
}

// Gateway charge outcomes.
const (
	ChargeSucceeded = "succeeded"
	ChargeFailed    = "failed"
	ChargePending   = "pending"
)

// ChargeResult is the payment gateway's answer.
type ChargeResult struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
}
