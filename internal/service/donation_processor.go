package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/observability"
	"github.com/boddenberg/plastic-rewards-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var donationTracer = otel.Tracer("service/donation")

// DonationConfig tunes the donation processor.
type DonationConfig struct {
	Currency         string
	PaymentTimeout   time.Duration
	SweepConcurrency int
	// SweepBatchSize is the page size of one due scan.
	SweepBatchSize int
	// MaxFailedAttempts suspends a pledge after that many declined
	// installments in a row.
	MaxFailedAttempts int
}

// DonationProcessor runs a pledge through tiering, allocation, payment and
// scheduling. Impact counters exist only on completed donations.
type DonationProcessor struct {
	store      port.DonationStore
	gateway    port.PaymentGateway
	allocation *AllocationEngine
	scheduler  *RecurrenceScheduler
	locker     port.KeyLocker
	events     port.EventPublisher
	metrics    *observability.Metrics
	logger     *zap.Logger
	cfg        DonationConfig
	now        func() time.Time
}

// NewDonationProcessor wires the processor.
func NewDonationProcessor(
	store port.DonationStore,
	gateway port.PaymentGateway,
	allocation *AllocationEngine,
	scheduler *RecurrenceScheduler,
	locker port.KeyLocker,
	events port.EventPublisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
	cfg DonationConfig,
) *DonationProcessor {
	if cfg.Currency == "" {
		cfg.Currency = domain.DefaultCurrency
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 20 * time.Second
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 4
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = dueBatchLimit
	}
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = 3
	}
	return &DonationProcessor{
		store:      store,
		gateway:    gateway,
		allocation: allocation,
		scheduler:  scheduler,
		locker:     locker,
		events:     events,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// chargeOutcome is how a gateway call ended.
type chargeOutcome int

const (
	outcomeSucceeded chargeOutcome = iota
	outcomeDeclined
	// outcomeUnknown covers timeouts and transport errors; the charge may
	// or may not have happened and must be reconciled.
	outcomeUnknown
)

// ============================================================
// Donate
// ============================================================

// Donate records a pledge and charges it. Gateway outcomes are reported in
// the returned donation's payment status, not as errors: completed,
// failed (declined) or processing (outcome unknown, awaiting reconciliation).
func (p *DonationProcessor) Donate(ctx context.Context, req *domain.DonationRequest) (*domain.Donation, error) {
	ctx, span := donationTracer.Start(ctx, "DonationProcessor.Donate")
	defer span.End()
	span.SetAttributes(attribute.String("donor.ref", req.DonorRef), attribute.Int64("amount.minor", int64(req.Amount)))

	start := time.Now()
	defer func() { p.metrics.RecordRequestDuration("donation", time.Since(start)) }()

	// ── Validate inputs ──
	alloc, err := p.validateRequest(req)
	if err != nil {
		return nil, err
	}

	var result *domain.Donation
	lockKey := "donor:" + req.DonorRef + ":" + req.IdempotencyKey
	err = p.locker.WithLock(ctx, lockKey, func(ctx context.Context) error {
		existing, err := p.store.GetDonationByKey(ctx, req.DonorRef, req.IdempotencyKey)
		if err == nil {
			result = existing
			return nil
		}
		var nf *domain.ErrNotFound
		if !errors.As(err, &nf) {
			return err
		}

		now := p.now().UTC()
		d := &domain.Donation{
			ID:             uuid.New().String(),
			DonorRef:       req.DonorRef,
			IdempotencyKey: req.IdempotencyKey,
			Amount:         req.Amount,
			Currency:       req.Currency,
			Type:           req.Type,
			PaymentMethod:  req.PaymentMethod,
			PaymentStatus:  domain.PaymentPending,
			Tier:           ClassifyTier(req.Amount),
			Allocation:     alloc,
			Recurring: domain.Recurring{
				IsRecurring: req.Type.Recurring(),
				EndDate:     req.EndDate,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if d.Recurring.IsRecurring {
			d.Recurring.Frequency = req.Type
		}
		if err := p.store.SaveDonations(ctx, d); err != nil {
			return err
		}

		// ── Charge ──
		if err := d.TransitionTo(domain.PaymentProcessing, p.now().UTC()); err != nil {
			return err
		}
		if err := p.store.SaveDonations(ctx, d); err != nil {
			return err
		}

		charge, outcome := p.charge(ctx, d, d.IdempotencyKey)
		if err := p.settle(ctx, d, charge, outcome); err != nil {
			return err
		}
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("donation processed",
		zap.String("donation_id", result.ID),
		zap.String("donor_ref", result.DonorRef),
		zap.String("amount", result.Amount.String()),
		zap.String("tier", result.Tier.Name),
		zap.String("status", string(result.PaymentStatus)),
	)
	return result, nil
}

func (p *DonationProcessor) validateRequest(req *domain.DonationRequest) (domain.Allocation, error) {
	if req.DonorRef == "" {
		return domain.Allocation{}, &domain.ErrUnauthorized{Message: "donor identity required"}
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		return domain.Allocation{}, &domain.ErrValidation{Field: "idempotency_key", Message: "required"}
	}
	if req.Amount <= 0 {
		return domain.Allocation{}, &domain.ErrValidation{Field: "amount", Message: "must be greater than zero"}
	}
	if req.Type == "" {
		req.Type = domain.DonationOneTime
	}
	if !req.Type.Valid() {
		return domain.Allocation{}, &domain.ErrValidation{Field: "type", Message: "must be one-time, monthly, quarterly or yearly"}
	}
	if req.Currency == "" {
		req.Currency = p.cfg.Currency
	}
	if !strings.EqualFold(req.Currency, p.cfg.Currency) {
		return domain.Allocation{}, &domain.ErrValidation{Field: "currency", Message: "unsupported currency " + req.Currency}
	}
	req.Currency = p.cfg.Currency
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return domain.Allocation{}, &domain.ErrValidation{Field: "payment_method", Message: "required"}
	}
	if req.EndDate != nil {
		if !req.Type.Recurring() {
			return domain.Allocation{}, &domain.ErrValidation{Field: "end_date", Message: "only recurring pledges have an end date"}
		}
		if !req.EndDate.After(p.now()) {
			return domain.Allocation{}, &domain.ErrValidation{Field: "end_date", Message: "must be in the future"}
		}
	}
	return p.allocation.Resolve(req.Allocation)
}

// charge calls the gateway with a bounded timeout and classifies the result.
func (p *DonationProcessor) charge(ctx context.Context, d *domain.Donation, key string) (*domain.ChargeResult, chargeOutcome) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PaymentTimeout)
	defer cancel()

	res, err := p.gateway.ChargePayment(ctx, &domain.ChargeRequest{
		IdempotencyKey: key,
		Amount:         d.Amount,
		Currency:       d.Currency,
		Method:         d.PaymentMethod,
		Reference:      d.ID,
	})
	if err != nil {
		p.logger.Warn("payment outcome unknown", zap.String("donation_id", d.ID), zap.Error(err))
		return &domain.ChargeResult{Status: domain.ChargePending, Message: err.Error()}, outcomeUnknown
	}
	switch res.Status {
	case domain.ChargeSucceeded:
		return res, outcomeSucceeded
	case domain.ChargeFailed:
		return res, outcomeDeclined
	default:
		return res, outcomeUnknown
	}
}

// settle applies a gateway outcome to a processing donation and persists it.
func (p *DonationProcessor) settle(ctx context.Context, d *domain.Donation, res *domain.ChargeResult, outcome chargeOutcome) error {
	now := p.now().UTC()
	switch outcome {
	case outcomeSucceeded:
		if err := p.complete(d, res, now); err != nil {
			return err
		}
	case outcomeDeclined:
		if err := d.TransitionTo(domain.PaymentFailed, now); err != nil {
			return err
		}
		d.GatewayTransactionID = res.TransactionID
		d.FailureReason = res.Message
		d.Impact = domain.ImpactCounters{}
	default:
		d.GatewayTransactionID = res.TransactionID
		p.metrics.IncrDonation(domain.PaymentProcessing)
		return nil
	}

	if err := p.store.SaveDonations(ctx, d); err != nil {
		return err
	}
	p.metrics.IncrDonation(d.PaymentStatus)

	event := domain.EventDonationCompleted
	if d.PaymentStatus == domain.PaymentFailed {
		event = domain.EventDonationFailed
	}
	p.publish(ctx, event, d)
	return nil
}

// complete marks d completed, derives its impact and starts its schedule.
func (p *DonationProcessor) complete(d *domain.Donation, res *domain.ChargeResult, at time.Time) error {
	impact, err := p.allocation.Allocate(d.Amount, d.Allocation)
	if err != nil {
		return err
	}
	if err := d.TransitionTo(domain.PaymentCompleted, at); err != nil {
		return err
	}
	d.GatewayTransactionID = res.TransactionID
	d.Impact = impact
	if d.Recurring.IsRecurring && d.ParentID == "" {
		return p.scheduler.Register(d, at)
	}
	return nil
}

// ============================================================
// Lifecycle
// ============================================================

// Get returns a donation visible to donorRef. An empty donorRef reads any donation.
func (p *DonationProcessor) Get(ctx context.Context, donorRef, donationID string) (*domain.Donation, error) {
	ctx, span := donationTracer.Start(ctx, "DonationProcessor.Get")
	defer span.End()

	d, err := p.store.GetDonation(ctx, donationID)
	if err != nil {
		return nil, err
	}
	if donorRef != "" && d.DonorRef != donorRef {
		return nil, &domain.ErrNotFound{Resource: "donation", ID: donationID}
	}
	return d, nil
}

// List returns a donor's donations, newest first.
func (p *DonationProcessor) List(ctx context.Context, q domain.DonationQuery) ([]domain.Donation, error) {
	ctx, span := donationTracer.Start(ctx, "DonationProcessor.List")
	defer span.End()

	return p.store.QueryDonations(ctx, q)
}

// Refund moves a completed donation to refunded. Refunded donations carry no impact.
func (p *DonationProcessor) Refund(ctx context.Context, donationID string) (*domain.Donation, error) {
	ctx, span := donationTracer.Start(ctx, "DonationProcessor.Refund")
	defer span.End()
	span.SetAttributes(attribute.String("donation.id", donationID))

	d, err := p.mutate(ctx, donationID, func(d *domain.Donation) error {
		if err := d.TransitionTo(domain.PaymentRefunded, p.now().UTC()); err != nil {
			return err
		}
		d.Impact = domain.ImpactCounters{}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.metrics.IncrDonation(domain.PaymentRefunded)
	p.publish(ctx, domain.EventDonationRefunded, d)
	p.logger.Info("donation refunded", zap.String("donation_id", d.ID), zap.String("amount", d.Amount.String()))
	return d, nil
}

// UpdateAllocation replaces a donation's allocation. Impact of a completed
// donation is recomputed from scratch.
func (p *DonationProcessor) UpdateAllocation(ctx context.Context, donorRef, donationID string, alloc domain.Allocation) (*domain.Donation, error) {
	ctx, span := donationTracer.Start(ctx, "DonationProcessor.UpdateAllocation")
	defer span.End()

	if err := ValidateAllocation(alloc); err != nil {
		return nil, err
	}

	return p.mutate(ctx, donationID, func(d *domain.Donation) error {
		if donorRef != "" && d.DonorRef != donorRef {
			return &domain.ErrNotFound{Resource: "donation", ID: donationID}
		}
		switch d.PaymentStatus {
		case domain.PaymentFailed, domain.PaymentRefunded:
			return &domain.ErrInvalidTransition{Resource: "allocation", From: string(d.PaymentStatus), To: "reallocated"}
		}
		d.Allocation = alloc
		d.UpdatedAt = p.now().UTC()
		if d.PaymentStatus != domain.PaymentCompleted {
			d.Impact = domain.ImpactCounters{}
			return nil
		}
		impact, err := p.allocation.Allocate(d.Amount, alloc)
		if err != nil {
			return err
		}
		d.Impact = impact
		return nil
	})
}

// ReconcilePayment settles a donation left processing by an unknown gateway outcome.
func (p *DonationProcessor) ReconcilePayment(ctx context.Context, donationID string, res *domain.ChargeResult) (*domain.Donation, error) {
	ctx, span := donationTracer.Start(ctx, "DonationProcessor.ReconcilePayment")
	defer span.End()
	span.SetAttributes(attribute.String("donation.id", donationID), attribute.String("charge.status", res.Status))

	var d *domain.Donation
	err := p.locker.WithLock(ctx, donationLockKey(donationID), func(ctx context.Context) error {
		var err error
		d, err = p.store.GetDonation(ctx, donationID)
		if err != nil {
			return err
		}
		if d.PaymentStatus != domain.PaymentProcessing {
			return &domain.ErrInvalidTransition{Resource: "payment", From: string(d.PaymentStatus), To: res.Status}
		}
		outcome := outcomeUnknown
		switch res.Status {
		case domain.ChargeSucceeded:
			outcome = outcomeSucceeded
		case domain.ChargeFailed:
			outcome = outcomeDeclined
		default:
			return &domain.ErrValidation{Field: "status", Message: "must be succeeded or failed"}
		}
		return p.settle(ctx, d, res, outcome)
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("payment reconciled", zap.String("donation_id", d.ID), zap.String("status", string(d.PaymentStatus)))
	return d, nil
}

// CancelPledge stops a donor's recurring pledge.
func (p *DonationProcessor) CancelPledge(ctx context.Context, donorRef, donationID, reason string) (*domain.Donation, error) {
	d, err := p.scheduler.Cancel(ctx, donorRef, donationID, reason)
	if err != nil {
		return nil, err
	}
	p.publish(ctx, domain.EventPledgeCancelled, d)
	return d, nil
}

func (p *DonationProcessor) mutate(ctx context.Context, donationID string, fn func(*domain.Donation) error) (*domain.Donation, error) {
	var d *domain.Donation
	err := p.locker.WithLock(ctx, donationLockKey(donationID), func(ctx context.Context) error {
		var err error
		d, err = p.store.GetDonation(ctx, donationID)
		if err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
		return p.store.SaveDonations(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ============================================================
// Recurring charges
// ============================================================

// ChargeRecurring charges one due installment of a pledge. The child
// donation and the advanced schedule are saved in one commit, so a
// crashed sweep never charges the same installment twice. It returns nil
// when the pledge is not due.
func (p *DonationProcessor) ChargeRecurring(ctx context.Context, parentID string, asOf time.Time) (*domain.Donation, error) {
	ctx, span := donationTracer.Start(ctx, "DonationProcessor.ChargeRecurring")
	defer span.End()
	span.SetAttributes(attribute.String("donation.id", parentID))

	var child *domain.Donation
	err := p.locker.WithLock(ctx, donationLockKey(parentID), func(ctx context.Context) error {
		parent, err := p.store.GetDonation(ctx, parentID)
		if err != nil {
			return err
		}
		r := parent.Recurring
		if !r.Active() || r.NextPaymentDate == nil || r.NextPaymentDate.After(asOf) {
			return nil
		}

		key := installmentKey(parent)
		existing, err := p.store.GetDonationByKey(ctx, parent.DonorRef, key)
		if err == nil {
			// Installment already on file; only the schedule is behind.
			child = existing
			if err := p.scheduler.Advance(parent); err != nil {
				return err
			}
			return p.store.SaveDonations(ctx, parent)
		}
		var nf *domain.ErrNotFound
		if !errors.As(err, &nf) {
			return err
		}

		now := p.now().UTC()
		c := &domain.Donation{
			ID:             uuid.New().String(),
			ParentID:       parent.ID,
			DonorRef:       parent.DonorRef,
			IdempotencyKey: key,
			Amount:         parent.Amount,
			Currency:       parent.Currency,
			Type:           parent.Type,
			PaymentMethod:  parent.PaymentMethod,
			PaymentStatus:  domain.PaymentPending,
			Tier:           ClassifyTier(parent.Amount),
			Allocation:     parent.Allocation,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := c.TransitionTo(domain.PaymentProcessing, now); err != nil {
			return err
		}

		res, outcome := p.charge(ctx, c, key)
		switch outcome {
		case outcomeSucceeded:
			if err := p.complete(c, res, p.now().UTC()); err != nil {
				return err
			}
			if err := p.scheduler.Advance(parent); err != nil {
				return err
			}
			parent.UpdatedAt = now
			if err := p.store.SaveDonations(ctx, c, parent); err != nil {
				return err
			}
			p.metrics.IncrRecurringCharge("succeeded")
			p.metrics.IncrDonation(domain.PaymentCompleted)
			p.publish(ctx, domain.EventDonationCompleted, c)
			child = c
			return nil

		case outcomeDeclined:
			parent.Recurring.FailedAttempts++
			parent.Recurring.LastFailure = res.Message
			parent.UpdatedAt = now
			suspended := parent.Recurring.FailedAttempts >= p.cfg.MaxFailedAttempts
			if suspended {
				parent.Recurring.Status = domain.RecurringSuspended
			}
			p.metrics.IncrRecurringCharge("declined")
			if err := p.store.SaveDonations(ctx, parent); err != nil {
				return err
			}
			if suspended {
				p.metrics.IncrRecurringCharge("suspended")
				p.logger.Warn("pledge suspended after declined installments",
					zap.String("donation_id", parent.ID),
					zap.Int("failed_attempts", parent.Recurring.FailedAttempts),
				)
				p.publish(ctx, domain.EventPledgeSuspended, parent)
			}
			return &domain.ErrExternalService{Service: "payment", Err: errors.New("installment declined: " + res.Message)}

		default:
			// Same key next sweep; the gateway deduplicates.
			p.metrics.IncrRecurringCharge("unknown")
			return &domain.ErrTimeout{Operation: "payment.charge"}
		}
	})
	if err != nil {
		return nil, err
	}
	if child != nil {
		p.logger.Info("recurring installment charged",
			zap.String("parent_id", parentID),
			zap.String("donation_id", child.ID),
			zap.String("key", child.IdempotencyKey),
		)
	}
	return child, nil
}

// installmentKey identifies one installment. Failed attempts get a fresh
// key so a declined charge is retried rather than replayed.
func installmentKey(parent *domain.Donation) string {
	key := parent.ID + ":" + parent.Recurring.NextPaymentDate.UTC().Format("2006-01-02")
	if n := parent.Recurring.FailedAttempts; n > 0 {
		key += ":retry" + strconv.Itoa(n)
	}
	return key
}

// SweepReport summarises one pass over due pledges.
type SweepReport struct {
	Due     int `json:"due"`
	Charged int `json:"charged"`
	Failed  int `json:"failed"`
}

// SweepDue charges every pledge due at asOf. The due set is read page by
// page and each page is charged a bounded number at a time, so pledges
// that keep failing cannot starve the ones behind them.
// One pledge failing does not stop the others.
func (p *DonationProcessor) SweepDue(ctx context.Context, asOf time.Time) (SweepReport, error) {
	ctx, span := donationTracer.Start(ctx, "DonationProcessor.SweepDue")
	defer span.End()

	var (
		due             int
		charged, failed atomic.Int64
		cursor          *domain.DueCursor
	)
	for {
		page, next, err := p.scheduler.DueBatch(ctx, asOf, cursor, p.cfg.SweepBatchSize)
		if err != nil {
			return SweepReport{Due: due, Charged: int(charged.Load()), Failed: int(failed.Load())}, err
		}
		due += len(page)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.SweepConcurrency)
		for _, d := range page {
			id := d.ID
			g.Go(func() error {
				child, err := p.ChargeRecurring(gctx, id, asOf)
				switch {
				case err != nil:
					failed.Add(1)
					p.logger.Warn("recurring charge failed", zap.String("donation_id", id), zap.Error(err))
				case child != nil:
					charged.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()

		if next == nil || ctx.Err() != nil {
			break
		}
		cursor = next
	}

	report := SweepReport{Due: due, Charged: int(charged.Load()), Failed: int(failed.Load())}
	p.logger.Info("recurring sweep finished",
		zap.Int("due", report.Due),
		zap.Int("charged", report.Charged),
		zap.Int("failed", report.Failed),
	)
	return report, ctx.Err()
}

func (p *DonationProcessor) publish(ctx context.Context, eventType string, d *domain.Donation) {
	err := p.events.Publish(ctx, domain.Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: p.now().UTC(),
		Payload:    d,
	})
	if err != nil {
		p.logger.Warn("event publish failed", zap.String("type", eventType), zap.Error(err))
	}
}
