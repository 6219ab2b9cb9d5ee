package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Donations: /v1/donations
// ============================================================

type donationBody struct {
	IdempotencyKey string              `json:"idempotency_key" validate:"max=128"`
	Amount         domain.Money        `json:"amount" validate:"gt=0"`
	Currency       string              `json:"currency" validate:"omitempty,len=3"`
	Type           domain.DonationType `json:"type" validate:"omitempty,oneof=one-time monthly quarterly yearly"`
	PaymentMethod  string              `json:"payment_method" validate:"required,max=32"`
	Allocation     *allocationBody     `json:"allocation,omitempty"`
	EndDate        *time.Time          `json:"end_date,omitempty"`
}

type allocationBody struct {
	CollectionFunding  int `json:"collection_funding" validate:"gte=0,lte=100"`
	HealthcareAccess   int `json:"healthcare_access" validate:"gte=0,lte=100"`
	HealthIntelligence int `json:"health_intelligence" validate:"gte=0,lte=100"`
	Operations         int `json:"operations" validate:"gte=0,lte=100"`
}

func (a allocationBody) toDomain() domain.Allocation {
	return domain.Allocation{
		CollectionFunding:  a.CollectionFunding,
		HealthcareAccess:   a.HealthcareAccess,
		HealthIntelligence: a.HealthIntelligence,
		Operations:         a.Operations,
	}
}

type cancelPledgeBody struct {
	Reason string `json:"reason" validate:"max=500"`
}

type paymentCallbackBody struct {
	TransactionID string `json:"transaction_id" validate:"max=128"`
	Status        string `json:"status" validate:"required,oneof=succeeded failed"`
	Message       string `json:"message" validate:"max=500"`
}

// donorScope is the donor a principal may read as; hub managers read all.
func donorScope(p *domain.Principal) string {
	if p.Is(domain.RoleHubManager) {
		return ""
	}
	return p.Subject
}

// donationStatusCode maps the payment outcome to the response status:
// settled 201, unknown outcome 202, declined 402.
func donationStatusCode(d *domain.Donation) int {
	switch d.PaymentStatus {
	case domain.PaymentProcessing, domain.PaymentPending:
		return http.StatusAccepted
	case domain.PaymentFailed:
		return http.StatusPaymentRequired
	}
	return http.StatusCreated
}

func donateHandler(donations *service.DonationProcessor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/donations")
		defer span.End()

		var body donationBody
		if err := decodeAndValidate(r, &body); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		req := &domain.DonationRequest{
			IdempotencyKey: idempotencyKey(r, body.IdempotencyKey),
			DonorRef:       PrincipalFromContext(ctx).Subject,
			Amount:         body.Amount,
			Currency:       body.Currency,
			Type:           body.Type,
			PaymentMethod:  body.PaymentMethod,
			EndDate:        body.EndDate,
		}
		if body.Allocation != nil {
			alloc := body.Allocation.toDomain()
			req.Allocation = &alloc
		}

		d, err := donations.Donate(ctx, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("donation.id", d.ID), attribute.String("payment.status", string(d.PaymentStatus)))
		writeJSON(w, donationStatusCode(d), d)
	}
}

func listDonationsHandler(donations *service.DonationProcessor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/donations")
		defer span.End()

		list, err := donations.List(ctx, domain.DonationQuery{
			DonorRef:      PrincipalFromContext(ctx).Subject,
			PaymentStatus: domain.PaymentStatus(r.URL.Query().Get("status")),
			Limit:         parseLimit(r, 50),
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if list == nil {
			list = []domain.Donation{}
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Donation]{Data: list, Total: len(list)})
	}
}

func getDonationHandler(donations *service.DonationProcessor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/donations/{donationId}")
		defer span.End()

		donationID := chi.URLParam(r, "donationId")
		span.SetAttributes(attribute.String("donation.id", donationID))

		d, err := donations.Get(ctx, donorScope(PrincipalFromContext(ctx)), donationID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func updateAllocationHandler(donations *service.DonationProcessor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/donations/{donationId}/allocation")
		defer span.End()

		donationID := chi.URLParam(r, "donationId")
		span.SetAttributes(attribute.String("donation.id", donationID))

		var body allocationBody
		if err := decodeAndValidate(r, &body); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		d, err := donations.UpdateAllocation(ctx, PrincipalFromContext(ctx).Subject, donationID, body.toDomain())
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func cancelPledgeHandler(donations *service.DonationProcessor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/donations/{donationId}/cancel")
		defer span.End()

		donationID := chi.URLParam(r, "donationId")
		span.SetAttributes(attribute.String("donation.id", donationID))

		var body cancelPledgeBody
		if r.ContentLength != 0 {
			if err := decodeAndValidate(r, &body); err != nil {
				handleServiceError(w, err, logger)
				return
			}
		}

		d, err := donations.CancelPledge(ctx, PrincipalFromContext(ctx).Subject, donationID, body.Reason)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func refundDonationHandler(donations *service.DonationProcessor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/donations/{donationId}/refund")
		defer span.End()

		donationID := chi.URLParam(r, "donationId")
		span.SetAttributes(attribute.String("donation.id", donationID))

		d, err := donations.Refund(ctx, donationID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

// ============================================================
// Gateway callback: POST /v1/payments/callback/{donationId}
// ============================================================

func paymentCallbackHandler(donations *service.DonationProcessor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/payments/callback/{donationId}")
		defer span.End()

		donationID := chi.URLParam(r, "donationId")
		span.SetAttributes(attribute.String("donation.id", donationID))

		var body paymentCallbackBody
		if err := decodeAndValidate(r, &body); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		d, err := donations.ReconcilePayment(ctx, donationID, &domain.ChargeResult{
			TransactionID: body.TransactionID,
			Status:        body.Status,
			Message:       body.Message,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}
