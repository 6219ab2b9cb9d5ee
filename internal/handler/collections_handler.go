package handler

import (
	"net/http"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/service"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Collections: POST /v1/collections
// ============================================================

type collectionBody struct {
	IdempotencyKey string           `json:"idempotency_key" validate:"max=128"`
	Collector      string           `json:"collector" validate:"required,max=64"`
	MaterialType   string           `json:"material_type" validate:"required,max=16"`
	WeightKg       decimal.Decimal  `json:"weight_kg" validate:"positive_decimal"`
	SessionID      string           `json:"session_id" validate:"required"`
	Location       *domain.GeoPoint `json:"location,omitempty"`
}

func processCollectionHandler(processor *service.TransactionProcessor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/collections")
		defer span.End()

		var body collectionBody
		if err := decodeAndValidate(r, &body); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("session.id", body.SessionID))

		result, err := processor.Process(ctx, &domain.CollectionRequest{
			IdempotencyKey:  idempotencyKey(r, body.IdempotencyKey),
			CollectorLookup: body.Collector,
			MaterialType:    body.MaterialType,
			WeightKg:        body.WeightKg,
			SessionID:       body.SessionID,
			OperatorID:      PrincipalFromContext(ctx).Subject,
			Location:        body.Location,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		writeJSON(w, status, result)
	}
}
