package handler

import (
	"net/http"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Hub sessions: /v1/sessions
// ============================================================

type openSessionBody struct {
	HubID          string       `json:"hub_id" validate:"required,max=64"`
	CashFloatStart domain.Money `json:"cash_float_start" validate:"gte=0"`
}

type topUpBody struct {
	Amount domain.Money `json:"amount" validate:"gt=0"`
}

func openSessionHandler(guard *service.CashFloatGuard, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/sessions")
		defer span.End()

		var body openSessionBody
		if err := decodeAndValidate(r, &body); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		session, err := guard.Open(ctx, &domain.OpenSessionRequest{
			HubID:          body.HubID,
			OperatorID:     PrincipalFromContext(ctx).Subject,
			CashFloatStart: body.CashFloatStart,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, session)
	}
}

func getSessionHandler(guard *service.CashFloatGuard, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/sessions/{sessionId}")
		defer span.End()

		sessionID := chi.URLParam(r, "sessionId")
		span.SetAttributes(attribute.String("session.id", sessionID))

		session, err := guard.Get(ctx, sessionID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

func topUpSessionHandler(guard *service.CashFloatGuard, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/sessions/{sessionId}/topup")
		defer span.End()

		sessionID := chi.URLParam(r, "sessionId")
		span.SetAttributes(attribute.String("session.id", sessionID))

		var body topUpBody
		if err := decodeAndValidate(r, &body); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		session, err := guard.TopUp(ctx, sessionID, body.Amount)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

func closeSessionHandler(guard *service.CashFloatGuard, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/sessions/{sessionId}/close")
		defer span.End()

		sessionID := chi.URLParam(r, "sessionId")
		span.SetAttributes(attribute.String("session.id", sessionID))

		session, err := guard.Close(ctx, sessionID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}
