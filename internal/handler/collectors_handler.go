package handler

import (
	"net/http"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/port"
	"github.com/boddenberg/plastic-rewards-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Collectors: /v1/collectors
// ============================================================

type registerCollectorBody struct {
	Name         string `json:"name" validate:"max=120"`
	Phone        string `json:"phone" validate:"required_without=CardNumber,max=32"`
	CardNumber   string `json:"card_number" validate:"max=32"`
	Neighborhood string `json:"neighborhood" validate:"required,max=120"`
}

func registerCollectorHandler(registry port.CollectorRegistry, ledger *service.CollectorLedger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/collectors")
		defer span.End()

		var body registerCollectorBody
		if err := decodeAndValidate(r, &body); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		registered, err := registry.Register(ctx, &domain.RegisterCollectorRequest{
			Name:         body.Name,
			Phone:        body.Phone,
			CardNumber:   body.CardNumber,
			Neighborhood: body.Neighborhood,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		collector, err := ledger.Enroll(ctx, registered)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("collector.id", collector.ID))
		writeJSON(w, http.StatusCreated, collector)
	}
}

func listCollectorsHandler(ledger *service.CollectorLedger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/collectors")
		defer span.End()

		collectors, err := ledger.List(ctx, r.URL.Query().Get("neighborhood"), parseLimit(r, 50))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if collectors == nil {
			collectors = []domain.Collector{}
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Collector]{Data: collectors, Total: len(collectors)})
	}
}

func deactivateCollectorHandler(ledger *service.CollectorLedger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/collectors/{collectorId}/deactivate")
		defer span.End()

		collectorID := chi.URLParam(r, "collectorId")
		span.SetAttributes(attribute.String("collector.id", collectorID))

		collector, err := ledger.Deactivate(ctx, collectorID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, collector)
	}
}

func collectorSummaryHandler(reporting *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/collectors/{collectorId}/summary")
		defer span.End()

		collectorID := chi.URLParam(r, "collectorId")
		span.SetAttributes(attribute.String("collector.id", collectorID))

		// Collectors only see their own dashboard.
		if p := PrincipalFromContext(ctx); p.Is(domain.RoleCollector) && p.Subject != collectorID {
			handleServiceError(w, &domain.ErrForbidden{Action: "read another collector's summary"}, logger)
			return
		}

		summary, err := reporting.CollectorSummary(ctx, collectorID, parseLimit(r, 10))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}
