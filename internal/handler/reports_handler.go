package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/report"
	"github.com/boddenberg/plastic-rewards-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Reports: /v1/hubs/{hubId}/transactions, /v1/impact
// ============================================================

func hubQuery(r *http.Request, limit int) (domain.TransactionQuery, error) {
	q := domain.TransactionQuery{
		HubID:     chi.URLParam(r, "hubId"),
		SessionID: r.URL.Query().Get("session_id"),
		Limit:     limit,
	}
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, &domain.ErrValidation{Field: "since", Message: "must be an RFC3339 timestamp"}
		}
		q.Since = since
	}
	return q, nil
}

func hubTransactionsHandler(reporting *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/hubs/{hubId}/transactions")
		defer span.End()

		q, err := hubQuery(r, parseLimit(r, 50))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("hub.id", q.HubID))

		txs, err := reporting.HubTransactions(ctx, q)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if txs == nil {
			txs = []domain.CollectionTransaction{}
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.CollectionTransaction]{Data: txs, Total: len(txs)})
	}
}

func hubExportHandler(reporting *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/hubs/{hubId}/transactions/export")
		defer span.End()

		q, err := hubQuery(r, parseLimit(r, 100))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("hub.id", q.HubID))

		txs, err := reporting.HubTransactions(ctx, q)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		var buf bytes.Buffer
		if err := report.WriteTransactions(&buf, q.HubID, txs); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		filename := fmt.Sprintf("hub-%s-%s.xlsx", q.HubID, time.Now().UTC().Format("20060102"))
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(filename))
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.WriteHeader(http.StatusOK)
		_, _ = buf.WriteTo(w)
	}
}

func impactTotalsHandler(reporting *service.ReportingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/impact")
		defer span.End()

		// ?scope=mine narrows the totals to the caller's own donations.
		donorRef := ""
		if r.URL.Query().Get("scope") == "mine" {
			donorRef = PrincipalFromContext(ctx).Subject
		}

		totals, err := reporting.DonationImpactTotals(ctx, donorRef)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, totals)
	}
}
