package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/observability"
	"github.com/boddenberg/plastic-rewards-go/internal/port"
	"github.com/boddenberg/plastic-rewards-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Services are the application services the HTTP surface exposes.
type Services struct {
	Sessions    *service.CashFloatGuard
	Collections *service.TransactionProcessor
	Ledger      *service.CollectorLedger
	Registry    port.CollectorRegistry
	Donations   *service.DonationProcessor
	Reporting   *service.ReportingService
}

// HealthCheck checks one dependency for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options configure authentication and operational endpoints.
type Options struct {
	JWTSecret          string
	GatewayKey         string
	CORSAllowedOrigins []string
	HealthChecks       []HealthCheck
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc Services, opts Options, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(opts.HealthChecks))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/ledger", ledgerMetricsHandler(metrics))

		// Gateway callbacks settle donations whose outcome was unknown.
		r.With(GatewayKeyMiddleware(opts.GatewayKey, logger)).
			Post("/payments/callback/{donationId}", paymentCallbackHandler(svc.Donations, logger))

		r.Group(func(r chi.Router) {
			r.Use(PrincipalMiddleware([]byte(opts.JWTSecret), logger))

			// =============================================
			// Hub operations
			// =============================================
			r.Group(func(r chi.Router) {
				r.Use(RequireRole(domain.RoleHubManager))

				r.Post("/sessions", openSessionHandler(svc.Sessions, logger))
				r.Get("/sessions/{sessionId}", getSessionHandler(svc.Sessions, logger))
				r.Post("/sessions/{sessionId}/topup", topUpSessionHandler(svc.Sessions, logger))
				r.Post("/sessions/{sessionId}/close", closeSessionHandler(svc.Sessions, logger))

				r.Post("/collections", processCollectionHandler(svc.Collections, logger))

				r.Post("/collectors", registerCollectorHandler(svc.Registry, svc.Ledger, logger))
				r.Get("/collectors", listCollectorsHandler(svc.Ledger, logger))
				r.Post("/collectors/{collectorId}/deactivate", deactivateCollectorHandler(svc.Ledger, logger))

				r.Get("/hubs/{hubId}/transactions", hubTransactionsHandler(svc.Reporting, logger))
				r.Get("/hubs/{hubId}/transactions/export", hubExportHandler(svc.Reporting, logger))

				r.Post("/donations/{donationId}/refund", refundDonationHandler(svc.Donations, logger))
			})

			// =============================================
			// Collector dashboard
			// =============================================
			r.With(RequireRole(domain.RoleHubManager, domain.RoleCollector)).
				Get("/collectors/{collectorId}/summary", collectorSummaryHandler(svc.Reporting, logger))

			// =============================================
			// Donations (any principal)
			// =============================================
			r.Post("/donations", donateHandler(svc.Donations, logger))
			r.Get("/donations", listDonationsHandler(svc.Donations, logger))
			r.Get("/donations/{donationId}", getDonationHandler(svc.Donations, logger))
			r.Put("/donations/{donationId}/allocation", updateAllocationHandler(svc.Donations, logger))
			r.Post("/donations/{donationId}/cancel", cancelPledgeHandler(svc.Donations, logger))
			r.Get("/impact", impactTotalsHandler(svc.Reporting, logger))
		})
	})

	return r
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "rewards-api", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}
		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			start := time.Now()
			err := c.Check(ctx)
			cancel()
			status := "healthy"
			if err != nil {
				status = "unhealthy"
			}
			services = append(services, domain.ServiceHealth{
				Name: c.Name, Status: status,
				LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status != "healthy" {
				overallStatus = "degraded"
				break
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func ledgerMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetLedgerSnapshot())
	}
}
