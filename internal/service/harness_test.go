package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/config"
	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/client"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/events"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/lock"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/memory"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/observability"
	"github.com/boddenberg/plastic-rewards-go/internal/port"
	"github.com/boddenberg/plastic-rewards-go/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Harness ---

type harness struct {
	store     *memory.Store
	sessions  *memory.Sessions
	locker    *lock.Local
	metrics   *observability.Metrics
	registry  *service.StoreRegistry
	ledger    *service.CollectorLedger
	guard     *service.CashFloatGuard
	processor *service.TransactionProcessor
	donations *service.DonationProcessor
	scheduler *service.RecurrenceScheduler
	reporting *service.ReportingService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithGateway(t, client.NewSandboxGateway(), time.Second)
}

func newHarnessWithGateway(t *testing.T, gateway port.PaymentGateway, paymentTimeout time.Duration) *harness {
	t.Helper()

	policy := config.DefaultPolicy()
	logger := zap.NewNop()
	h := &harness{
		store:    memory.NewStore(),
		sessions: memory.NewSessions(),
		locker:   lock.NewLocal(),
		metrics:  observability.NewMetrics(),
	}

	h.registry = service.NewStoreRegistry(h.store)
	h.ledger = service.NewCollectorLedger(h.store, h.store, h.locker, h.metrics, logger)
	h.guard = service.NewCashFloatGuard(h.sessions, h.metrics, logger)
	valuation := service.NewValuationPolicy(policy.PricePerKg, policy.CashSharePercent, policy.Materials)
	h.processor = service.NewTransactionProcessor(
		h.registry, h.ledger, h.guard, valuation, h.locker, events.Nop{}, h.metrics, logger,
		service.ProcessorConfig{},
	)

	allocation := service.NewAllocationEngine(policy.DefaultAllocation, policy.UnitCosts)
	h.scheduler = service.NewRecurrenceScheduler(h.store, h.locker, h.metrics, logger)
	h.donations = service.NewDonationProcessor(
		h.store, gateway, allocation, h.scheduler, h.locker, events.Nop{}, h.metrics, logger,
		service.DonationConfig{Currency: policy.Currency, PaymentTimeout: paymentTimeout},
	)
	h.reporting = service.NewReportingService(h.store, h.store, h.store)
	return h
}

func (h *harness) enroll(t *testing.T, phone, card string) *domain.Collector {
	t.Helper()
	c, err := h.registry.Register(context.Background(), &domain.RegisterCollectorRequest{
		Name:         "Ama",
		Phone:        phone,
		CardNumber:   card,
		Neighborhood: "Jamestown",
	})
	require.NoError(t, err)
	c, err = h.ledger.Enroll(context.Background(), c)
	require.NoError(t, err)
	return c
}

func (h *harness) openSession(t *testing.T, float string) *domain.HubSession {
	t.Helper()
	s, err := h.guard.Open(context.Background(), &domain.OpenSessionRequest{
		HubID:          "hub-accra-1",
		OperatorID:     "op-1",
		CashFloatStart: domain.MustMoney(float),
	})
	require.NoError(t, err)
	return s
}

func kg(s string) decimal.Decimal { return decimal.RequireFromString(s) }
