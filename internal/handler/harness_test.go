package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/config"
	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/handler"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/client"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/events"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/lock"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/memory"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/observability"
	"github.com/boddenberg/plastic-rewards-go/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret     = "test-secret"
	testGatewayKey = "gw-key"
)

type api struct {
	router  http.Handler
	metrics *observability.Metrics
}

func newAPI(t *testing.T) *api {
	t.Helper()

	policy := config.DefaultPolicy()
	logger := zap.NewNop()
	store := memory.NewStore()
	locker := lock.NewLocal()
	metrics := observability.NewMetrics()

	registry := service.NewStoreRegistry(store)
	ledger := service.NewCollectorLedger(store, store, locker, metrics, logger)
	guard := service.NewCashFloatGuard(memory.NewSessions(), metrics, logger)
	valuation := service.NewValuationPolicy(policy.PricePerKg, policy.CashSharePercent, policy.Materials)
	processor := service.NewTransactionProcessor(
		registry, ledger, guard, valuation, locker, events.Nop{}, metrics, logger,
		service.ProcessorConfig{},
	)
	scheduler := service.NewRecurrenceScheduler(store, locker, metrics, logger)
	donations := service.NewDonationProcessor(
		store, client.NewSandboxGateway(),
		service.NewAllocationEngine(policy.DefaultAllocation, policy.UnitCosts),
		scheduler, locker, events.Nop{}, metrics, logger,
		service.DonationConfig{Currency: policy.Currency, PaymentTimeout: 20 * time.Millisecond},
	)

	router := handler.NewRouter(handler.Services{
		Sessions:    guard,
		Collections: processor,
		Ledger:      ledger,
		Registry:    registry,
		Donations:   donations,
		Reporting:   service.NewReportingService(store, store, store),
	}, handler.Options{
		JWTSecret:          testSecret,
		GatewayKey:         testGatewayKey,
		CORSAllowedOrigins: []string{"*"},
	}, metrics, logger)

	return &api{router: router, metrics: metrics}
}

func token(t *testing.T, subject, role string) string {
	t.Helper()
	claims := handler.SessionClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

type call struct {
	method  string
	path    string
	body    any
	token   string
	headers map[string]string
}

func (a *api) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

// setupHub registers one collector and opens a session as a hub manager.
func (a *api) setupHub(t *testing.T, manager, float string) (*domain.Collector, *domain.HubSession) {
	t.Helper()

	rec := a.do(t, call{method: http.MethodPost, path: "/v1/collectors", token: manager, body: map[string]any{
		"name": "Ama", "phone": "024 123 4567", "neighborhood": "Jamestown",
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	collector := decode[domain.Collector](t, rec)

	rec = a.do(t, call{method: http.MethodPost, path: "/v1/sessions", token: manager, body: map[string]any{
		"hub_id": "hub-accra-1", "cash_float_start": float,
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	session := decode[domain.HubSession](t, rec)

	return &collector, &session
}
