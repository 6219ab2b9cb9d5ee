package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/observability"
	"github.com/boddenberg/plastic-rewards-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var floatTracer = otel.Tracer("service/float")

// CashFloatGuard owns hub sessions and keeps their cash float from going
// negative. The store performs each check-and-update atomically per session.
type CashFloatGuard struct {
	store   port.SessionStore
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewCashFloatGuard creates a new float guard.
func NewCashFloatGuard(store port.SessionStore, metrics *observability.Metrics, logger *zap.Logger) *CashFloatGuard {
	return &CashFloatGuard{store: store, metrics: metrics, logger: logger, now: time.Now}
}

// Open starts a hub session with its opening float.
func (g *CashFloatGuard) Open(ctx context.Context, req *domain.OpenSessionRequest) (*domain.HubSession, error) {
	ctx, span := floatTracer.Start(ctx, "CashFloatGuard.Open")
	defer span.End()

	if strings.TrimSpace(req.HubID) == "" {
		return nil, &domain.ErrValidation{Field: "hub_id", Message: "required"}
	}
	if req.OperatorID == "" {
		return nil, &domain.ErrValidation{Field: "operator_id", Message: "required"}
	}
	if req.CashFloatStart < 0 {
		return nil, &domain.ErrValidation{Field: "cash_float_start", Message: "must not be negative"}
	}

	s := &domain.HubSession{
		ID:               uuid.New().String(),
		HubID:            strings.TrimSpace(req.HubID),
		OperatorID:       req.OperatorID,
		Status:           domain.SessionOpen,
		CashFloatStart:   req.CashFloatStart,
		CashFloatCurrent: req.CashFloatStart,
		OpenedAt:         g.now(),
	}
	if err := g.store.CreateSession(ctx, s); err != nil {
		return nil, err
	}

	g.logger.Info("hub session opened",
		zap.String("session_id", s.ID),
		zap.String("hub_id", s.HubID),
		zap.String("float", s.CashFloatStart.String()),
	)
	return s, nil
}

// Get returns a session by id.
func (g *CashFloatGuard) Get(ctx context.Context, sessionID string) (*domain.HubSession, error) {
	ctx, span := floatTracer.Start(ctx, "CashFloatGuard.Get")
	defer span.End()

	return g.store.GetSession(ctx, sessionID)
}

// Reserve takes amount out of the session float, failing with
// ErrInsufficientFloat when the float would go negative.
func (g *CashFloatGuard) Reserve(ctx context.Context, sessionID string, amount domain.Money) (*domain.HubSession, error) {
	ctx, span := floatTracer.Start(ctx, "CashFloatGuard.Reserve")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID), attribute.Int64("amount.minor", int64(amount)))

	if amount < 0 {
		return nil, &domain.ErrValidation{Field: "amount", Message: "must not be negative"}
	}

	s, err := g.store.Reserve(ctx, sessionID, amount)
	if err != nil {
		var insufficient *domain.ErrInsufficientFloat
		if errors.As(err, &insufficient) {
			g.metrics.IncrFloatRejection()
			g.logger.Warn("cash float insufficient",
				zap.String("session_id", sessionID),
				zap.String("available", insufficient.Available.String()),
				zap.String("required", insufficient.Required.String()),
			)
		}
		return nil, err
	}
	return s, nil
}

// Release returns a reservation to the float.
func (g *CashFloatGuard) Release(ctx context.Context, sessionID string, amount domain.Money) error {
	ctx, span := floatTracer.Start(ctx, "CashFloatGuard.Release")
	defer span.End()

	if err := g.store.Release(ctx, sessionID, amount); err != nil {
		g.logger.Error("float release failed",
			zap.String("session_id", sessionID),
			zap.String("amount", amount.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// TopUp adds cash to an open session.
func (g *CashFloatGuard) TopUp(ctx context.Context, sessionID string, amount domain.Money) (*domain.HubSession, error) {
	ctx, span := floatTracer.Start(ctx, "CashFloatGuard.TopUp")
	defer span.End()

	if amount <= 0 {
		return nil, &domain.ErrValidation{Field: "amount", Message: "must be greater than zero"}
	}
	s, err := g.store.TopUp(ctx, sessionID, amount)
	if err != nil {
		return nil, err
	}

	g.logger.Info("hub session topped up",
		zap.String("session_id", sessionID),
		zap.String("amount", amount.String()),
		zap.String("float", s.CashFloatCurrent.String()),
	)
	return s, nil
}

// Close ends a session. Closed sessions accept no reservations or top-ups.
func (g *CashFloatGuard) Close(ctx context.Context, sessionID string) (*domain.HubSession, error) {
	ctx, span := floatTracer.Start(ctx, "CashFloatGuard.Close")
	defer span.End()

	s, err := g.store.CloseSession(ctx, sessionID, g.now())
	if err != nil {
		return nil, err
	}

	g.logger.Info("hub session closed",
		zap.String("session_id", s.ID),
		zap.String("paid_out", s.TotalPaidOut.String()),
		zap.Int64("transactions", s.TransactionsCount),
		zap.Bool("balanced", s.Balanced()),
	)
	return s, nil
}
