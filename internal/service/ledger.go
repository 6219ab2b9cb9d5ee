package service

import (
	"context"
	"errors"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/observability"
	"github.com/boddenberg/plastic-rewards-go/internal/port"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var ledgerTracer = otel.Tracer("service/ledger")

// CollectorLedger owns collector balances. Aggregates are only ever
// increased, and only together with the transaction record that explains them.
type CollectorLedger struct {
	collectors port.CollectorStore
	ledger     port.LedgerStore
	locker     port.KeyLocker
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewCollectorLedger creates a new collector ledger.
func NewCollectorLedger(collectors port.CollectorStore, ledger port.LedgerStore, locker port.KeyLocker, metrics *observability.Metrics, logger *zap.Logger) *CollectorLedger {
	return &CollectorLedger{
		collectors: collectors,
		ledger:     ledger,
		locker:     locker,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// GetOrFail returns the collector or ErrNotFound.
func (l *CollectorLedger) GetOrFail(ctx context.Context, collectorID string) (*domain.Collector, error) {
	ctx, span := ledgerTracer.Start(ctx, "CollectorLedger.GetOrFail")
	defer span.End()
	span.SetAttributes(attribute.String("collector.id", collectorID))

	if collectorID == "" {
		return nil, &domain.ErrValidation{Field: "collector_id", Message: "required"}
	}
	return l.collectors.GetCollector(ctx, collectorID)
}

// ApplyCollection adds one collection's amounts to the collector's totals
// under the collector lock. Amounts must be non-negative.
func (l *CollectorLedger) ApplyCollection(ctx context.Context, collectorID string, weightKg decimal.Decimal, cash, tokens domain.Money) (*domain.Collector, error) {
	ctx, span := ledgerTracer.Start(ctx, "CollectorLedger.ApplyCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collector.id", collectorID))

	delta := domain.LedgerDelta{WeightKg: weightKg, Cash: cash, SavingsTokens: tokens}
	if err := validateDelta(delta); err != nil {
		return nil, err
	}

	var updated *domain.Collector
	err := l.locker.WithLock(ctx, collectorLockKey(collectorID), func(ctx context.Context) error {
		c, err := l.GetOrFail(ctx, collectorID)
		if err != nil {
			return err
		}
		updated, err = l.commit(ctx, c, delta, nil)
		return err
	})
	return updated, err
}

// commit writes delta and the optional record against the version of c.
// The caller holds the collector lock.
func (l *CollectorLedger) commit(ctx context.Context, c *domain.Collector, delta domain.LedgerDelta, record *domain.CollectionTransaction) (*domain.Collector, error) {
	if !c.Active {
		return nil, &domain.ErrForbidden{Action: "collector " + c.ID + " is deactivated"}
	}
	updated, err := l.ledger.ApplyLedgerUpdate(ctx, &domain.LedgerUpdate{
		CollectorID:     c.ID,
		ExpectedVersion: c.Version,
		Delta:           delta,
		Record:          record,
	})
	if err != nil {
		var conflict *domain.ErrConflict
		if errors.As(err, &conflict) {
			l.logger.Warn("ledger version conflict", zap.String("collector_id", c.ID), zap.Int64("version", c.Version))
		}
		return nil, err
	}
	return updated, nil
}

func validateDelta(d domain.LedgerDelta) error {
	if !d.WeightKg.IsPositive() {
		return &domain.ErrValidation{Field: "weight_kg", Message: "must be greater than zero"}
	}
	if d.Cash < 0 || d.SavingsTokens < 0 {
		return &domain.ErrValidation{Field: "amount", Message: "must not be negative"}
	}
	return nil
}

// FindByKey returns the committed transaction for an idempotency key, or nil.
func (l *CollectorLedger) FindByKey(ctx context.Context, key string) (*domain.CollectionTransaction, error) {
	tx, err := l.ledger.GetTransactionByKey(ctx, key)
	if err != nil {
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, err
	}
	return tx, nil
}

// Transactions lists ledger records, newest first.
func (l *CollectorLedger) Transactions(ctx context.Context, q domain.TransactionQuery) ([]domain.CollectionTransaction, error) {
	ctx, span := ledgerTracer.Start(ctx, "CollectorLedger.Transactions")
	defer span.End()

	return l.ledger.ListTransactions(ctx, q)
}

// ============================================================
// Registration
// ============================================================

// Enroll creates the ledger account for a collector the registry already
// knows. Enrolling an existing collector returns it unchanged.
func (l *CollectorLedger) Enroll(ctx context.Context, registered *domain.Collector) (*domain.Collector, error) {
	ctx, span := ledgerTracer.Start(ctx, "CollectorLedger.Enroll")
	defer span.End()

	if registered.ID == "" {
		registered.ID = uuid.New().String()
	}

	var enrolled *domain.Collector
	err := l.locker.WithLock(ctx, collectorLockKey(registered.ID), func(ctx context.Context) error {
		existing, err := l.collectors.GetCollector(ctx, registered.ID)
		if err == nil {
			enrolled = existing
			return nil
		}
		var nf *domain.ErrNotFound
		if !errors.As(err, &nf) {
			return err
		}

		now := l.now()
		c := &domain.Collector{
			ID:            registered.ID,
			Name:          registered.Name,
			Phone:         registered.Phone,
			CardNumber:    registered.CardNumber,
			Neighborhood:  registered.Neighborhood,
			Active:        true,
			TotalWeightKg: decimal.Zero,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		enrolled, err = l.collectors.SaveCollector(ctx, c)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("collector enrolled",
		zap.String("collector_id", enrolled.ID),
		zap.String("channel", enrolled.ContactChannel()),
		zap.String("neighborhood", enrolled.Neighborhood),
	)
	return enrolled, nil
}

// Deactivate stops a collector from transacting. Balances are kept.
func (l *CollectorLedger) Deactivate(ctx context.Context, collectorID string) (*domain.Collector, error) {
	ctx, span := ledgerTracer.Start(ctx, "CollectorLedger.Deactivate")
	defer span.End()
	span.SetAttributes(attribute.String("collector.id", collectorID))

	var updated *domain.Collector
	err := l.locker.WithLock(ctx, collectorLockKey(collectorID), func(ctx context.Context) error {
		c, err := l.GetOrFail(ctx, collectorID)
		if err != nil {
			return err
		}
		if !c.Active {
			updated = c
			return nil
		}
		c.Active = false
		c.UpdatedAt = l.now()
		updated, err = l.collectors.SaveCollector(ctx, c)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("collector deactivated", zap.String("collector_id", collectorID))
	return updated, nil
}

// List returns collectors, optionally filtered by neighborhood.
func (l *CollectorLedger) List(ctx context.Context, neighborhood string, limit int) ([]domain.Collector, error) {
	ctx, span := ledgerTracer.Start(ctx, "CollectorLedger.List")
	defer span.End()

	return l.collectors.QueryCollectors(ctx, neighborhood, limit)
}

func collectorLockKey(id string) string { return "collector:" + id }
