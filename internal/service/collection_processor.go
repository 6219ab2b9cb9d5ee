package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/observability"
	"github.com/boddenberg/plastic-rewards-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

var collectionTracer = otel.Tracer("service/collection")

// ProcessorConfig tunes the transaction processor.
type ProcessorConfig struct {
	// DuplicateWindow buckets requests without an idempotency key; identical
	// hand-offs in the same bucket are treated as one.
	DuplicateWindow time.Duration
	// StoreTimeout bounds the locked commit section.
	StoreTimeout time.Duration
}

// TransactionProcessor turns a physical hand-off into a committed ledger
// entry. Float reservation, balance update, record append and session
// counters succeed together or leave no trace.
type TransactionProcessor struct {
	registry  port.CollectorRegistry
	ledger    *CollectorLedger
	guard     *CashFloatGuard
	valuation *ValuationPolicy
	locker    port.KeyLocker
	events    port.EventPublisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	cfg       ProcessorConfig
	now       func() time.Time
}

// NewTransactionProcessor wires the processor.
func NewTransactionProcessor(
	registry port.CollectorRegistry,
	ledger *CollectorLedger,
	guard *CashFloatGuard,
	valuation *ValuationPolicy,
	locker port.KeyLocker,
	events port.EventPublisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
	cfg ProcessorConfig,
) *TransactionProcessor {
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = 2 * time.Minute
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &TransactionProcessor{
		registry:  registry,
		ledger:    ledger,
		guard:     guard,
		valuation: valuation,
		locker:    locker,
		events:    events,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Process records one collection. Retrying with the same idempotency key
// returns the original result with Replayed set.
func (p *TransactionProcessor) Process(ctx context.Context, req *domain.CollectionRequest) (*domain.CollectionResult, error) {
	ctx, span := collectionTracer.Start(ctx, "TransactionProcessor.Process")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", req.SessionID))

	start := time.Now()
	defer func() { p.metrics.RecordRequestDuration("collection", time.Since(start)) }()

	stage := domain.StageSearching
	result, err := p.process(ctx, req, &stage)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.metrics.IncrCollectionAbort(stage)
		p.logger.Warn("collection aborted",
			zap.String("stage", string(stage)),
			zap.String("session_id", req.SessionID),
			zap.Error(err),
		)
		return nil, err
	}

	if result.Replayed {
		p.metrics.IncrCollectionReplay()
		p.logger.Info("collection replayed",
			zap.String("transaction_id", result.Transaction.ID),
			zap.String("idempotency_key", result.Transaction.IdempotencyKey),
		)
		return result, nil
	}

	tx := result.Transaction
	p.metrics.RecordCollection(tx.InstantCash, tx.SavingsTokens)
	p.publish(ctx, domain.Event{
		ID:         uuid.New().String(),
		Type:       domain.EventCollectionCommitted,
		OccurredAt: tx.CreatedAt,
		Payload:    tx,
	})
	p.logger.Info("collection committed",
		zap.String("transaction_id", tx.ID),
		zap.String("collector_id", tx.CollectorID),
		zap.String("session_id", tx.SessionID),
		zap.String("material", string(tx.MaterialType)),
		zap.String("weight_kg", tx.WeightKg.String()),
		zap.String("cash", tx.InstantCash.String()),
		zap.String("tokens", tx.SavingsTokens.String()),
	)
	return result, nil
}

func (p *TransactionProcessor) process(ctx context.Context, req *domain.CollectionRequest, stage *domain.CollectionStage) (*domain.CollectionResult, error) {
	// ── Validate inputs ──
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, &domain.ErrValidation{Field: "session_id", Message: "required"}
	}
	if strings.TrimSpace(req.CollectorLookup) == "" {
		return nil, &domain.ErrValidation{Field: "collector", Message: "phone or card number is required"}
	}

	// ── Searching ──
	collectorID, err := p.registry.Lookup(ctx, req.CollectorLookup)
	if err != nil {
		return nil, err
	}

	// ── Material recorded ──
	material := domain.ParseMaterialType(req.MaterialType)
	total, err := p.valuation.Value(material, req.WeightKg)
	if err != nil {
		return nil, err
	}
	cash, tokens := p.valuation.Split(total)
	*stage = domain.StageMaterialRecorded

	now := p.now().UTC()
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = p.fingerprint(collectorID, material, req, now)
	}

	record := &domain.CollectionTransaction{
		ID:             uuid.New().String(),
		IdempotencyKey: key,
		CollectorID:    collectorID,
		SessionID:      req.SessionID,
		OperatorID:     req.OperatorID,
		MaterialType:   material,
		WeightKg:       req.WeightKg,
		PricePerKg:     p.valuation.PricePerKg(),
		TotalValue:     total,
		InstantCash:    cash,
		SavingsTokens:  tokens,
		Location:       req.Location,
		CreatedAt:      now,
	}

	var result *domain.CollectionResult
	err = p.locker.WithLock(ctx, collectorLockKey(collectorID), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
		defer cancel()

		replay, err := p.replay(ctx, key, collectorID)
		if err != nil || replay != nil {
			result = replay
			return err
		}

		collector, err := p.ledger.GetOrFail(ctx, collectorID)
		if err != nil {
			return err
		}
		if !collector.Active {
			return &domain.ErrForbidden{Action: "collector " + collectorID + " is deactivated"}
		}

		// ── Float reserved ──
		session, err := p.guard.Reserve(ctx, req.SessionID, cash)
		if err != nil {
			return err
		}
		*stage = domain.StageFloatReserved
		record.HubID = session.HubID

		updated, err := p.ledger.commit(ctx, collector, domain.LedgerDelta{
			WeightKg:      req.WeightKg,
			Cash:          cash,
			SavingsTokens: tokens,
		}, record)
		if err != nil {
			// A failed release is joined so the caller knows float may be stranded.
			if relErr := p.rollback(ctx, req.SessionID, cash); relErr != nil {
				return errors.Join(err, fmt.Errorf("release float of session %s: %w", req.SessionID, relErr))
			}

			// A concurrent writer outside this lock committed the same key.
			var dup *domain.ErrDuplicate
			if errors.As(err, &dup) {
				replay, rerr := p.replay(ctx, key, collectorID)
				if rerr == nil && replay != nil {
					result = replay
					return nil
				}
			}
			return err
		}

		*stage = domain.StageCommitted
		result = &domain.CollectionResult{Transaction: record, Collector: updated, Session: session}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// replay returns the committed result for key, or nil when key is new.
func (p *TransactionProcessor) replay(ctx context.Context, key, collectorID string) (*domain.CollectionResult, error) {
	existing, err := p.ledger.FindByKey(ctx, key)
	if err != nil || existing == nil {
		return nil, err
	}
	if existing.CollectorID != collectorID {
		return nil, &domain.ErrConflict{Message: "idempotency key " + key + " belongs to another collector"}
	}
	collector, err := p.ledger.GetOrFail(ctx, collectorID)
	if err != nil {
		return nil, err
	}
	return &domain.CollectionResult{Transaction: existing, Collector: collector, Replayed: true}, nil
}

// rollback releases a reservation on a context that survives cancellation
// of the request, so a timed-out commit never strands float.
func (p *TransactionProcessor) rollback(ctx context.Context, sessionID string, amount domain.Money) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.StoreTimeout)
	defer cancel()
	return p.guard.Release(ctx, sessionID, amount)
}

// fingerprint derives an idempotency key from the request content and the
// duplicate-window bucket it falls in.
func (p *TransactionProcessor) fingerprint(collectorID string, material domain.MaterialType, req *domain.CollectionRequest, at time.Time) string {
	bucket := at.Truncate(p.cfg.DuplicateWindow).Unix()
	sum := blake2b.Sum256([]byte(strings.Join([]string{
		collectorID,
		req.SessionID,
		string(material),
		req.WeightKg.String(),
		strconv.FormatInt(bucket, 10),
	}, "|")))
	return "fp-" + hex.EncodeToString(sum[:16])
}

func (p *TransactionProcessor) publish(ctx context.Context, e domain.Event) {
	if err := p.events.Publish(ctx, e); err != nil {
		p.logger.Warn("event publish failed", zap.String("type", e.Type), zap.Error(err))
	}
}
