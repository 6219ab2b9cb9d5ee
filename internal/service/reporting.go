package service

import (
	"context"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var reportTracer = otel.Tracer("service/reporting")

const (
	defaultRecentLimit = 20
	maxReportLimit     = 1000
)

// ReportingService serves the read-only dashboard queries.
type ReportingService struct {
	collectors port.CollectorStore
	ledger     port.LedgerStore
	donations  port.DonationStore
}

// NewReportingService creates a new reporting service.
func NewReportingService(collectors port.CollectorStore, ledger port.LedgerStore, donations port.DonationStore) *ReportingService {
	return &ReportingService{collectors: collectors, ledger: ledger, donations: donations}
}

// CollectorSummary returns a collector's totals and recent transactions.
func (s *ReportingService) CollectorSummary(ctx context.Context, collectorID string, recent int) (*domain.CollectorSummary, error) {
	ctx, span := reportTracer.Start(ctx, "ReportingService.CollectorSummary")
	defer span.End()
	span.SetAttributes(attribute.String("collector.id", collectorID))

	var (
		collector *domain.Collector
		txs       []domain.CollectionTransaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		collector, err = s.collectors.GetCollector(gctx, collectorID)
		return err
	})
	g.Go(func() error {
		var err error
		txs, err = s.ledger.ListTransactions(gctx, domain.TransactionQuery{CollectorID: collectorID, Limit: clampLimit(recent)})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []domain.CollectionTransaction{}
	}
	return &domain.CollectorSummary{Collector: collector, RecentTransactions: txs}, nil
}

// HubTransactions lists a hub's recent transactions, newest first.
func (s *ReportingService) HubTransactions(ctx context.Context, q domain.TransactionQuery) ([]domain.CollectionTransaction, error) {
	ctx, span := reportTracer.Start(ctx, "ReportingService.HubTransactions")
	defer span.End()

	if q.HubID == "" && q.SessionID == "" {
		return nil, &domain.ErrValidation{Field: "hub_id", Message: "hub_id or session_id is required"}
	}
	q.Limit = clampLimit(q.Limit)
	return s.ledger.ListTransactions(ctx, q)
}

// DonationImpactTotals sums impact over a donor's completed donations, or
// over every completed donation when donorRef is empty.
func (s *ReportingService) DonationImpactTotals(ctx context.Context, donorRef string) (*domain.ImpactTotals, error) {
	ctx, span := reportTracer.Start(ctx, "ReportingService.DonationImpactTotals")
	defer span.End()

	completed, err := s.donations.QueryDonations(ctx, domain.DonationQuery{DonorRef: donorRef, PaymentStatus: domain.PaymentCompleted})
	if err != nil {
		return nil, err
	}

	totals := &domain.ImpactTotals{}
	for _, d := range completed {
		totals.Donations++
		totals.TotalDonated += d.Amount
		totals.Impact = totals.Impact.Add(d.Impact)
		if d.Recurring.Active() {
			totals.ActivePledges++
		}
	}
	return totals, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultRecentLimit
	case n > maxReportLimit:
		return maxReportLimit
	default:
		return n
	}
}
