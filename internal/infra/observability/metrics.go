package observability

import (
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the ledger service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration  *prometheus.HistogramVec
	externalErrors   *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	collections      *prometheus.CounterVec
	collectionAborts *prometheus.CounterVec
	floatRejections  prometheus.Counter
	payouts          *prometheus.CounterVec
	donations        *prometheus.CounterVec
	recurringCharges *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		collections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_collections_total",
				Help: "Collection events by outcome (committed, replayed).",
			},
			[]string{"outcome"},
		),
		collectionAborts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_collection_aborts_total",
				Help: "Aborted collection events by the last stage reached.",
			},
			[]string{"stage"},
		),
		floatRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_float_rejections_total",
				Help: "Reservations rejected for insufficient cash float.",
			},
		),
		payouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_payout_minor_units_total",
				Help: "Value paid to collectors in currency minor units, by kind.",
			},
			[]string{"kind"},
		),
		donations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_donations_total",
				Help: "Donations by final payment status.",
			},
			[]string{"status"},
		),
		recurringCharges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_recurring_charges_total",
				Help: "Recurring pledge charges by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordCollection counts a committed collection and its payout split.
func (m *Metrics) RecordCollection(cash, tokens domain.Money) {
	m.collections.WithLabelValues("committed").Inc()
	m.payouts.WithLabelValues("cash").Add(float64(cash))
	m.payouts.WithLabelValues("tokens").Add(float64(tokens))
}

// IncrCollectionReplay counts a retried request answered from the ledger.
func (m *Metrics) IncrCollectionReplay() {
	m.collections.WithLabelValues("replayed").Inc()
}

// IncrCollectionAbort counts an aborted collection by stage.
func (m *Metrics) IncrCollectionAbort(stage domain.CollectionStage) {
	m.collectionAborts.WithLabelValues(string(stage)).Inc()
}

// IncrFloatRejection counts a reservation refused by the float guard.
func (m *Metrics) IncrFloatRejection() {
	m.floatRejections.Inc()
}

// IncrDonation counts a donation by payment status.
func (m *Metrics) IncrDonation(status domain.PaymentStatus) {
	m.donations.WithLabelValues(string(status)).Inc()
}

// IncrRecurringCharge counts a recurring charge attempt by outcome.
func (m *Metrics) IncrRecurringCharge(outcome string) {
	m.recurringCharges.WithLabelValues(outcome).Inc()
}

// GetLedgerSnapshot returns a snapshot of ledger counters suitable for the
// GET /v1/metrics/ledger endpoint.
func (m *Metrics) GetLedgerSnapshot() *domain.LedgerMetrics {
	committed := getCounterValue(m.collections, "committed")
	replayed := getCounterValue(m.collections, "replayed")

	aborted := float64(0)
	for _, stage := range []domain.CollectionStage{
		domain.StageSearching, domain.StageMaterialRecorded, domain.StageFloatReserved,
	} {
		aborted += getCounterValue(m.collectionAborts, string(stage))
	}

	abortRate := float64(0)
	if committed+aborted > 0 {
		abortRate = aborted / (committed + aborted)
	}

	return &domain.LedgerMetrics{
		CollectionsCommitted: committed,
		CollectionsAborted:   aborted,
		CollectionsReplayed:  replayed,
		FloatRejections:      metricValue(m.floatRejections),
		CashPaidOut:          getCounterValue(m.payouts, "cash") / 100,
		TokensIssued:         getCounterValue(m.payouts, "tokens") / 100,
		DonationsCompleted:   getCounterValue(m.donations, string(domain.PaymentCompleted)),
		DonationsFailed:      getCounterValue(m.donations, string(domain.PaymentFailed)),
		RecurringCharges:     getCounterValue(m.recurringCharges, "succeeded"),
		AbortRate:            abortRate,
		Period:               "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	return metricValue(cv.WithLabelValues(label))
}

func metricValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
