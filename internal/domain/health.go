package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// LedgerMetrics is returned by GET /v1/metrics/ledger.
type LedgerMetrics struct {
	CollectionsCommitted float64 `json:"collectionsCommitted"`
	CollectionsAborted   float64 `json:"collectionsAborted"`
	CollectionsReplayed  float64 `json:"collectionsReplayed"`
	FloatRejections      float64 `json:"floatRejections"`
	CashPaidOut          float64 `json:"cashPaidOut"`
	TokensIssued         float64 `json:"tokensIssued"`
	DonationsCompleted   float64 `json:"donationsCompleted"`
	DonationsFailed      float64 `json:"donationsFailed"`
	RecurringCharges     float64 `json:"recurringCharges"`
	AbortRate            float64 `json:"abortRate"`
	Period               string  `json:"period"`
}

// ============================================================
// Generic API Response wrappers
// ============================================================

// ListResponse wraps list results.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}
