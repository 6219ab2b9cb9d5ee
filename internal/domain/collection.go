package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Collection transactions
// ============================================================

// MaterialType is the kind of plastic handed in.
type MaterialType string

const (
	MaterialPET   MaterialType = "PET"
	MaterialHDPE  MaterialType = "HDPE"
	MaterialLDPE  MaterialType = "LDPE"
	MaterialPP    MaterialType = "PP"
	MaterialPS    MaterialType = "PS"
	MaterialOther MaterialType = "OTHER"
)

// ParseMaterialType canonicalises free-form input ("pet", " Hdpe ").
func ParseMaterialType(s string) MaterialType {
	return MaterialType(strings.ToUpper(strings.TrimSpace(s)))
}

// GeoPoint is an optional location supplied by the caller.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CollectionTransaction is the immutable ledger entry for one hand-off.
// InstantCash + SavingsTokens == TotalValue always holds.
type CollectionTransaction struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotency_key"`
	CollectorID    string          `json:"collector_id"`
	SessionID      string          `json:"session_id"`
	HubID          string          `json:"hub_id"`
	OperatorID     string          `json:"operator_id,omitempty"`
	MaterialType   MaterialType    `json:"material_type"`
	WeightKg       decimal.Decimal `json:"weight_kg"`
	PricePerKg     Money           `json:"price_per_kg"`
	TotalValue     Money           `json:"total_value"`
	InstantCash    Money           `json:"instant_cash"`
	SavingsTokens  Money           `json:"savings_tokens"`
	Location       *GeoPoint       `json:"location,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CollectionRequest is one physical hand-off as reported by a hub operator.
type CollectionRequest struct {
	IdempotencyKey  string          `json:"idempotency_key"`
	CollectorLookup string          `json:"collector"`
	MaterialType    string          `json:"material_type"`
	WeightKg        decimal.Decimal `json:"weight_kg"`
	SessionID       string          `json:"session_id"`
	OperatorID      string          `json:"-"`
	Location        *GeoPoint       `json:"location,omitempty"`
}

// CollectionResult is returned by the transaction processor.
type CollectionResult struct {
	Transaction *CollectionTransaction `json:"transaction"`
	Collector   *Collector             `json:"collector"`
	Session     *HubSession            `json:"session,omitempty"`
	Replayed    bool                   `json:"replayed"`
}

// CollectionStage tracks how far a collection got before it committed or aborted.
type CollectionStage string

const (
	StageSearching        CollectionStage = "searching"
	StageMaterialRecorded CollectionStage = "material_recorded"
	StageFloatReserved    CollectionStage = "float_reserved"
	StageCommitted        CollectionStage = "committed"
	StageAborted          CollectionStage = "aborted"
)

// TransactionQuery filters ledger reads.
type TransactionQuery struct {
	CollectorID string
	HubID       string
	SessionID   string
	Since       time.Time
	Limit       int
}
