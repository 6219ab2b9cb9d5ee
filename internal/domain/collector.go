package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Collectors
// ============================================================

// Collector is an individual who exchanges collected plastic at a hub.
// The lifetime aggregates are only ever increased, and only by the
// collection path; collectors are deactivated, never deleted.
type Collector struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name,omitempty"`
	Phone              string          `json:"phone,omitempty"`
	CardNumber         string          `json:"card_number,omitempty"`
	Neighborhood       string          `json:"neighborhood"`
	Active             bool            `json:"active"`
	TotalWeightKg      decimal.Decimal `json:"total_weight_kg"`
	TotalCashEarned    Money           `json:"total_cash_earned"`
	TotalSavingsTokens Money           `json:"total_savings_tokens"`
	CollectionCount    int64           `json:"collection_count"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// ContactChannel reports how the collector can be reached: "sms" when a
// phone number is on file, "card" when only a card number identifies them.
func (c *Collector) ContactChannel() string {
	if c.Phone != "" {
		return "sms"
	}
	return "card"
}

// RegisterCollectorRequest is sent to the collector registry.
type RegisterCollectorRequest struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	CardNumber   string `json:"card_number"`
	Neighborhood string `json:"neighborhood"`
}

// Normalize canonicalises the identifiers in place.
func (r *RegisterCollectorRequest) Normalize() {
	r.Phone = NormalizePhone(r.Phone)
	r.CardNumber = NormalizeCardNumber(r.CardNumber)
	r.Name = strings.TrimSpace(r.Name)
	r.Neighborhood = strings.TrimSpace(r.Neighborhood)
}

// Validate enforces that at least one identifier is present.
func (r *RegisterCollectorRequest) Validate() error {
	if r.Phone == "" && r.CardNumber == "" {
		return &ErrValidation{Field: "phone", Message: "phone or card_number is required"}
	}
	if r.Neighborhood == "" {
		return &ErrValidation{Field: "neighborhood", Message: "required"}
	}
	return nil
}

// NormalizePhone strips formatting, keeping digits and a leading '+'.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeCardNumber upper-cases card codes so lookups are case-insensitive.
func NormalizeCardNumber(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// CollectorLookup is a normalized phone-or-card search. Phone is empty
// when the input cannot be a phone number.
type CollectorLookup struct {
	Phone      string
	CardNumber string
}

// NewCollectorLookup builds the exact-match keys for a phone or card input.
func NewCollectorLookup(phoneOrCard string) CollectorLookup {
	l := CollectorLookup{CardNumber: NormalizeCardNumber(phoneOrCard)}
	if looksLikePhone(phoneOrCard) {
		l.Phone = NormalizePhone(phoneOrCard)
	}
	return l
}

// Matches reports whether c is identified by the lookup.
func (l CollectorLookup) Matches(c *Collector) bool {
	if l.Phone != "" && c.Phone == l.Phone {
		return true
	}
	return l.CardNumber != "" && c.CardNumber == l.CardNumber
}

// Identifiers returns the collector's non-empty phone and card number.
func (c *Collector) Identifiers() []string {
	ids := make([]string, 0, 2)
	if c.Phone != "" {
		ids = append(ids, c.Phone)
	}
	if c.CardNumber != "" {
		ids = append(ids, c.CardNumber)
	}
	return ids
}

// Overlaps reports whether some phone-or-card input would resolve to both
// c and other. A digits-only card number can collide with a phone number.
func (c *Collector) Overlaps(other *Collector) bool {
	for _, id := range c.Identifiers() {
		if NewCollectorLookup(id).Matches(other) {
			return true
		}
	}
	for _, id := range other.Identifiers() {
		if NewCollectorLookup(id).Matches(c) {
			return true
		}
	}
	return false
}

// AmbiguousLookup is the conflict returned when one input matches more
// than one collector.
func AmbiguousLookup(input string) error {
	return &ErrConflict{Message: "identifier " + input + " matches more than one collector"}
}

func looksLikePhone(s string) bool {
	digits := 0
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 7
}

// LedgerDelta is the increment applied to a collector's aggregates.
type LedgerDelta struct {
	WeightKg      decimal.Decimal
	Cash          Money
	SavingsTokens Money
}

// LedgerUpdate is one atomic write to the ledger: the aggregate increment,
// guarded by the version the caller read, and optionally the transaction
// record that must be appended in the same commit.
type LedgerUpdate struct {
	CollectorID     string
	ExpectedVersion int64
	Delta           LedgerDelta
	Record          *CollectionTransaction
}

// Apply returns a copy of c with the delta added.
func (c Collector) Apply(d LedgerDelta, at time.Time) Collector {
	c.TotalWeightKg = c.TotalWeightKg.Add(d.WeightKg)
	c.TotalCashEarned += d.Cash
	c.TotalSavingsTokens += d.SavingsTokens
	c.CollectionCount++
	c.Version++
	c.UpdatedAt = at
	return c
}

// CollectorSummary is the read-only dashboard view of a collector.
type CollectorSummary struct {
	Collector          *Collector              `json:"collector"`
	RecentTransactions []CollectionTransaction `json:"recent_transactions"`
}
