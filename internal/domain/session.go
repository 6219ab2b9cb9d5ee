package domain

import "time"

// ============================================================
// Hub sessions
// ============================================================

// Session statuses.
const (
	SessionOpen   = "open"
	SessionClosed = "closed"
)

// HubSession is one operator shift at a hub, holding the physical cash float.
// CashFloatCurrent == CashFloatStart - TotalPaidOut >= 0 at all times.
type HubSession struct {
	ID                string     `json:"id"`
	HubID             string     `json:"hub_id"`
	OperatorID        string     `json:"operator_id"`
	Status            string     `json:"status"`
	CashFloatStart    Money      `json:"cash_float_start"`
	CashFloatCurrent  Money      `json:"cash_float_current"`
	TotalPaidOut      Money      `json:"total_paid_out"`
	TransactionsCount int64      `json:"transactions_count"`
	OpenedAt          time.Time  `json:"opened_at"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
}

// Balanced reports whether the float invariant holds.
func (s *HubSession) Balanced() bool {
	return s.CashFloatCurrent >= 0 && s.CashFloatCurrent == s.CashFloatStart-s.TotalPaidOut
}

// OpenSessionRequest starts a shift.
type OpenSessionRequest struct {
	HubID          string `json:"hub_id"`
	OperatorID     string `json:"-"`
	CashFloatStart Money  `json:"cash_float_start"`
}

