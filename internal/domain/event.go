package domain

import "time"

// Domain event types published after a commit.
const (
	EventCollectionCommitted = "collection.committed"
	EventDonationCompleted   = "donation.completed"
	EventDonationFailed      = "donation.failed"
	EventDonationRefunded    = "donation.refunded"
	EventPledgeCancelled     = "pledge.cancelled"
	EventPledgeSuspended     = "pledge.suspended"
)

// Event is a fact about a committed change, published best-effort.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}
