// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
)

// CollectorRegistry is the external collector registry. The ledger core
// never creates collectors on its own; it resolves them through here.
type CollectorRegistry interface {
	// Lookup resolves a phone number or card number to a collector id.
	Lookup(ctx context.Context, phoneOrCard string) (string, error)
	Register(ctx context.Context, req *domain.RegisterCollectorRequest) (*domain.Collector, error)
}

// CollectorStore persists collectors and their lifetime aggregates.
type CollectorStore interface {
	GetCollector(ctx context.Context, collectorID string) (*domain.Collector, error)
	// FindCollector matches a normalized phone or card number exactly.
	FindCollector(ctx context.Context, lookup domain.CollectorLookup) (*domain.Collector, error)
	// SaveCollector is an atomic upsert used by registration and deactivation.
	// It fails with ErrConflict when the stored version differs from c.Version.
	SaveCollector(ctx context.Context, c *domain.Collector) (*domain.Collector, error)
	QueryCollectors(ctx context.Context, neighborhood string, limit int) ([]domain.Collector, error)
}

// LedgerStore applies ledger updates and serves the append-only ledger.
type LedgerStore interface {
	// ApplyLedgerUpdate increments the collector aggregates and appends
	// update.Record (when set) in one commit. It fails with ErrConflict
	// when the collector version moved, and ErrDuplicate when the record's
	// idempotency key was already committed. Nothing is written on failure.
	ApplyLedgerUpdate(ctx context.Context, update *domain.LedgerUpdate) (*domain.Collector, error)
	GetTransactionByKey(ctx context.Context, idempotencyKey string) (*domain.CollectionTransaction, error)
	ListTransactions(ctx context.Context, q domain.TransactionQuery) ([]domain.CollectionTransaction, error)
}

// SessionStore holds hub sessions and performs the atomic float operations.
type SessionStore interface {
	CreateSession(ctx context.Context, s *domain.HubSession) error
	GetSession(ctx context.Context, sessionID string) (*domain.HubSession, error)
	// Reserve decrements the float, increments TotalPaidOut and counts the
	// transaction, only if the float stays non-negative. The check and the
	// update are one step.
	Reserve(ctx context.Context, sessionID string, amount domain.Money) (*domain.HubSession, error)
	// Release undoes a reservation whose ledger commit did not happen.
	Release(ctx context.Context, sessionID string, amount domain.Money) error
	TopUp(ctx context.Context, sessionID string, amount domain.Money) (*domain.HubSession, error)
	CloseSession(ctx context.Context, sessionID string, at time.Time) (*domain.HubSession, error)
}

// DonationStore persists donations.
type DonationStore interface {
	GetDonation(ctx context.Context, donationID string) (*domain.Donation, error)
	GetDonationByKey(ctx context.Context, donorRef, idempotencyKey string) (*domain.Donation, error)
	// SaveDonations upserts every donation in one commit, checking each
	// stored version against the one supplied (0 means insert).
	// Saved records come back with their version bumped.
	SaveDonations(ctx context.Context, donations ...*domain.Donation) error
	QueryDonations(ctx context.Context, q domain.DonationQuery) ([]domain.Donation, error)
}

// PaymentGateway is the opaque external payment processor.
type PaymentGateway interface {
	ChargePayment(ctx context.Context, req *domain.ChargeRequest) (*domain.ChargeResult, error)
}

// KeyLocker serialises work per entity key (collector, donation).
type KeyLocker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// EventPublisher publishes domain events after commit.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
