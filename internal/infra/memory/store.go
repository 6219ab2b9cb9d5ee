// Package memory provides in-process stores for development and tests.
// Collector balances and the ledger share one lock so an update and its
// record commit together; each hub session has its own lock.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
)

// Store implements CollectorStore, LedgerStore and DonationStore.
type Store struct {
	ledgerMu     sync.RWMutex
	collectors   map[string]domain.Collector
	transactions []domain.CollectionTransaction
	txByKey      map[string]int

	donationMu    sync.RWMutex
	donations     map[string]domain.Donation
	donationByKey map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		collectors:    make(map[string]domain.Collector),
		txByKey:       make(map[string]int),
		donations:     make(map[string]domain.Donation),
		donationByKey: make(map[string]string),
	}
}

// ============================================================
// Collectors
// ============================================================

func (s *Store) GetCollector(_ context.Context, collectorID string) (*domain.Collector, error) {
	s.ledgerMu.RLock()
	defer s.ledgerMu.RUnlock()

	c, ok := s.collectors[collectorID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "collector", ID: collectorID}
	}
	return &c, nil
}

func (s *Store) FindCollector(_ context.Context, lookup domain.CollectorLookup) (*domain.Collector, error) {
	s.ledgerMu.RLock()
	defer s.ledgerMu.RUnlock()

	var found *domain.Collector
	for _, c := range s.collectors {
		if !lookup.Matches(&c) {
			continue
		}
		if found != nil {
			return nil, domain.AmbiguousLookup(lookup.CardNumber)
		}
		match := c
		found = &match
	}
	if found == nil {
		return nil, &domain.ErrNotFound{Resource: "collector", ID: lookup.CardNumber}
	}
	return found, nil
}

func (s *Store) SaveCollector(_ context.Context, c *domain.Collector) (*domain.Collector, error) {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	current, exists := s.collectors[c.ID]
	if exists && current.Version != c.Version {
		return nil, &domain.ErrConflict{Message: "collector " + c.ID + " was modified concurrently"}
	}
	if !exists && c.Version != 0 {
		return nil, &domain.ErrNotFound{Resource: "collector", ID: c.ID}
	}
	for id, other := range s.collectors {
		if id == c.ID {
			continue
		}
		if c.Overlaps(&other) {
			return nil, &domain.ErrDuplicate{Key: c.Phone + c.CardNumber}
		}
	}

	saved := *c
	saved.Version++
	s.collectors[c.ID] = saved
	c.Version = saved.Version
	return &saved, nil
}

func (s *Store) QueryCollectors(_ context.Context, neighborhood string, limit int) ([]domain.Collector, error) {
	s.ledgerMu.RLock()
	defer s.ledgerMu.RUnlock()

	out := make([]domain.Collector, 0, len(s.collectors))
	for _, c := range s.collectors {
		if neighborhood == "" || c.Neighborhood == neighborhood {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ============================================================
// Ledger
// ============================================================

func (s *Store) ApplyLedgerUpdate(_ context.Context, u *domain.LedgerUpdate) (*domain.Collector, error) {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	c, ok := s.collectors[u.CollectorID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "collector", ID: u.CollectorID}
	}
	if c.Version != u.ExpectedVersion {
		return nil, &domain.ErrConflict{Message: "collector " + u.CollectorID + " was modified concurrently"}
	}
	if u.Record != nil {
		if _, dup := s.txByKey[u.Record.IdempotencyKey]; dup {
			return nil, &domain.ErrDuplicate{Key: u.Record.IdempotencyKey}
		}
	}

	at := time.Now().UTC()
	if u.Record != nil {
		at = u.Record.CreatedAt
	}
	updated := c.Apply(u.Delta, at)
	s.collectors[c.ID] = updated
	if u.Record != nil {
		s.transactions = append(s.transactions, *u.Record)
		s.txByKey[u.Record.IdempotencyKey] = len(s.transactions) - 1
	}
	return &updated, nil
}

func (s *Store) GetTransactionByKey(_ context.Context, key string) (*domain.CollectionTransaction, error) {
	s.ledgerMu.RLock()
	defer s.ledgerMu.RUnlock()

	i, ok := s.txByKey[key]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: key}
	}
	tx := s.transactions[i]
	return &tx, nil
}

func (s *Store) ListTransactions(_ context.Context, q domain.TransactionQuery) ([]domain.CollectionTransaction, error) {
	s.ledgerMu.RLock()
	defer s.ledgerMu.RUnlock()

	out := make([]domain.CollectionTransaction, 0)
	for i := len(s.transactions) - 1; i >= 0; i-- {
		tx := s.transactions[i]
		if q.CollectorID != "" && tx.CollectorID != q.CollectorID {
			continue
		}
		if q.HubID != "" && tx.HubID != q.HubID {
			continue
		}
		if q.SessionID != "" && tx.SessionID != q.SessionID {
			continue
		}
		if !q.Since.IsZero() && tx.CreatedAt.Before(q.Since) {
			continue
		}
		out = append(out, tx)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// ============================================================
// Donations
// ============================================================

func (s *Store) GetDonation(_ context.Context, donationID string) (*domain.Donation, error) {
	s.donationMu.RLock()
	defer s.donationMu.RUnlock()

	d, ok := s.donations[donationID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "donation", ID: donationID}
	}
	return &d, nil
}

func (s *Store) GetDonationByKey(_ context.Context, donorRef, key string) (*domain.Donation, error) {
	s.donationMu.RLock()
	defer s.donationMu.RUnlock()

	id, ok := s.donationByKey[donorRef+"\x00"+key]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "donation", ID: key}
	}
	d := s.donations[id]
	return &d, nil
}

func (s *Store) SaveDonations(_ context.Context, donations ...*domain.Donation) error {
	s.donationMu.Lock()
	defer s.donationMu.Unlock()

	for _, d := range donations {
		current, exists := s.donations[d.ID]
		switch {
		case exists && current.Version != d.Version:
			return &domain.ErrConflict{Message: "donation " + d.ID + " was modified concurrently"}
		case !exists && d.Version != 0:
			return &domain.ErrNotFound{Resource: "donation", ID: d.ID}
		}
		if id, taken := s.donationByKey[d.DonorRef+"\x00"+d.IdempotencyKey]; taken && id != d.ID {
			return &domain.ErrDuplicate{Key: d.IdempotencyKey}
		}
	}

	for _, d := range donations {
		d.Version++
		s.donations[d.ID] = *d
		s.donationByKey[d.DonorRef+"\x00"+d.IdempotencyKey] = d.ID
	}
	return nil
}

func (s *Store) QueryDonations(_ context.Context, q domain.DonationQuery) ([]domain.Donation, error) {
	s.donationMu.RLock()
	defer s.donationMu.RUnlock()

	out := make([]domain.Donation, 0)
	for _, d := range s.donations {
		if q.DonorRef != "" && d.DonorRef != q.DonorRef {
			continue
		}
		if q.ParentID != "" && d.ParentID != q.ParentID {
			continue
		}
		if q.PaymentStatus != "" && d.PaymentStatus != q.PaymentStatus {
			continue
		}
		if q.DueBefore != nil {
			next := d.Recurring.NextPaymentDate
			if !d.Recurring.Active() || next == nil || next.After(*q.DueBefore) || d.ParentID != "" {
				continue
			}
			if q.DueAfter != nil && !q.DueAfter.Before(&d) {
				continue
			}
		}
		out = append(out, d)
	}
	if q.DueBefore != nil {
		sort.Slice(out, func(i, j int) bool {
			a, b := out[i].Recurring.NextPaymentDate, out[j].Recurring.NextPaymentDate
			if !a.Equal(*b) {
				return a.Before(*b)
			}
			return out[i].ID < out[j].ID
		})
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
