package memory

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
)

type sessionEntry struct {
	mu      sync.Mutex
	session domain.HubSession
}

// Sessions is an in-process SessionStore. Sessions do not survive restarts.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// NewSessions creates an empty session store.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]*sessionEntry)}
}

func (s *Sessions) entry(id string) (*sessionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "session", ID: id}
	}
	return e, nil
}

func (s *Sessions) CreateSession(_ context.Context, hs *domain.HubSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[hs.ID]; ok {
		return &domain.ErrDuplicate{Key: hs.ID}
	}
	s.sessions[hs.ID] = &sessionEntry{session: *hs}
	return nil
}

func (s *Sessions) GetSession(_ context.Context, id string) (*domain.HubSession, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.session
	return &out, nil
}

func (s *Sessions) Reserve(_ context.Context, id string, amount domain.Money) (*domain.HubSession, error) {
	return s.update(id, func(hs *domain.HubSession) error {
		if hs.Status != domain.SessionOpen {
			return &domain.ErrForbidden{Action: "session " + id + " is closed"}
		}
		if hs.CashFloatCurrent-amount < 0 {
			return &domain.ErrInsufficientFloat{SessionID: id, Available: hs.CashFloatCurrent, Required: amount}
		}
		hs.CashFloatCurrent -= amount
		hs.TotalPaidOut += amount
		hs.TransactionsCount++
		return nil
	})
}

func (s *Sessions) Release(_ context.Context, id string, amount domain.Money) error {
	_, err := s.update(id, func(hs *domain.HubSession) error {
		hs.CashFloatCurrent += amount
		hs.TotalPaidOut -= amount
		hs.TransactionsCount--
		return nil
	})
	return err
}

func (s *Sessions) TopUp(_ context.Context, id string, amount domain.Money) (*domain.HubSession, error) {
	return s.update(id, func(hs *domain.HubSession) error {
		if hs.Status != domain.SessionOpen {
			return &domain.ErrForbidden{Action: "session " + id + " is closed"}
		}
		hs.CashFloatStart += amount
		hs.CashFloatCurrent += amount
		return nil
	})
}

func (s *Sessions) CloseSession(_ context.Context, id string, at time.Time) (*domain.HubSession, error) {
	return s.update(id, func(hs *domain.HubSession) error {
		if hs.Status == domain.SessionClosed {
			return &domain.ErrInvalidTransition{Resource: "session", From: hs.Status, To: domain.SessionClosed}
		}
		hs.Status = domain.SessionClosed
		hs.ClosedAt = &at
		return nil
	})
}

// update applies fn under the session's own lock; fn errors leave it untouched.
func (s *Sessions) update(id string, fn func(*domain.HubSession) error) (*domain.HubSession, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.session
	if err := fn(&next); err != nil {
		return nil, err
	}
	e.session = next
	out := next
	return &out, nil
}
