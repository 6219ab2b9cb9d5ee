package client

import (
	"context"
	"strings"
	"sync"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"

	"github.com/google/uuid"
)

// Sandbox payment methods with a fixed outcome. Any other method succeeds.
const (
	SandboxMethodDecline = "sandbox-decline"
	SandboxMethodTimeout = "sandbox-timeout"
	SandboxMethodPending = "sandbox-pending"
)

// SandboxGateway is an in-process gateway for development. It honours
// idempotency keys like a real gateway: the same key returns the same result.
type SandboxGateway struct {
	mu      sync.Mutex
	results map[string]domain.ChargeResult
}

// NewSandboxGateway creates a sandbox gateway.
func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{results: make(map[string]domain.ChargeResult)}
}

func (g *SandboxGateway) ChargePayment(ctx context.Context, req *domain.ChargeRequest) (*domain.ChargeResult, error) {
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == SandboxMethodTimeout {
		<-ctx.Done()
		return nil, &domain.ErrTimeout{Operation: "payment.charge"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if res, ok := g.results[req.IdempotencyKey]; ok {
		return &res, nil
	}

	res := domain.ChargeResult{TransactionID: "sbx_" + uuid.New().String(), Status: domain.ChargeSucceeded}
	switch method {
	case SandboxMethodDecline:
		res.Status = domain.ChargeFailed
		res.Message = "card declined"
	case SandboxMethodPending:
		res.Status = domain.ChargePending
	}
	g.results[req.IdempotencyKey] = res
	return &res, nil
}
