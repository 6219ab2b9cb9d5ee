// Package client holds HTTP clients for external services.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/observability"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("client")

// PaymentClient calls the payment gateway's charge API.
type PaymentClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead
	cfg        resilience.Config
	metrics    *observability.Metrics
}

// NewPaymentClient creates a new PaymentClient.
func NewPaymentClient(httpClient *http.Client, baseURL, apiKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics) *PaymentClient {
	return &PaymentClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		cb:         cb,
		bulkhead:   resilience.NewBulkhead(cfg.MaxConcurrency),
		cfg:        cfg,
		metrics:    metrics,
	}
}

// ChargePayment posts a charge. The idempotency key travels as a header so
// retries of the same charge are deduplicated by the gateway. A declined
// charge is a result, not an error.
func (c *PaymentClient) ChargePayment(ctx context.Context, req *domain.ChargeRequest) (*domain.ChargeResult, error) {
	ctx, span := tracer.Start(ctx, "PaymentClient.ChargePayment")
	defer span.End()
	span.SetAttributes(attribute.String("charge.reference", req.Reference), attribute.Int64("amount.minor", int64(req.Amount)))

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, &domain.ErrTimeout{Operation: "payment.charge"}
	}
	defer c.bulkhead.Release()

	var result domain.ChargeResult

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := json.Marshal(req)
			if err != nil {
				return resilience.Permanent(err)
			}

			url := fmt.Sprintf("%s/v1/charges", c.baseURL)
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return resilience.Permanent(err)
			}
			httpReq.Header.Set("Content-Type", "application/json")
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
			httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

			resp, err := c.httpClient.Do(httpReq)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
				if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
					return resilience.Permanent(fmt.Errorf("decode charge: %w", err))
				}
				return nil
			case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
				if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.Status == "" {
					result = domain.ChargeResult{Status: domain.ChargeFailed, Message: fmt.Sprintf("declined with status %d", resp.StatusCode)}
				}
				result.Status = domain.ChargeFailed
				return nil
			case resp.StatusCode >= 400 && resp.StatusCode < 500:
				msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return resilience.Permanent(fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, msg))
			default:
				return fmt.Errorf("payment gateway returned status %d", resp.StatusCode)
			}
		})
	})

	if err != nil {
		c.metrics.IncrExternalError("payment")
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, &domain.ErrCircuitOpen{Service: "payment"}
		case errors.Is(err, context.DeadlineExceeded):
			return nil, &domain.ErrTimeout{Operation: "payment.charge"}
		}
		return nil, &domain.ErrExternalService{Service: "payment", Err: err}
	}

	return &result, nil
}
