package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
	"github.com/boddenberg/plastic-rewards-go/internal/infra/resilience"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// collectorRow maps the registry's collectors table.
type collectorRow struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Phone        *string   `json:"phone"`
	CardNumber   *string   `json:"card_number"`
	Neighborhood string    `json:"neighborhood"`
	CreatedAt    time.Time `json:"created_at"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Lookup resolves a phone or card number (implements port.CollectorRegistry).
func (c *Client) Lookup(ctx context.Context, phoneOrCard string) (string, error) {
	ctx, span := tracer.Start(ctx, "Supabase.Lookup")
	defer span.End()

	lookup := domain.NewCollectorLookup(phoneOrCard)
	if lookup.CardNumber == "" {
		return "", &domain.ErrValidation{Field: "collector", Message: "phone or card number is required"}
	}

	filter := fmt.Sprintf("card_number.eq.%s", lookup.CardNumber)
	if lookup.Phone != "" {
		filter = fmt.Sprintf("phone.eq.%s,%s", lookup.Phone, filter)
	}
	path := "collectors?select=id&limit=2&or=" + url.QueryEscape("("+filter+")")

	var (
		id        string
		ambiguous bool
	)
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := c.doGet(ctx, path)
			if err != nil {
				return err
			}
			var rows []collectorRow
			if err := json.Unmarshal(body, &rows); err != nil {
				return resilience.Permanent(fmt.Errorf("failed to decode collectors: %w", err))
			}
			if len(rows) > 0 {
				id = rows[0].ID
			}
			ambiguous = len(rows) > 1
			return nil
		})
	})
	if err != nil {
		return "", &domain.ErrExternalService{Service: "supabase/registry", Err: err}
	}
	if id == "" {
		return "", &domain.ErrNotFound{Resource: "collector", ID: lookup.CardNumber}
	}
	if ambiguous {
		return "", domain.AmbiguousLookup(lookup.CardNumber)
	}

	span.SetAttributes(attribute.String("collector.id", id))
	return id, nil
}

// Register creates a collector in the registry.
func (c *Client) Register(ctx context.Context, req *domain.RegisterCollectorRequest) (*domain.Collector, error) {
	ctx, span := tracer.Start(ctx, "Supabase.Register")
	defer span.End()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	row := collectorRow{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Phone:        optional(req.Phone),
		CardNumber:   optional(req.CardNumber),
		Neighborhood: req.Neighborhood,
		CreatedAt:    time.Now().UTC(),
	}

	var created collectorRow
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := c.doPost(ctx, "collectors", row)
			if err != nil {
				return err
			}
			var rows []collectorRow
			if err := json.Unmarshal(body, &rows); err != nil {
				return resilience.Permanent(fmt.Errorf("failed to decode created collector: %w", err))
			}
			if len(rows) == 0 {
				return resilience.Permanent(errors.New("registry returned no collector"))
			}
			created = rows[0]
			return nil
		})
	})
	if err != nil {
		var conflict *errConflict
		if errors.As(err, &conflict) {
			return nil, &domain.ErrDuplicate{Key: req.Phone + req.CardNumber}
		}
		return nil, &domain.ErrExternalService{Service: "supabase/registry", Err: err}
	}

	return &domain.Collector{
		ID:           created.ID,
		Name:         created.Name,
		Phone:        deref(created.Phone),
		CardNumber:   deref(created.CardNumber),
		Neighborhood: created.Neighborhood,
		Active:       true,
		CreatedAt:    created.CreatedAt,
		UpdatedAt:    created.CreatedAt,
	}, nil
}
