package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
)

const collectorColumns = `id, name, phone, card_number, neighborhood, active,
	total_weight_kg, total_cash_earned, total_savings_tokens, collection_count,
	version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollector(row rowScanner) (*domain.Collector, error) {
	var (
		c           domain.Collector
		phone, card sql.NullString
		cash, tok   int64
	)
	err := row.Scan(&c.ID, &c.Name, &phone, &card, &c.Neighborhood, &c.Active,
		&c.TotalWeightKg, &cash, &tok, &c.CollectionCount,
		&c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Phone, c.CardNumber = phone.String, card.String
	c.TotalCashEarned, c.TotalSavingsTokens = domain.Money(cash), domain.Money(tok)
	return &c, nil
}

func (s *Store) GetCollector(ctx context.Context, collectorID string) (*domain.Collector, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+collectorColumns+` FROM collectors WHERE id = $1`, collectorID)
	c, err := scanCollector(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "collector", ID: collectorID}
	}
	if err != nil {
		return nil, fmt.Errorf("get collector: %w", err)
	}
	return c, nil
}

func (s *Store) FindCollector(ctx context.Context, lookup domain.CollectorLookup) (*domain.Collector, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+collectorColumns+` FROM collectors
		WHERE ($1 <> '' AND phone = $1) OR ($2 <> '' AND card_number = $2)
		ORDER BY created_at LIMIT 2`, lookup.Phone, lookup.CardNumber)
	if err != nil {
		return nil, fmt.Errorf("find collector: %w", err)
	}
	defer rows.Close()

	var found *domain.Collector
	for rows.Next() {
		if found != nil {
			return nil, domain.AmbiguousLookup(lookup.CardNumber)
		}
		if found, err = scanCollector(rows); err != nil {
			return nil, fmt.Errorf("find collector: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find collector: %w", err)
	}
	if found == nil {
		return nil, &domain.ErrNotFound{Resource: "collector", ID: lookup.CardNumber}
	}
	return found, nil
}

// SaveCollector inserts a new collector (version 0) or updates its profile
// and active flag. Aggregates are only written by ApplyLedgerUpdate.
func (s *Store) SaveCollector(ctx context.Context, c *domain.Collector) (*domain.Collector, error) {
	var row *sql.Row
	if c.Version == 0 {
		row = s.db.QueryRowContext(ctx, `INSERT INTO collectors
			(id, name, phone, card_number, neighborhood, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+collectorColumns,
			c.ID, c.Name, nullString(c.Phone), nullString(c.CardNumber), c.Neighborhood, c.Active, c.CreatedAt, c.UpdatedAt)
	} else {
		row = s.db.QueryRowContext(ctx, `UPDATE collectors
			SET name = $2, phone = $3, card_number = $4, neighborhood = $5, active = $6,
			    updated_at = $7, version = version + 1
			WHERE id = $1 AND version = $8
			RETURNING `+collectorColumns,
			c.ID, c.Name, nullString(c.Phone), nullString(c.CardNumber), c.Neighborhood, c.Active, c.UpdatedAt, c.Version)
	}

	saved, err := scanCollector(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrConflict{Message: "collector " + c.ID + " was modified concurrently"}
	}
	if constraint, ok := isUniqueViolation(err); ok {
		if constraint == "collectors_pkey" {
			return nil, &domain.ErrConflict{Message: "collector " + c.ID + " already exists"}
		}
		return nil, &domain.ErrDuplicate{Key: c.Phone + c.CardNumber}
	}
	if err != nil {
		return nil, fmt.Errorf("save collector: %w", err)
	}
	c.Version = saved.Version
	return saved, nil
}

func (s *Store) QueryCollectors(ctx context.Context, neighborhood string, limit int) ([]domain.Collector, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+collectorColumns+` FROM collectors
		WHERE $1 = '' OR neighborhood = $1
		ORDER BY created_at LIMIT $2`, neighborhood, limit)
	if err != nil {
		return nil, fmt.Errorf("query collectors: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Collector, 0)
	for rows.Next() {
		c, err := scanCollector(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collector: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
