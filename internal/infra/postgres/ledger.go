package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
)

const transactionColumns = `id, idempotency_key, collector_id, session_id, hub_id, operator_id,
	material_type, weight_kg, price_per_kg, total_value, instant_cash, savings_tokens,
	latitude, longitude, created_at`

// ApplyLedgerUpdate bumps the collector aggregates and inserts the record
// in one transaction.
func (s *Store) ApplyLedgerUpdate(ctx context.Context, u *domain.LedgerUpdate) (*domain.Collector, error) {
	var updated *domain.Collector
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		at := time.Now().UTC()
		if u.Record != nil {
			at = u.Record.CreatedAt
		}
		row := tx.QueryRowContext(ctx, `UPDATE collectors SET
				total_weight_kg = total_weight_kg + $2,
				total_cash_earned = total_cash_earned + $3,
				total_savings_tokens = total_savings_tokens + $4,
				collection_count = collection_count + 1,
				version = version + 1,
				updated_at = $5
			WHERE id = $1 AND version = $6
			RETURNING `+collectorColumns,
			u.CollectorID, u.Delta.WeightKg, int64(u.Delta.Cash), int64(u.Delta.SavingsTokens), at, u.ExpectedVersion)

		c, err := scanCollector(row)
		if errors.Is(err, sql.ErrNoRows) {
			return s.missOrConflict(ctx, tx, u.CollectorID)
		}
		if err != nil {
			return fmt.Errorf("update collector aggregates: %w", err)
		}
		updated = c

		if u.Record == nil {
			return nil
		}
		return insertTransaction(ctx, tx, u.Record)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) missOrConflict(ctx context.Context, tx *sql.Tx, collectorID string) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM collectors WHERE id = $1)`, collectorID).Scan(&exists); err != nil {
		return fmt.Errorf("check collector: %w", err)
	}
	if !exists {
		return &domain.ErrNotFound{Resource: "collector", ID: collectorID}
	}
	return &domain.ErrConflict{Message: "collector " + collectorID + " was modified concurrently"}
}

func insertTransaction(ctx context.Context, tx *sql.Tx, r *domain.CollectionTransaction) error {
	var lat, lng sql.NullFloat64
	if r.Location != nil {
		lat = sql.NullFloat64{Float64: r.Location.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: r.Location.Longitude, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO collection_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.IdempotencyKey, r.CollectorID, r.SessionID, r.HubID, r.OperatorID,
		string(r.MaterialType), r.WeightKg, int64(r.PricePerKg), int64(r.TotalValue),
		int64(r.InstantCash), int64(r.SavingsTokens), lat, lng, r.CreatedAt)
	if _, ok := isUniqueViolation(err); ok {
		return &domain.ErrDuplicate{Key: r.IdempotencyKey}
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func scanTransaction(row rowScanner) (*domain.CollectionTransaction, error) {
	var (
		t                          domain.CollectionTransaction
		material                   string
		price, total, cash, tokens int64
		lat, lng                   sql.NullFloat64
	)
	err := row.Scan(&t.ID, &t.IdempotencyKey, &t.CollectorID, &t.SessionID, &t.HubID, &t.OperatorID,
		&material, &t.WeightKg, &price, &total, &cash, &tokens, &lat, &lng, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.MaterialType = domain.MaterialType(material)
	t.PricePerKg, t.TotalValue = domain.Money(price), domain.Money(total)
	t.InstantCash, t.SavingsTokens = domain.Money(cash), domain.Money(tokens)
	if lat.Valid && lng.Valid {
		t.Location = &domain.GeoPoint{Latitude: lat.Float64, Longitude: lng.Float64}
	}
	return &t, nil
}

func (s *Store) GetTransactionByKey(ctx context.Context, key string) (*domain.CollectionTransaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM collection_transactions WHERE idempotency_key = $1`, key)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: key}
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (s *Store) ListTransactions(ctx context.Context, q domain.TransactionQuery) ([]domain.CollectionTransaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.CollectorID != "" {
		add("collector_id = $%d", q.CollectorID)
	}
	if q.HubID != "" {
		add("hub_id = $%d", q.HubID)
	}
	if q.SessionID != "" {
		add("session_id = $%d", q.SessionID)
	}
	if !q.Since.IsZero() {
		add("created_at >= $%d", q.Since)
	}

	query := `SELECT ` + transactionColumns + ` FROM collection_transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.CollectionTransaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
