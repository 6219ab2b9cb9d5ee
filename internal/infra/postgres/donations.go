package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/boddenberg/plastic-rewards-go/internal/domain"
)

const donationColumns = `id, parent_id, donor_ref, idempotency_key, amount_minor, currency, type,
	payment_method, payment_status, gateway_transaction_id, failure_reason,
	tier, allocation, impact, recurring, version, created_at, updated_at, completed_at`

func scanDonation(row rowScanner) (*domain.Donation, error) {
	var (
		d                              domain.Donation
		parent                         sql.NullString
		amount                         int64
		typ, status                    string
		tier, alloc, impact, recurring []byte
		completed                      sql.NullTime
	)
	err := row.Scan(&d.ID, &parent, &d.DonorRef, &d.IdempotencyKey, &amount, &d.Currency, &typ,
		&d.PaymentMethod, &status, &d.GatewayTransactionID, &d.FailureReason,
		&tier, &alloc, &impact, &recurring, &d.Version, &d.CreatedAt, &d.UpdatedAt, &completed)
	if err != nil {
		return nil, err
	}
	d.ParentID = parent.String
	d.Amount = domain.Money(amount)
	d.Type = domain.DonationType(typ)
	d.PaymentStatus = domain.PaymentStatus(status)
	if completed.Valid {
		t := completed.Time
		d.CompletedAt = &t
	}
	for _, f := range []struct {
		raw []byte
		dst any
	}{{tier, &d.Tier}, {alloc, &d.Allocation}, {impact, &d.Impact}, {recurring, &d.Recurring}} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode donation %s: %w", d.ID, err)
		}
	}
	return &d, nil
}

func (s *Store) GetDonation(ctx context.Context, donationID string) (*domain.Donation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+donationColumns+` FROM donations WHERE id = $1`, donationID)
	d, err := scanDonation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "donation", ID: donationID}
	}
	if err != nil {
		return nil, fmt.Errorf("get donation: %w", err)
	}
	return d, nil
}

func (s *Store) GetDonationByKey(ctx context.Context, donorRef, key string) (*domain.Donation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+donationColumns+` FROM donations
		WHERE donor_ref = $1 AND idempotency_key = $2`, donorRef, key)
	d, err := scanDonation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "donation", ID: key}
	}
	if err != nil {
		return nil, fmt.Errorf("get donation by key: %w", err)
	}
	return d, nil
}

// SaveDonations writes every donation in one transaction. Versions are
// bumped on the callers' values only after the commit.
func (s *Store) SaveDonations(ctx context.Context, donations ...*domain.Donation) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, d := range donations {
			if err := saveDonation(ctx, tx, d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, d := range donations {
		d.Version++
	}
	return nil
}

func saveDonation(ctx context.Context, tx *sql.Tx, d *domain.Donation) error {
	tier, _ := json.Marshal(d.Tier)
	alloc, _ := json.Marshal(d.Allocation)
	impact, _ := json.Marshal(d.Impact)
	recurring, _ := json.Marshal(d.Recurring)

	var next sql.NullTime
	if d.Recurring.NextPaymentDate != nil {
		next = sql.NullTime{Time: *d.Recurring.NextPaymentDate, Valid: true}
	}
	var completed sql.NullTime
	if d.CompletedAt != nil {
		completed = sql.NullTime{Time: *d.CompletedAt, Valid: true}
	}

	if d.Version == 0 {
		_, err := tx.ExecContext(ctx, `INSERT INTO donations
			(id, parent_id, donor_ref, idempotency_key, amount_minor, currency, type, payment_method,
			 payment_status, gateway_transaction_id, failure_reason, tier, allocation, impact, recurring,
			 recurring_status, next_payment_date, created_at, updated_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
			d.ID, nullString(d.ParentID), d.DonorRef, d.IdempotencyKey, int64(d.Amount), d.Currency, string(d.Type),
			d.PaymentMethod, string(d.PaymentStatus), d.GatewayTransactionID, d.FailureReason,
			tier, alloc, impact, recurring, d.Recurring.Status, next, d.CreatedAt, d.UpdatedAt, completed)
		if _, ok := isUniqueViolation(err); ok {
			return &domain.ErrDuplicate{Key: d.IdempotencyKey}
		}
		if err != nil {
			return fmt.Errorf("insert donation: %w", err)
		}
		return nil
	}

	res, err := tx.ExecContext(ctx, `UPDATE donations SET
			payment_status = $2, gateway_transaction_id = $3, failure_reason = $4,
			tier = $5, allocation = $6, impact = $7, recurring = $8,
			recurring_status = $9, next_payment_date = $10, updated_at = $11, completed_at = $12,
			version = version + 1
		WHERE id = $1 AND version = $13`,
		d.ID, string(d.PaymentStatus), d.GatewayTransactionID, d.FailureReason,
		tier, alloc, impact, recurring, d.Recurring.Status, next, d.UpdatedAt, completed, d.Version)
	if err != nil {
		return fmt.Errorf("update donation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ErrConflict{Message: "donation " + d.ID + " was modified concurrently"}
	}
	return nil
}

func (s *Store) QueryDonations(ctx context.Context, q domain.DonationQuery) ([]domain.Donation, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.DonorRef != "" {
		add("donor_ref = $%d", q.DonorRef)
	}
	if q.ParentID != "" {
		add("parent_id = $%d", q.ParentID)
	}
	if q.PaymentStatus != "" {
		add("payment_status = $%d", string(q.PaymentStatus))
	}
	order := "created_at DESC"
	if q.DueBefore != nil {
		where = append(where, "recurring_status = 'active'", "parent_id IS NULL")
		add("next_payment_date <= $%d", *q.DueBefore)
		if q.DueAfter != nil {
			args = append(args, q.DueAfter.NextPaymentDate, q.DueAfter.ID)
			where = append(where, fmt.Sprintf("(next_payment_date, id) > ($%d, $%d)", len(args)-1, len(args)))
		}
		order = "next_payment_date, id"
	}

	query := `SELECT ` + donationColumns + ` FROM donations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ` + order
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query donations: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Donation, 0)
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan donation: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
