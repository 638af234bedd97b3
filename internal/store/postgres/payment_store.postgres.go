// internal/store/postgres/payment_store.postgres.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/Leiito98/glowshot-ledger/internal/payment"
)

// PaymentStore implements payment.PaymentStore over the payments table.
type PaymentStore struct {
	db *sql.DB
}

func NewPaymentStore(db *sql.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

const paymentColumns = `
	payment_id, gateway, external_id, user_id, plan_id, status,
	amount, currency, credited, raw_payload, created_at, credited_at, swept_at
`

func (s *PaymentStore) InsertPayment(ctx context.Context, rec *payment.PaymentRecord) error {
	query := `
		INSERT INTO payments (
			payment_id, gateway, external_id, user_id, plan_id, status,
			amount, currency, credited, raw_payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (payment_id) DO NOTHING
	`
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	res, err := conn(ctx, s.db).ExecContext(ctx, query,
		rec.PaymentID,
		string(rec.Gateway),
		rec.ExternalID,
		nullString(rec.UserID),
		nullString(rec.PlanID),
		string(rec.Status),
		rec.Amount,
		rec.Currency,
		rec.Credited,
		nullJSON(rec.RawPayload),
		createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domainErr.ErrDuplicateEvent
		}
		return fmt.Errorf("db: failed to insert payment: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db: failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return domainErr.ErrDuplicateEvent
	}
	return nil
}

func (s *PaymentStore) PromoteToApproved(ctx context.Context, rec *payment.PaymentRecord) (bool, error) {
	query := `
		UPDATE payments
		SET status = 'approved',
		    user_id = $2,
		    plan_id = $3,
		    amount = $4,
		    currency = $5,
		    raw_payload = COALESCE($6::jsonb, raw_payload)
		WHERE payment_id = $1 AND status <> 'approved' AND credited = FALSE
	`
	res, err := conn(ctx, s.db).ExecContext(ctx, query,
		rec.PaymentID,
		nullString(rec.UserID),
		nullString(rec.PlanID),
		rec.Amount,
		rec.Currency,
		nullJSON(rec.RawPayload),
	)
	if err != nil {
		return false, fmt.Errorf("db: failed to promote payment: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db: failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}

func (s *PaymentStore) GetPayment(ctx context.Context, paymentID string) (*payment.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE payment_id = $1`
	return s.getOne(ctx, query, paymentID)
}

func (s *PaymentStore) GetPaymentForUpdate(ctx context.Context, paymentID string) (*payment.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE payment_id = $1 FOR UPDATE`
	return s.getOne(ctx, query, paymentID)
}

func (s *PaymentStore) getOne(ctx context.Context, query, paymentID string) (*payment.PaymentRecord, error) {
	rec, err := scanPayment(conn(ctx, s.db).QueryRowContext(ctx, query, paymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainErr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: failed to read payment: %w", err)
	}
	return rec, nil
}

func (s *PaymentStore) MarkCredited(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	query := `
		UPDATE payments
		SET credited = TRUE, credited_at = $2
		WHERE payment_id = $1 AND credited = FALSE
	`
	res, err := conn(ctx, s.db).ExecContext(ctx, query, paymentID, at)
	if err != nil {
		return false, fmt.Errorf("db: failed to mark payment credited: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db: failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}

func (s *PaymentStore) ListUncredited(ctx context.Context, limit int, olderThan time.Duration) ([]*payment.PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE credited = FALSE
		  AND status IN ('approved', 'pending', 'unknown')
		  AND created_at <= $1
		ORDER BY swept_at ASC NULLS FIRST, (status = 'approved') DESC, created_at ASC
		LIMIT $2
	`
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := conn(ctx, s.db).QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("db: failed to list uncredited payments: %w", err)
	}
	defer rows.Close()

	var out []*payment.PaymentRecord
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("db: failed to scan payment: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: failed to iterate payments: %w", err)
	}
	return out, nil
}

func (s *PaymentStore) MarkSwept(ctx context.Context, paymentID string, at time.Time) error {
	query := `UPDATE payments SET swept_at = $2 WHERE payment_id = $1`
	if _, err := conn(ctx, s.db).ExecContext(ctx, query, paymentID, at); err != nil {
		return fmt.Errorf("db: failed to mark payment %s swept: %w", paymentID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(row rowScanner) (*payment.PaymentRecord, error) {
	var (
		rec        payment.PaymentRecord
		gateway    string
		status     string
		userID     sql.NullString
		planID     sql.NullString
		raw        []byte
		creditedAt sql.NullTime
		sweptAt    sql.NullTime
	)
	err := row.Scan(
		&rec.PaymentID,
		&gateway,
		&rec.ExternalID,
		&userID,
		&planID,
		&status,
		&rec.Amount,
		&rec.Currency,
		&rec.Credited,
		&raw,
		&rec.CreatedAt,
		&creditedAt,
		&sweptAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Gateway = payment.Kind(gateway)
	rec.Status = payment.PaymentStatus(status)
	rec.UserID = userID.String
	rec.PlanID = planID.String
	rec.RawPayload = raw
	if creditedAt.Valid {
		t := creditedAt.Time
		rec.CreditedAt = &t
	}
	if sweptAt.Valid {
		t := sweptAt.Time
		rec.SweptAt = &t
	}
	return &rec, nil
}
