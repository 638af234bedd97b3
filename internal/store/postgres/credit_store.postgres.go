// internal/store/postgres/credit_store.postgres.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
)

// CreditStore implements credits.Store and credits.PlanStore.
type CreditStore struct {
	db *sql.DB
}

func NewCreditStore(db *sql.DB) *CreditStore {
	return &CreditStore{db: db}
}

func (s *CreditStore) GetCredits(ctx context.Context, userID string) (int, error) {
	var credits int
	err := conn(ctx, s.db).QueryRowContext(ctx, `SELECT credits FROM user_credits WHERE user_id = $1`, userID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("db: failed to read credits: %w", err)
	}
	return credits, nil
}

// AddCredits is a single upsert, so concurrent adds never lose an update.
func (s *CreditStore) AddCredits(ctx context.Context, userID string, delta int) (int, error) {
	query := `
		INSERT INTO user_credits (user_id, credits, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET credits = user_credits.credits + EXCLUDED.credits,
		    updated_at = NOW()
		RETURNING credits
	`
	var balance int
	if err := conn(ctx, s.db).QueryRowContext(ctx, query, userID, delta).Scan(&balance); err != nil {
		return 0, fmt.Errorf("db: failed to add credits: %w", err)
	}
	return balance, nil
}

// ConsumeCredits decrements only when the balance covers amount.
func (s *CreditStore) ConsumeCredits(ctx context.Context, userID string, amount int) (int, error) {
	query := `
		UPDATE user_credits
		SET credits = credits - $2,
		    updated_at = NOW()
		WHERE user_id = $1 AND credits >= $2
		RETURNING credits
	`
	var balance int
	err := conn(ctx, s.db).QueryRowContext(ctx, query, userID, amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domainErr.ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("db: failed to consume credits: %w", err)
	}
	return balance, nil
}

func (s *CreditStore) SetPlan(ctx context.Context, userID, planID string) error {
	query := `
		INSERT INTO user_plans (user_id, plan_id, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET plan_id = EXCLUDED.plan_id,
		    updated_at = NOW()
	`
	if _, err := conn(ctx, s.db).ExecContext(ctx, query, userID, planID); err != nil {
		return fmt.Errorf("db: failed to set plan: %w", err)
	}
	return nil
}

func (s *CreditStore) GetPlan(ctx context.Context, userID string) (string, error) {
	var planID string
	err := conn(ctx, s.db).QueryRowContext(ctx, `SELECT plan_id FROM user_plans WHERE user_id = $1`, userID).Scan(&planID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domainErr.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("db: failed to read plan: %w", err)
	}
	return planID, nil
}
