// internal/credits/credits.go
package credits

import (
	"context"
	"fmt"
	"strings"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/Leiito98/glowshot-ledger/internal/plans"
	"go.uber.org/zap"
)

// Store persists per-user credit balances. Implementations MUST make
// AddCredits and ConsumeCredits atomic with respect to concurrent callers:
// two concurrent adds of 5 to a balance of 0 always end at 10.
type Store interface {
	// GetCredits returns 0 for a user that has never held credits.
	GetCredits(ctx context.Context, userID string) (int, error)
	// AddCredits increments the balance (creating the row when absent) and
	// returns the new balance.
	AddCredits(ctx context.Context, userID string, delta int) (int, error)
	// ConsumeCredits decrements the balance only when it covers amount.
	// Returns domainErr.ErrInsufficientCredits otherwise; the balance never
	// goes below zero.
	ConsumeCredits(ctx context.Context, userID string, amount int) (int, error)
}

// PlanStore records the last plan a user purchased.
type PlanStore interface {
	SetPlan(ctx context.Context, userID, planID string) error
	// GetPlan returns domainErr.ErrNotFound when the user never bought a plan.
	GetPlan(ctx context.Context, userID string) (string, error)
}

// Service is the credit ledger entry point used by the reconciler, the job
// bridge and the HTTP layer.
type Service struct {
	store  Store
	plans  PlanStore
	logger *zap.Logger
}

func NewService(store Store, planStore PlanStore, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		plans:  planStore,
		logger: logger.Named("credits"),
	}
}

func (s *Service) GetCredits(ctx context.Context, userID string) (int, error) {
	if err := requireUser(userID); err != nil {
		return 0, err
	}
	return s.store.GetCredits(ctx, userID)
}

func (s *Service) AddCredits(ctx context.Context, userID string, delta int) (int, error) {
	if err := requireUser(userID); err != nil {
		return 0, err
	}
	if delta <= 0 {
		return 0, &domainErr.ValidationError{Field: "delta", Reason: "must be positive"}
	}
	balance, err := s.store.AddCredits(ctx, userID, delta)
	if err != nil {
		return 0, fmt.Errorf("add credits for %s: %w", userID, err)
	}
	s.logger.Info("credits added", zap.String("user_id", userID), zap.Int("delta", delta), zap.Int("balance", balance))
	return balance, nil
}

func (s *Service) ConsumeCredits(ctx context.Context, userID string, amount int) (int, error) {
	if err := requireUser(userID); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, &domainErr.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	balance, err := s.store.ConsumeCredits(ctx, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("consume credits for %s: %w", userID, err)
	}
	s.logger.Info("credits consumed", zap.String("user_id", userID), zap.Int("amount", amount), zap.Int("balance", balance))
	return balance, nil
}

func (s *Service) SetPlan(ctx context.Context, userID, planID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if _, ok := plans.Lookup(planID); !ok {
		return &domainErr.ValidationError{Field: "plan_id", Reason: fmt.Sprintf("unknown plan %q", planID)}
	}
	return s.plans.SetPlan(ctx, userID, planID)
}

func (s *Service) GetPlan(ctx context.Context, userID string) (string, error) {
	if err := requireUser(userID); err != nil {
		return "", err
	}
	return s.plans.GetPlan(ctx, userID)
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return &domainErr.ValidationError{Field: "user_id", Reason: "required"}
	}
	return nil
}
