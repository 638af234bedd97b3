package credits

import (
	"context"
	"errors"
	"testing"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"go.uber.org/zap"
)

// MockCreditStore is a hand-rolled store; it records calls and can be told
// to fail.
type MockCreditStore struct {
	balances map[string]int
	plans    map[string]string
	Err      error
	calls    int
}

func newMockStore() *MockCreditStore {
	return &MockCreditStore{balances: map[string]int{}, plans: map[string]string{}}
}

func (m *MockCreditStore) GetCredits(_ context.Context, userID string) (int, error) {
	m.calls++
	return m.balances[userID], m.Err
}

func (m *MockCreditStore) AddCredits(_ context.Context, userID string, delta int) (int, error) {
	m.calls++
	if m.Err != nil {
		return 0, m.Err
	}
	m.balances[userID] += delta
	return m.balances[userID], nil
}

func (m *MockCreditStore) ConsumeCredits(_ context.Context, userID string, amount int) (int, error) {
	m.calls++
	if m.Err != nil {
		return 0, m.Err
	}
	if m.balances[userID] < amount {
		return m.balances[userID], domainErr.ErrInsufficientCredits
	}
	m.balances[userID] -= amount
	return m.balances[userID], nil
}

func (m *MockCreditStore) SetPlan(_ context.Context, userID, planID string) error {
	m.plans[userID] = planID
	return m.Err
}

func (m *MockCreditStore) GetPlan(_ context.Context, userID string) (string, error) {
	p, ok := m.plans[userID]
	if !ok {
		return "", domainErr.ErrNotFound
	}
	return p, nil
}

func TestService_AddCredits(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		delta    int
		storeErr error
		wantErr  error
		want     int
	}{
		{name: "creates balance", userID: "u1", delta: 50, want: 50},
		{name: "zero delta", userID: "u1", delta: 0, wantErr: domainErr.ErrInvalidInput},
		{name: "negative delta", userID: "u1", delta: -5, wantErr: domainErr.ErrInvalidInput},
		{name: "empty user", userID: " ", delta: 5, wantErr: domainErr.ErrInvalidInput},
		{name: "store failure", userID: "u1", delta: 5, storeErr: errors.New("db down"), wantErr: errors.New("db down")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			store.Err = tt.storeErr
			svc := NewService(store, store, zap.NewNop())

			got, err := svc.AddCredits(context.Background(), tt.userID, tt.delta)
			if tt.wantErr != nil {
				if err == nil {
					t.Fatalf("expected error, got balance %d", got)
				}
				if errors.Is(tt.wantErr, domainErr.ErrInvalidInput) && !errors.Is(err, domainErr.ErrInvalidInput) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("balance = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestService_ConsumeCredits(t *testing.T) {
	store := newMockStore()
	store.balances["u1"] = 10
	svc := NewService(store, store, zap.NewNop())
	ctx := context.Background()

	if got, err := svc.ConsumeCredits(ctx, "u1", 4); err != nil || got != 6 {
		t.Fatalf("ConsumeCredits = %d, %v", got, err)
	}
	if _, err := svc.ConsumeCredits(ctx, "u1", 7); !errors.Is(err, domainErr.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if store.balances["u1"] != 6 {
		t.Fatalf("balance mutated on failure: %d", store.balances["u1"])
	}
	if _, err := svc.ConsumeCredits(ctx, "u1", 0); !errors.Is(err, domainErr.ErrInvalidInput) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_SetPlan(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, store, zap.NewNop())
	ctx := context.Background()

	if err := svc.SetPlan(ctx, "u1", "executive"); err != nil {
		t.Fatalf("SetPlan: %v", err)
	}
	if got, _ := svc.GetPlan(ctx, "u1"); got != "executive" {
		t.Fatalf("plan = %q", got)
	}
	if err := svc.SetPlan(ctx, "u1", "gold"); !errors.Is(err, domainErr.ErrInvalidInput) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.GetPlan(ctx, "nobody"); !errors.Is(err, domainErr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestService_GetCreditsUnknownUserIsZero(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, store, zap.NewNop())
	got, err := svc.GetCredits(context.Background(), "new-user")
	if err != nil || got != 0 {
		t.Fatalf("GetCredits = %d, %v", got, err)
	}
}
