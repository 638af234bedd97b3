// internal/payment/payment.interfaces.go
package payment

import (
	"context"
	"time"
)

// Gateway abstracts a hosted-checkout provider.
type Gateway interface {
	Kind() Kind
	// Currency is the currency the gateway charges in. The checkout builder
	// converts the USD plan price when it differs.
	Currency() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// StatusFetcher asks a gateway what really happened to a payment. Used by
// the sweep for rows that never received an approving webhook.
type StatusFetcher interface {
	Kind() Kind
	FetchPayment(ctx context.Context, paymentID string) (*VerifiedEvent, error)
}

// PaymentStore persists the payments ledger.
type PaymentStore interface {
	// InsertPayment returns domainErr.ErrDuplicateEvent when the payment id
	// already exists. This unique key is the idempotency guard.
	InsertPayment(ctx context.Context, rec *PaymentRecord) error
	// PromoteToApproved upgrades an earlier non-approved, uncredited row.
	// Returns false when another delivery already promoted it.
	PromoteToApproved(ctx context.Context, rec *PaymentRecord) (bool, error)
	GetPayment(ctx context.Context, paymentID string) (*PaymentRecord, error)
	// GetPaymentForUpdate locks the row for the surrounding transaction.
	GetPaymentForUpdate(ctx context.Context, paymentID string) (*PaymentRecord, error)
	// MarkCredited flips credited=false -> true. Returns false when the row
	// was already credited.
	MarkCredited(ctx context.Context, paymentID string, at time.Time) (bool, error)
	// ListUncredited returns sweepable rows with credited=false created
	// before now-olderThan. Rows never swept come first, then the least
	// recently swept; approved rows lead within each group.
	ListUncredited(ctx context.Context, limit int, olderThan time.Duration) ([]*PaymentRecord, error)
	// MarkSwept stamps swept_at so the next listing rotates past the row.
	MarkSwept(ctx context.Context, paymentID string, at time.Time) error
}

// CreditGranter is the slice of the credit service the reconciler needs.
type CreditGranter interface {
	AddCredits(ctx context.Context, userID string, delta int) (int, error)
	SetPlan(ctx context.Context, userID, planID string) error
}

// TxManager runs fn inside one store transaction; stores pick the
// transaction up from ctx.
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
