// internal/payment/models.payment.go
package payment

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Kind names a payment gateway.
type Kind string

const (
	MercadoPago Kind = "mercadopago"
	Paddle      Kind = "paddle"
	Stripe      Kind = "stripe"
	Direct      Kind = "direct" // dev-only, settles immediately
)

// PaymentStatus is the gateway status normalized to the ledger's vocabulary.
// Only StatusApproved ever leads to a credit.
type PaymentStatus string

const (
	StatusApproved  PaymentStatus = "approved"
	StatusPending   PaymentStatus = "pending"
	StatusRejected  PaymentStatus = "rejected"
	StatusCancelled PaymentStatus = "cancelled"
	StatusRefunded  PaymentStatus = "refunded"
	StatusUnknown   PaymentStatus = "unknown"
)

// Sweepable reports whether an uncredited row in this status can still end
// in a credit. Rejected, cancelled and refunded rows are final.
func (s PaymentStatus) Sweepable() bool {
	switch s {
	case StatusApproved, StatusPending, StatusUnknown:
		return true
	}
	return false
}

// VerifiedEvent is what every webhook processor produces once the
// notification has been authenticated. Nothing downstream of the verifier
// ever sees an unauthenticated payload.
type VerifiedEvent struct {
	Gateway           Kind
	EventType         string // e.g. "payment", "transaction.completed"
	PaymentID         string // gateway-native id
	Status            PaymentStatus
	RawStatus         string // status exactly as the gateway reported it
	Amount            decimal.Decimal
	Currency          string
	ExternalReference string            // "{userId}:{planId}"
	Metadata          map[string]string // redundant correlation channel
	Payload           json.RawMessage
	ReceivedAt        time.Time
}

// LedgerID is the primary key of the payment row. Gateway ids are
// namespaced so two gateways can never collide on the same number.
func (e VerifiedEvent) LedgerID() string {
	return LedgerID(e.Gateway, e.PaymentID)
}

func LedgerID(gateway Kind, paymentID string) string {
	return string(gateway) + ":" + paymentID
}

// PaymentRecord is one row of the payments ledger.
type PaymentRecord struct {
	PaymentID  string // ledger id, see LedgerID
	Gateway    Kind
	ExternalID string // gateway-native id
	UserID     string // empty on audit rows without correlation
	PlanID     string
	Status     PaymentStatus
	Amount     decimal.Decimal
	Currency   string
	Credited   bool
	RawPayload json.RawMessage
	CreatedAt  time.Time
	CreditedAt *time.Time
	SweptAt    *time.Time // last time the sweep looked at this row
}

// CheckoutRequest is everything a gateway needs to open a hosted checkout.
type CheckoutRequest struct {
	UserID            string
	Email             string
	PlanID            string
	Title             string
	Credits           int
	Amount            decimal.Decimal
	Currency          string
	ExternalReference string
	Metadata          map[string]string
}

// CheckoutSession is the redirect target handed back to the browser.
type CheckoutSession struct {
	SessionID   string
	CheckoutURL string
}
