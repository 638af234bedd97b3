// internal/gateway/stripe/processor.stripe.go
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Leiito98/glowshot-ledger/internal/payment"
	"github.com/Leiito98/glowshot-ledger/internal/webhook"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	stripewebhook "github.com/stripe/stripe-go/v79/webhook"
)

const SignatureHeader = "Stripe-Signature"

// Processor verifies Stripe-Signature headers and normalizes checkout
// session events.
type Processor struct {
	client *client.API
	secret string
}

func NewProcessor(cfg Config) *Processor {
	return &Processor{client: newAPI(cfg), secret: cfg.WebhookSecret}
}

func (p *Processor) Kind() payment.Kind { return payment.Stripe }

func (p *Processor) VerifyAndParse(_ context.Context, req webhook.Request) (*payment.VerifiedEvent, error) {
	// 1. Verify Signature
	event, err := stripewebhook.ConstructEventWithOptions(
		req.Body,
		req.Header.Get(SignatureHeader),
		p.secret,
		stripewebhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return nil, classify(err)
	}

	// 2. Only checkout sessions carry our correlation.
	if !strings.HasPrefix(string(event.Type), "checkout.session.") {
		return nil, nil
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, webhook.Permanent(payment.Stripe, webhook.ReasonBadFormat, err)
	}
	return toEvent(string(event.Type), &sess, req.Body), nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, stripewebhook.ErrNotSigned):
		return webhook.Permanent(payment.Stripe, webhook.ReasonMissingSignature, err)
	case errors.Is(err, stripewebhook.ErrInvalidHeader):
		return webhook.Permanent(payment.Stripe, webhook.ReasonBadFormat, err)
	case errors.Is(err, stripewebhook.ErrNoValidSignature), errors.Is(err, stripewebhook.ErrTooOld):
		return webhook.Permanent(payment.Stripe, webhook.ReasonSignatureMismatch, err)
	default:
		return webhook.Permanent(payment.Stripe, webhook.ReasonBadFormat, err)
	}
}

func statusOf(eventType string, sess *stripe.CheckoutSession) payment.PaymentStatus {
	switch eventType {
	case "checkout.session.completed":
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			return payment.StatusApproved
		}
		return payment.StatusPending
	case "checkout.session.async_payment_succeeded":
		return payment.StatusApproved
	case "checkout.session.async_payment_failed":
		return payment.StatusRejected
	case "checkout.session.expired":
		return payment.StatusCancelled
	case "fetched":
		switch {
		case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
			return payment.StatusApproved
		case sess.Status == stripe.CheckoutSessionStatusExpired:
			return payment.StatusCancelled
		}
		return payment.StatusPending
	}
	return payment.StatusUnknown
}

func toEvent(eventType string, sess *stripe.CheckoutSession, raw []byte) *payment.VerifiedEvent {
	return &payment.VerifiedEvent{
		Gateway:           payment.Stripe,
		EventType:         eventType,
		PaymentID:         sess.ID,
		Status:            statusOf(eventType, sess),
		RawStatus:         string(sess.PaymentStatus),
		Amount:            decimal.New(sess.AmountTotal, -2),
		Currency:          strings.ToUpper(string(sess.Currency)),
		ExternalReference: sess.ClientReferenceID,
		Metadata:          sess.Metadata,
		Payload:           raw,
		ReceivedAt:        time.Now().UTC(),
	}
}

// FetchPayment retrieves the checkout session.
func (p *Processor) FetchPayment(ctx context.Context, paymentID string) (*payment.VerifiedEvent, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := p.client.CheckoutSessions.Get(paymentID, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	raw, _ := json.Marshal(sess)
	return toEvent("fetched", sess, raw), nil
}
