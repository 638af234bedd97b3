// internal/gateway/stripe/gateway.stripe.go
package stripe

import (
	"context"
	"errors"
	"strings"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/Leiito98/glowshot-ledger/internal/payment"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	// BackendURL overrides the API host (tests).
	BackendURL string
}

// Gateway opens Stripe-hosted checkout sessions.
type Gateway struct {
	client *client.API
	cfg    Config
}

func newAPI(cfg Config) *client.API {
	sc := &client.API{}
	var backends *stripe.Backends
	if cfg.BackendURL != "" {
		backends = &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{URL: stripe.String(cfg.BackendURL)}),
		}
	}
	sc.Init(cfg.SecretKey, backends)
	return sc
}

func NewGateway(cfg Config) *Gateway {
	return &Gateway{client: newAPI(cfg), cfg: cfg}
}

func (g *Gateway) Kind() payment.Kind { return payment.Stripe }

func (g *Gateway) Currency() string { return "USD" }

func (g *Gateway) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.ExternalReference),
		SuccessURL:        stripe.String(g.cfg.SuccessURL),
		CancelURL:         stripe.String(g.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.Amount.Shift(2).IntPart()),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Title),
				},
			},
		}},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	sess, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &payment.CheckoutSession{SessionID: sess.ID, CheckoutURL: sess.URL}, nil
}

// mapStripeError keeps stripe-go types out of the callers while preserving
// the original error for the retry policy.
func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &domainErr.GatewayError{
			Gateway:    string(payment.Stripe),
			StatusCode: stripeErr.HTTPStatusCode,
			Diagnostic: stripeErr.Msg,
			Err:        err,
		}
	}
	return &domainErr.GatewayError{Gateway: string(payment.Stripe), Err: err}
}
