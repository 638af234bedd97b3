// internal/gateway/mercadopago/checkout.mercadopago.go
package mercadopago

import (
	"context"
	"encoding/json"
	"net/http"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/Leiito98/glowshot-ledger/internal/payment"
)

// Gateway creates MercadoPago checkout preferences.
type Gateway struct {
	*client
}

func NewGateway(cfg Config) *Gateway {
	return &Gateway{client: newClient(cfg)}
}

func (g *Gateway) Kind() payment.Kind { return payment.MercadoPago }

func (g *Gateway) Currency() string { return g.cfg.Currency }

type preferenceItem struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Quantity   int         `json:"quantity"`
	UnitPrice  json.Number `json:"unit_price"`
	CurrencyID string      `json:"currency_id"`
}

type preferenceRequest struct {
	Items             []preferenceItem  `json:"items"`
	Payer             *payer            `json:"payer,omitempty"`
	ExternalReference string            `json:"external_reference"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	BackURLs          *backURLs         `json:"back_urls,omitempty"`
	AutoReturn        string            `json:"auto_return,omitempty"`
	NotificationURL   string            `json:"notification_url,omitempty"`
}

type payer struct {
	Email string `json:"email"`
}

type backURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

type preferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

func (g *Gateway) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	body := preferenceRequest{
		Items: []preferenceItem{{
			ID:         req.PlanID,
			Title:      req.Title,
			Quantity:   1,
			UnitPrice:  json.Number(req.Amount.String()),
			CurrencyID: req.Currency,
		}},
		ExternalReference: req.ExternalReference,
		Metadata:          req.Metadata,
		NotificationURL:   g.cfg.NotificationURL,
	}
	if req.Email != "" {
		body.Payer = &payer{Email: req.Email}
	}
	if g.cfg.SuccessURL != "" {
		body.BackURLs = &backURLs{Success: g.cfg.SuccessURL, Failure: g.cfg.FailureURL, Pending: g.cfg.PendingURL}
		body.AutoReturn = "approved"
	}

	var pref preferenceResponse
	if err := g.do(ctx, http.MethodPost, "/checkout/preferences", body, &pref); err != nil {
		return nil, err
	}
	url := pref.InitPoint
	if g.cfg.Sandbox && pref.SandboxInitPoint != "" {
		url = pref.SandboxInitPoint
	}
	if url == "" {
		return nil, &domainErr.GatewayError{Gateway: string(payment.MercadoPago), StatusCode: http.StatusOK, Diagnostic: "preference created without init_point"}
	}
	return &payment.CheckoutSession{SessionID: pref.ID, CheckoutURL: url}, nil
}
