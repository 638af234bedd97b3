// internal/gateway/paddle/checkout.paddle.go
package paddle

import (
	"context"
	"fmt"
	"net/http"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/Leiito98/glowshot-ledger/internal/payment"
)

// Gateway opens Paddle checkouts by creating a transaction.
type Gateway struct {
	*client
}

func NewGateway(cfg Config) *Gateway {
	return &Gateway{client: newClient(cfg)}
}

func (g *Gateway) Kind() payment.Kind { return payment.Paddle }

func (g *Gateway) Currency() string { return "USD" }

func (g *Gateway) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	priceID := g.cfg.PriceIDs[req.PlanID]
	if priceID == "" {
		return nil, &domainErr.ConfigurationError{Setting: fmt.Sprintf("PADDLE_PRICE_%s", req.PlanID)}
	}

	customData := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		customData[k] = v
	}
	customData["external_reference"] = req.ExternalReference

	body := map[string]interface{}{
		"items":       []map[string]interface{}{{"price_id": priceID, "quantity": 1}},
		"custom_data": customData,
	}
	if g.cfg.SuccessURL != "" {
		body["checkout"] = map[string]string{"url": g.cfg.SuccessURL}
	}

	var txn transaction
	if err := g.do(ctx, http.MethodPost, "/transactions", body, &txn); err != nil {
		return nil, err
	}
	if txn.Checkout == nil || txn.Checkout.URL == "" {
		return nil, &domainErr.GatewayError{Gateway: string(payment.Paddle), StatusCode: http.StatusOK, Diagnostic: "transaction created without checkout url"}
	}
	return &payment.CheckoutSession{SessionID: txn.ID, CheckoutURL: txn.Checkout.URL}, nil
}
