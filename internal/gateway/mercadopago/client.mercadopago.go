// internal/gateway/mercadopago/client.mercadopago.go
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/Leiito98/glowshot-ledger/internal/payment"
	"github.com/shopspring/decimal"
)

const DefaultBaseURL = "https://api.mercadopago.com"

type Config struct {
	AccessToken     string
	BaseURL         string
	Currency        string // e.g. "ARS"
	SuccessURL      string
	FailureURL      string
	PendingURL      string
	NotificationURL string
	// Sandbox selects sandbox_init_point over init_point.
	Sandbox bool
	Timeout time.Duration
}

type client struct {
	cfg  Config
	http *http.Client
}

func newClient(cfg Config) *client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Currency == "" {
		cfg.Currency = "ARS"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

func (c *client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &domainErr.GatewayError{Gateway: string(payment.MercadoPago), Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &domainErr.GatewayError{Gateway: string(payment.MercadoPago), StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domainErr.GatewayError{Gateway: string(payment.MercadoPago), StatusCode: resp.StatusCode, Diagnostic: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("mercadopago: decode response: %w", err)
	}
	return nil
}

// paymentResource is the subset of GET /v1/payments/{id} the ledger reads.
type paymentResource struct {
	ID                json.Number            `json:"id"`
	Status            string                 `json:"status"`
	StatusDetail      string                 `json:"status_detail"`
	ExternalReference string                 `json:"external_reference"`
	Metadata          map[string]interface{} `json:"metadata"`
	TransactionAmount json.Number            `json:"transaction_amount"`
	CurrencyID        string                 `json:"currency_id"`
}

func mapStatus(s string) payment.PaymentStatus {
	switch s {
	case "approved":
		return payment.StatusApproved
	case "pending", "in_process", "authorized", "in_mediation":
		return payment.StatusPending
	case "rejected":
		return payment.StatusRejected
	case "cancelled":
		return payment.StatusCancelled
	case "refunded", "charged_back":
		return payment.StatusRefunded
	default:
		return payment.StatusUnknown
	}
}

func (p paymentResource) toEvent(raw []byte) *payment.VerifiedEvent {
	md := make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		if s, ok := v.(string); ok {
			md[k] = s
		}
	}
	amount, err := decimal.NewFromString(p.TransactionAmount.String())
	if err != nil {
		amount = decimal.Zero
	}
	return &payment.VerifiedEvent{
		Gateway:           payment.MercadoPago,
		EventType:         "payment",
		PaymentID:         p.ID.String(),
		Status:            mapStatus(p.Status),
		RawStatus:         p.Status,
		Amount:            amount,
		Currency:          p.CurrencyID,
		ExternalReference: p.ExternalReference,
		Metadata:          md,
		Payload:           raw,
		ReceivedAt:        time.Now().UTC(),
	}
}
