// internal/gateway/paddle/client.paddle.go
package paddle

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

const DefaultBaseURL = "https://api.paddle.com"

type Config struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
	// PriceIDs maps a plan id to the Paddle price configured for it.
	PriceIDs   map[string]string
	SuccessURL string
	Timeout    time.Duration
	// MaxSkew rejects signatures whose timestamp is further than this from
	// now. Zero disables the check.
	MaxSkew time.Duration
}

type client struct {
	cfg  Config
	http *http.Client
}

func newClient(cfg Config) *client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// envelope is Paddle's response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"error"`
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
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &domainErr.GatewayError{Gateway: string(payment.Paddle), Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &domainErr.GatewayError{Gateway: string(payment.Paddle), StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domainErr.GatewayError{Gateway: string(payment.Paddle), StatusCode: resp.StatusCode, Diagnostic: string(raw)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("paddle: decode response: %w", err)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// transaction is the subset of a Paddle transaction the ledger reads.
type transaction struct {
	ID           string                 `json:"id"`
	Status       string                 `json:"status"`
	CurrencyCode string                 `json:"currency_code"`
	CustomData   map[string]interface{} `json:"custom_data"`
	Checkout     *struct {
		URL string `json:"url"`
	} `json:"checkout"`
	Details struct {
		Totals struct {
			Total string `json:"total"`
		} `json:"totals"`
	} `json:"details"`
}

func mapStatus(s string) payment.PaymentStatus {
	switch s {
	case "completed", "paid":
		return payment.StatusApproved
	case "draft", "ready", "billed", "past_due":
		return payment.StatusPending
	case "canceled":
		return payment.StatusCancelled
	default:
		return payment.StatusUnknown
	}
}

// toEvent normalizes a transaction. Paddle totals are in the currency's
// lowest denomination.
func (t transaction) toEvent(eventType string, raw []byte) *payment.VerifiedEvent {
	md := make(map[string]string, len(t.CustomData))
	for k, v := range t.CustomData {
		if s, ok := v.(string); ok {
			md[k] = s
		}
	}
	amount, err := decimal.NewFromString(t.Details.Totals.Total)
	if err != nil {
		amount = decimal.Zero
	}
	return &payment.VerifiedEvent{
		Gateway:           payment.Paddle,
		EventType:         eventType,
		PaymentID:         t.ID,
		Status:            mapStatus(t.Status),
		RawStatus:         t.Status,
		Amount:            amount.Shift(-2),
		Currency:          t.CurrencyCode,
		ExternalReference: md["external_reference"],
		Metadata:          md,
		Payload:           raw,
		ReceivedAt:        time.Now().UTC(),
	}
}
