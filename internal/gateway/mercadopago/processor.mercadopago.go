// internal/gateway/mercadopago/processor.mercadopago.go
package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/Leiito98/glowshot-ledger/internal/payment"
	"github.com/Leiito98/glowshot-ledger/internal/webhook"
)

// Processor authenticates MercadoPago notifications by re-fetching the
// payment from the API: the notification body is only a pointer and its
// contents are never trusted.
type Processor struct {
	*client
}

func NewProcessor(cfg Config) *Processor {
	return &Processor{client: newClient(cfg)}
}

func (p *Processor) Kind() payment.Kind { return payment.MercadoPago }

func (p *Processor) VerifyAndParse(ctx context.Context, req webhook.Request) (*payment.VerifiedEvent, error) {
	topic, id, err := notificationTarget(req)
	if err != nil {
		return nil, webhook.Permanent(payment.MercadoPago, webhook.ReasonBadFormat, err)
	}
	if topic != "" && topic != "payment" {
		return nil, nil
	}
	if id == "" {
		return nil, webhook.Permanent(payment.MercadoPago, webhook.ReasonBadFormat, errors.New("notification carries no payment id"))
	}

	ev, err := p.FetchPayment(ctx, id)
	if err != nil {
		if payment.IsRetryAbleError(err) {
			return nil, webhook.Transient(payment.MercadoPago, webhook.ReasonUpstreamFetchFailed, err)
		}
		return nil, webhook.Permanent(payment.MercadoPago, webhook.ReasonUpstreamFetchFailed, err)
	}
	return ev, nil
}

// FetchPayment reads GET /v1/payments/{id}. The client timeout bounds it.
func (p *Processor) FetchPayment(ctx context.Context, paymentID string) (*payment.VerifiedEvent, error) {
	var raw json.RawMessage
	if err := p.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &raw); err != nil {
		return nil, err
	}
	var res paymentResource
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return res.toEvent(raw), nil
}

// notificationTarget reads the topic and resource id from either the JSON
// body (webhooks) or the query string (IPN).
func notificationTarget(req webhook.Request) (topic, id string, err error) {
	q := req.Query
	if q != nil {
		topic = firstNonEmpty(q.Get("type"), q.Get("topic"))
		id = firstNonEmpty(q.Get("data.id"), q.Get("id"))
	}
	if len(strings.TrimSpace(string(req.Body))) == 0 {
		return topic, id, nil
	}

	var body struct {
		Type   string `json:"type"`
		Topic  string `json:"topic"`
		Action string `json:"action"`
		Data   struct {
			ID json.RawMessage `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		if id != "" {
			return topic, id, nil
		}
		return "", "", err
	}
	if t := firstNonEmpty(body.Type, body.Topic); t != "" {
		topic = t
	}
	if bid := strings.Trim(string(body.Data.ID), `"`); bid != "" && bid != "null" {
		id = bid
	}
	return topic, id, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
