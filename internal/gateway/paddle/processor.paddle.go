// internal/gateway/paddle/processor.paddle.go
package paddle

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Leiito98/glowshot-ledger/internal/payment"
	"github.com/Leiito98/glowshot-ledger/internal/webhook"
)

const SignatureHeader = "Paddle-Signature"

// Processor verifies Paddle webhooks by HMAC-SHA256 and normalizes
// transaction events. It also re-fetches transactions for the sweep.
type Processor struct {
	*client
	now func() time.Time
}

func NewProcessor(cfg Config) *Processor {
	return &Processor{client: newClient(cfg), now: time.Now}
}

func (p *Processor) Kind() payment.Kind { return payment.Paddle }

func (p *Processor) VerifyAndParse(_ context.Context, req webhook.Request) (*payment.VerifiedEvent, error) {
	// 1. Verify signature over the raw bytes.
	if err := p.verify(req.Header.Get(SignatureHeader), req.Body); err != nil {
		return nil, err
	}

	// 2. Parse.
	var n struct {
		EventID   string      `json:"event_id"`
		EventType string      `json:"event_type"`
		Data      transaction `json:"data"`
	}
	if err := json.Unmarshal(req.Body, &n); err != nil {
		return nil, webhook.Permanent(payment.Paddle, webhook.ReasonBadFormat, err)
	}

	// 3. Only transaction events move money.
	if !strings.HasPrefix(n.EventType, "transaction.") || n.Data.ID == "" {
		return nil, nil
	}
	return n.Data.toEvent(n.EventType, req.Body), nil
}

// verify accepts "ts=..;h1=..", signed over "ts:body", and the older
// "t=..,h=.." form, signed over the body alone.
func (p *Processor) verify(header string, body []byte) error {
	if strings.TrimSpace(header) == "" {
		return webhook.Permanent(payment.Paddle, webhook.ReasonMissingSignature, nil)
	}
	sig, err := parseSignatureHeader(header)
	if err != nil {
		return webhook.Permanent(payment.Paddle, webhook.ReasonBadFormat, err)
	}
	got, err := hex.DecodeString(sig.mac)
	if err != nil {
		return webhook.Permanent(payment.Paddle, webhook.ReasonBadFormat, fmt.Errorf("signature is not hex: %w", err))
	}

	signed := body
	if !sig.bodyOnly {
		signed = append([]byte(sig.timestamp+":"), body...)
	}
	if !hmac.Equal(Sign(p.cfg.WebhookSecret, signed), got) {
		return webhook.Permanent(payment.Paddle, webhook.ReasonSignatureMismatch, nil)
	}

	if p.cfg.MaxSkew > 0 && sig.timestamp != "" {
		ts, err := strconv.ParseInt(sig.timestamp, 10, 64)
		if err != nil {
			return webhook.Permanent(payment.Paddle, webhook.ReasonBadFormat, fmt.Errorf("timestamp: %w", err))
		}
		skew := p.now().Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > p.cfg.MaxSkew {
			return webhook.Permanent(payment.Paddle, webhook.ReasonSignatureMismatch, fmt.Errorf("timestamp outside tolerance (%s)", skew))
		}
	}
	return nil
}

type signature struct {
	timestamp string
	mac       string
	bodyOnly  bool
}

func parseSignatureHeader(header string) (signature, error) {
	var sig signature
	fields := strings.FieldsFunc(header, func(r rune) bool { return r == ';' || r == ',' })
	for _, f := range fields {
		k, v, ok := strings.Cut(strings.TrimSpace(f), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			sig.timestamp = v
		case "h1":
			sig.mac = v
		case "t":
			sig.timestamp = v
			sig.bodyOnly = true
		case "h":
			sig.mac = v
			sig.bodyOnly = true
		}
	}
	if sig.mac == "" {
		return sig, errors.New("no signature value in header")
	}
	if !sig.bodyOnly && sig.timestamp == "" {
		return sig, errors.New("no timestamp in header")
	}
	return sig, nil
}

// Sign returns HMAC-SHA256(secret, payload).
func Sign(secret string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

// FetchPayment re-reads a transaction from the Paddle API.
func (p *Processor) FetchPayment(ctx context.Context, paymentID string) (*payment.VerifiedEvent, error) {
	var txn transaction
	if err := p.do(ctx, http.MethodGet, "/transactions/"+paymentID, nil, &txn); err != nil {
		return nil, err
	}
	raw, _ := json.Marshal(txn)
	return txn.toEvent("transaction.fetched", raw), nil
}
