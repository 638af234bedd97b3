// internal/trainer/replicate/webhook.replicate.go
package replicate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingSignature   = errors.New("replicate webhook: missing signature headers")
	ErrInvalidSignature   = errors.New("replicate webhook: signature mismatch")
	ErrTimestampTooSkewed = errors.New("replicate webhook: timestamp outside tolerance")
)

// Verifier checks the webhook-id / webhook-timestamp / webhook-signature
// headers Replicate sends: HMAC-SHA256 over "{id}.{timestamp}.{body}" keyed
// by the base64 part of the "whsec_" secret.
type Verifier struct {
	key       []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return nil, err
	}
	return &Verifier{key: key, tolerance: tolerance, now: time.Now}, nil
}

func (v *Verifier) Verify(h http.Header, body []byte) error {
	id, ts, sigs := h.Get("webhook-id"), h.Get("webhook-timestamp"), h.Get("webhook-signature")
	if id == "" || ts == "" || sigs == "" {
		return ErrMissingSignature
	}
	if v.tolerance > 0 {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return ErrInvalidSignature
		}
		skew := v.now().Sub(time.Unix(sec, 0))
		if skew < -v.tolerance || skew > v.tolerance {
			return ErrTimestampTooSkewed
		}
	}

	expected := v.sign(id, ts, body)
	for _, s := range strings.Fields(sigs) {
		_, sig, ok := strings.Cut(s, ",")
		if !ok {
			continue
		}
		got, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, got) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func (v *Verifier) sign(id, ts string, body []byte) []byte {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(id + "." + ts + "."))
	mac.Write(body)
	return mac.Sum(nil)
}
