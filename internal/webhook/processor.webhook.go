// internal/webhook/processor.webhook.go
package webhook

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Leiito98/glowshot-ledger/internal/payment"
)

// Request is the raw notification exactly as it reached us. Body MUST be
// the unmodified bytes: signatures are computed over them.
type Request struct {
	Body   []byte
	Header http.Header
	Query  url.Values
}

// Processor authenticates a gateway notification and normalizes it.
// It returns (nil, nil) for notifications that are valid but irrelevant
// (e.g. a MercadoPago merchant_order topic).
type Processor interface {
	Kind() payment.Kind
	VerifyAndParse(ctx context.Context, req Request) (*payment.VerifiedEvent, error)
}

// Reason classifies why a notification could not be verified.
type Reason string

const (
	ReasonMissingSignature    Reason = "missing_signature"
	ReasonBadFormat           Reason = "bad_format"
	ReasonSignatureMismatch   Reason = "signature_mismatch"
	ReasonUpstreamFetchFailed Reason = "upstream_fetch_failed"
)

// VerificationFailure is returned by every processor. Transient failures
// are answered with 5xx so the gateway redelivers; permanent ones with 4xx.
type VerificationFailure struct {
	Gateway   payment.Kind
	Reason    Reason
	Transient bool
	Err       error
}

func (e *VerificationFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s webhook verification failed: %s", e.Gateway, e.Reason)
	}
	return fmt.Sprintf("%s webhook verification failed: %s: %v", e.Gateway, e.Reason, e.Err)
}

func (e *VerificationFailure) Unwrap() error { return e.Err }

func Permanent(kind payment.Kind, reason Reason, err error) *VerificationFailure {
	return &VerificationFailure{Gateway: kind, Reason: reason, Err: err}
}

func Transient(kind payment.Kind, reason Reason, err error) *VerificationFailure {
	return &VerificationFailure{Gateway: kind, Reason: reason, Transient: true, Err: err}
}

// Registry resolves the processor for an incoming route.
type Registry struct {
	processors map[payment.Kind]Processor
}

func NewRegistry(processors ...Processor) *Registry {
	r := &Registry{processors: make(map[payment.Kind]Processor, len(processors))}
	for _, p := range processors {
		if p != nil {
			r.processors[p.Kind()] = p
		}
	}
	return r
}

func (r *Registry) Get(kind payment.Kind) (Processor, bool) {
	p, ok := r.processors[kind]
	return p, ok
}
