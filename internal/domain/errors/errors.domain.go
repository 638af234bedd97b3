// internal/domain/errors/errors.domain.go
package errors

import (
	"errors"
	"fmt"
)

// Standard Sentinel Errors
// The HTTP layer maps these to status codes (e.g. ErrUnauthenticated -> 401).
var (
	// Caller errors
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidInput    = errors.New("invalid input arguments")
	ErrNotFound        = errors.New("not found")

	// Setup / upstream errors
	ErrMisconfigured   = errors.New("service is misconfigured")
	ErrGatewayRejected = errors.New("payment gateway rejected the request")

	// Ledger errors
	ErrDuplicateEvent      = errors.New("payment event already recorded")
	ErrMissingCorrelation  = errors.New("payment event carries no user/plan correlation")
	ErrCreditPersistence   = errors.New("failed to persist credit grant")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// ValidationError describes a single rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// ConfigurationError is returned when a required setting (gateway
// credentials, bucket name...) is absent at request time.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing configuration: %s", e.Setting)
}

func (e *ConfigurationError) Unwrap() error { return ErrMisconfigured }

// GatewayError carries the gateway's own diagnostic so it can be surfaced
// to the caller unchanged.
type GatewayError struct {
	Gateway    string
	StatusCode int
	Diagnostic string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s gateway error (status %d): %v", e.Gateway, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s gateway error (status %d): %s", e.Gateway, e.StatusCode, e.Diagnostic)
}

// Unwrap exposes both the sentinel and the underlying transport error, so
// errors.Is(err, ErrGatewayRejected) and net.Error checks both work.
func (e *GatewayError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrGatewayRejected}
	}
	return []error{ErrGatewayRejected, e.Err}
}
