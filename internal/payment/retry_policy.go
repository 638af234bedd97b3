// internal/payment/retry_policy.go
package payment

import (
	"errors"
	"net"
	"net/http"
	"syscall"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/stripe/stripe-go/v79"
)

// IsRetryAbleError reports whether a gateway call failed for a reason the
// caller (or the gateway redelivering a webhook) should retry.
func IsRetryAbleError(err error) bool {
	if err == nil {
		return false
	}
	return isRetryAbleGatewayError(err) || isRetryAbleStripeError(err) || isRetryAbleNetworkError(err) || isRetryAbleSystemError(err)
}

// 5xx, throttling, or no response at all from a REST gateway.
func isRetryAbleGatewayError(err error) bool {
	var gwErr *domainErr.GatewayError
	if !errors.As(err, &gwErr) {
		return false
	}
	if gwErr.StatusCode == 0 && gwErr.Err != nil {
		return true
	}
	return gwErr.StatusCode >= http.StatusInternalServerError || gwErr.StatusCode == http.StatusTooManyRequests
}

func isRetryAbleStripeError(err error) bool {
	var stripeError *stripe.Error
	if !errors.As(err, &stripeError) {
		return false
	}
	// 4xx: invalid request, bad key -> STOP. 5xx: Stripe down -> RETRY
	if stripeError.HTTPStatusCode >= 500 && stripeError.HTTPStatusCode < 600 {
		return true
	}
	switch stripeError.Code {
	case stripe.ErrorCodeRateLimit,
		stripe.ErrorCodeLockTimeout:
		return true
	}
	return false
}

func isRetryAbleNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func isRetryAbleSystemError(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}
