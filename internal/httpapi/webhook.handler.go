// internal/httpapi/webhook.handler.go
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/Leiito98/glowshot-ledger/internal/payment"
	"github.com/Leiito98/glowshot-ledger/internal/webhook"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// Ledger is the slice of payment.Reconciler the HTTP layer calls.
type Ledger interface {
	Reconcile(ctx context.Context, ev payment.VerifiedEvent) (payment.Result, error)
}

// paymentWebhook answers gateways so that only transient failures are
// redelivered: 5xx asks for a retry, 2xx and 4xx stop it.
func (h *handlers) paymentWebhook(kind payment.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := h.logger.With(zap.String("gateway", string(kind)))
		proc, ok := h.webhooks.Get(kind)
		if !ok {
			log.Error("webhook for unconfigured gateway")
			c.JSON(http.StatusNotFound, gin.H{"error": "gateway not configured"})
			return
		}

		body, ok := readWebhookBody(c, log)
		if !ok {
			return
		}

		ev, err := proc.VerifyAndParse(c.Request.Context(), webhook.Request{
			Body:   body,
			Header: c.Request.Header,
			Query:  c.Request.URL.Query(),
		})
		if err != nil {
			status := verificationStatus(err)
			log.Warn("webhook verification failed", zap.Int("status", status), zap.Error(err))
			_ = c.Error(err)
			c.JSON(status, gin.H{"error": "verification failed"})
			return
		}
		if ev == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}

		res, err := h.ledger.Reconcile(c.Request.Context(), *ev)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"status": "ok", "outcome": res.Outcome})
		case errors.Is(err, domainErr.ErrMissingCorrelation), errors.Is(err, domainErr.ErrCreditPersistence):
			// Acknowledged so the gateway stops retrying; the outcome is
			// logged and the uncredited row is left for the sweep.
			_ = c.Error(err)
			c.JSON(http.StatusOK, gin.H{"status": "accepted", "outcome": res.Outcome})
		case errors.Is(err, domainErr.ErrInvalidInput):
			_ = c.Error(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			log.Error("reconcile failed, asking gateway to retry", zap.String("payment_id", ev.LedgerID()), zap.Error(err))
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "temporarily unable to record payment"})
		}
	}
}

// readWebhookBody reads at most maxWebhookBody bytes. Larger bodies are
// rejected with 400 instead of being cut short.
func readWebhookBody(c *gin.Context, log *zap.Logger) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err == nil {
		return body, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		log.Warn("webhook body too large", zap.Int64("limit", tooLarge.Limit))
		c.JSON(http.StatusBadRequest, gin.H{"error": "body too large"})
		return nil, false
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
	return nil, false
}

func verificationStatus(err error) int {
	var vf *webhook.VerificationFailure
	if !errors.As(err, &vf) {
		return http.StatusInternalServerError
	}
	switch {
	case vf.Transient:
		return http.StatusInternalServerError
	case vf.Reason == webhook.ReasonBadFormat:
		return http.StatusBadRequest
	default:
		return http.StatusUnauthorized
	}
}
