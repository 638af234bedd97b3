// internal/httpapi/checkout.handler.go
package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/Leiito98/glowshot-ledger/internal/checkout"
	"github.com/Leiito98/glowshot-ledger/internal/payment"
	"github.com/gin-gonic/gin"
)

type CheckoutService interface {
	CreateCheckout(ctx context.Context, id checkout.Identity, planID string, kind payment.Kind) (*checkout.Session, error)
}

type checkoutRequest struct {
	PlanID  string `json:"planId"`
	Gateway string `json:"gateway"`
}

func (h *handlers) createCheckout(c *gin.Context) {
	var req checkoutRequest
	if !bindJSON(c, &req) {
		return
	}
	id := checkout.Identity{UserID: callerID(c), Email: callerEmail(c)}
	kind := payment.Kind(strings.ToLower(strings.TrimSpace(req.Gateway)))

	session, err := h.checkout.CreateCheckout(c.Request.Context(), id, strings.TrimSpace(req.PlanID), kind)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}
