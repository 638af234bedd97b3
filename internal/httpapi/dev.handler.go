// internal/httpapi/dev.handler.go
package httpapi

import (
	"net/http"
	"strings"

	"github.com/Leiito98/glowshot-ledger/internal/payment"
	"github.com/Leiito98/glowshot-ledger/internal/plans"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type devPurchaseRequest struct {
	PlanID string `json:"planId"`
}

// devPurchase simulates an approved payment for the caller. Mounted only
// in dev mode. It goes through the reconciler like a real webhook.
func (h *handlers) devPurchase(c *gin.Context) {
	var req devPurchaseRequest
	if !bindJSON(c, &req) {
		return
	}
	userID := callerID(c)
	planID := strings.TrimSpace(req.PlanID)
	plan, ok := plans.Lookup(planID)
	if !ok {
		c.JSON(http.StatusBadRequest, errorBody{Error: "unknown plan", Code: "invalid_input", Field: "planId"})
		return
	}

	ev := payment.VerifiedEvent{
		Gateway:           payment.Direct,
		EventType:         "direct.purchase",
		PaymentID:         "dev_" + uuid.NewString(),
		Status:            payment.StatusApproved,
		RawStatus:         "approved",
		Amount:            plan.PriceUSD,
		Currency:          "USD",
		ExternalReference: payment.ExternalReference(userID, plan.ID),
		Metadata:          payment.CorrelationMetadata(userID, plan.ID),
	}
	res, err := h.ledger.Reconcile(c.Request.Context(), ev)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
