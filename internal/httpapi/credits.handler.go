// internal/httpapi/credits.handler.go
package httpapi

import (
	"context"
	"net/http"

	"github.com/Leiito98/glowshot-ledger/internal/plans"
	"github.com/gin-gonic/gin"
)

type CreditReader interface {
	GetCredits(ctx context.Context, userID string) (int, error)
	GetPlan(ctx context.Context, userID string) (string, error)
}

func (h *handlers) getCredits(c *gin.Context) {
	n, err := h.credits.GetCredits(c.Request.Context(), callerID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": n})
}

func (h *handlers) getPlan(c *gin.Context) {
	planID, err := h.credits.GetPlan(c.Request.Context(), callerID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"planId": planID})
}

type planView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	PriceUSD string `json:"priceUsd"`
	Credits  int    `json:"credits"`
}

func listPlans(c *gin.Context) {
	all := plans.All()
	out := make([]planView, 0, len(all))
	for _, p := range all {
		out = append(out, planView{ID: p.ID, Name: p.Name, PriceUSD: p.PriceUSD.StringFixed(2), Credits: p.Credits})
	}
	c.JSON(http.StatusOK, gin.H{"plans": out})
}
