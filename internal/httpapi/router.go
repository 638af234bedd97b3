// internal/httpapi/router.go
package httpapi

import (
	"net/http"

	"github.com/Leiito98/glowshot-ledger/internal/payment"
	"github.com/Leiito98/glowshot-ledger/internal/webhook"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deps are the services the router exposes. CallbackVerifier is optional.
type Deps struct {
	Auth             *Authenticator
	Checkout         CheckoutService
	Credits          CreditReader
	Jobs             JobService
	Ledger           Ledger
	Webhooks         *webhook.Registry
	CallbackVerifier CallbackVerifier
	DevMode          bool
	Logger           *zap.Logger
}

type handlers struct {
	checkout         CheckoutService
	credits          CreditReader
	jobs             JobService
	ledger           Ledger
	webhooks         *webhook.Registry
	callbackVerifier CallbackVerifier
	logger           *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	h := &handlers{
		checkout:         d.Checkout,
		credits:          d.Credits,
		jobs:             d.Jobs,
		ledger:           d.Ledger,
		webhooks:         d.Webhooks,
		callbackVerifier: d.CallbackVerifier,
		logger:           logger,
	}
	if h.webhooks == nil {
		h.webhooks = webhook.NewRegistry()
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/api/plans", listPlans)

	hooks := r.Group("/webhooks")
	{
		hooks.POST("/mercadopago", h.paymentWebhook(payment.MercadoPago))
		hooks.POST("/paddle", h.paymentWebhook(payment.Paddle))
		hooks.POST("/stripe", h.paymentWebhook(payment.Stripe))
		hooks.POST("/replicate", h.replicateWebhook)
	}

	api := r.Group("/api", AuthRequired(d.Auth))
	{
		api.POST("/checkout", h.createCheckout)
		api.GET("/credits", h.getCredits)
		api.GET("/plan", h.getPlan)
		api.POST("/jobs", h.submitJob)
		api.GET("/jobs/:id", h.pollJob)
		if d.DevMode {
			api.POST("/dev/purchase", h.devPurchase)
		}
	}
	return r
}
