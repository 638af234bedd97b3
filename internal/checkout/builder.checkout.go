// internal/checkout/builder.checkout.go
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/Leiito98/glowshot-ledger/internal/payment"
	"github.com/Leiito98/glowshot-ledger/internal/plans"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const gatewayTimeout = 30 * time.Second

// Identity is the authenticated purchaser.
type Identity struct {
	UserID string
	Email  string
}

// Session is returned to the browser, which redirects to CheckoutURL.
type Session struct {
	CheckoutURL string          `json:"checkoutUrl"`
	SessionID   string          `json:"sessionId"`
	Gateway     payment.Kind    `json:"gateway"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

// Builder creates hosted checkout sessions. It is stateless: nothing is
// written to the ledger until the gateway reports back.
type Builder struct {
	gateways       map[payment.Kind]payment.Gateway
	defaultGateway payment.Kind
	rates          RateProvider
	roundingStep   decimal.Decimal
	logger         *zap.Logger
}

func NewBuilder(rates RateProvider, roundingStep decimal.Decimal, defaultGateway payment.Kind, logger *zap.Logger, gateways ...payment.Gateway) *Builder {
	b := &Builder{
		gateways:       make(map[payment.Kind]payment.Gateway, len(gateways)),
		defaultGateway: defaultGateway,
		rates:          rates,
		roundingStep:   roundingStep,
		logger:         logger.Named("checkout"),
	}
	for _, g := range gateways {
		b.gateways[g.Kind()] = g
	}
	return b
}

// CreateCheckout prices planID for the gateway and opens a session whose
// external reference and metadata both carry "{userId}:{planId}".
func (b *Builder) CreateCheckout(ctx context.Context, id Identity, planID string, kind payment.Kind) (*Session, error) {
	// 1. Who is buying?
	if strings.TrimSpace(id.UserID) == "" {
		return nil, domainErr.ErrUnauthenticated
	}
	// 2. What?
	plan, ok := plans.Lookup(planID)
	if !ok {
		return nil, &domainErr.ValidationError{Field: "planId", Reason: fmt.Sprintf("unknown plan %q", planID)}
	}
	// 3. Through which gateway?
	if kind == "" {
		kind = b.defaultGateway
	}
	gw, ok := b.gateways[kind]
	if !ok {
		return nil, &domainErr.ConfigurationError{Setting: fmt.Sprintf("gateway %q credentials", kind)}
	}

	// 4. Price in the gateway's currency.
	currency := strings.ToUpper(gw.Currency())
	amount := plan.PriceUSD
	if currency != "USD" {
		rate, err := b.rates.Rate(ctx, "USD", currency)
		if err != nil {
			return nil, &domainErr.ConfigurationError{Setting: fmt.Sprintf("exchange rate USD:%s", currency)}
		}
		amount = LocalPrice(plan.PriceUSD, rate, b.roundingStep)
	}

	req := payment.CheckoutRequest{
		UserID:            id.UserID,
		Email:             id.Email,
		PlanID:            plan.ID,
		Title:             plan.Name,
		Credits:           plan.Credits,
		Amount:            amount,
		Currency:          currency,
		ExternalReference: payment.ExternalReference(id.UserID, plan.ID),
		Metadata:          payment.CorrelationMetadata(id.UserID, plan.ID),
	}

	// 5. Call the gateway with a bounded deadline.
	callCtx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	sess, err := gw.CreateCheckout(callCtx, req)
	if err != nil {
		b.logger.Error("checkout creation failed",
			zap.String("gateway", string(kind)), zap.String("user_id", id.UserID), zap.String("plan_id", plan.ID), zap.Error(err))
		return nil, err
	}

	b.logger.Info("checkout created",
		zap.String("gateway", string(kind)), zap.String("session_id", sess.SessionID),
		zap.String("user_id", id.UserID), zap.String("plan_id", plan.ID),
		zap.String("amount", amount.String()), zap.String("currency", currency))
	return &Session{
		CheckoutURL: sess.CheckoutURL,
		SessionID:   sess.SessionID,
		Gateway:     kind,
		Amount:      amount,
		Currency:    currency,
	}, nil
}

// Gateways lists the configured gateway kinds.
func (b *Builder) Gateways() []payment.Kind {
	out := make([]payment.Kind, 0, len(b.gateways))
	for k := range b.gateways {
		out = append(out, k)
	}
	return out
}
