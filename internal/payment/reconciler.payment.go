// internal/payment/reconciler.payment.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/Leiito98/glowshot-ledger/internal/events"
	"github.com/Leiito98/glowshot-ledger/internal/plans"
	"go.uber.org/zap"
)

// Outcome is the result of reconciling one verified event.
type Outcome string

const (
	OutcomeCredited            Outcome = "credited"
	OutcomeAlreadyProcessed    Outcome = "already_processed"
	OutcomeRecordedNotCredited Outcome = "recorded_not_credited"
	OutcomeMissingCorrelation  Outcome = "missing_correlation"
	OutcomeCreditFailed        Outcome = "credit_failed"
)

type Result struct {
	Outcome   Outcome `json:"outcome"`
	PaymentID string  `json:"paymentId"`
	UserID    string  `json:"userId,omitempty"`
	PlanID    string  `json:"planId,omitempty"`
	Credits   int     `json:"credits,omitempty"`
}

// Reconciler turns verified payment events into at-most-once credit grants.
//
// The payment row is inserted BEFORE credits move. The unique payment_id is
// the idempotency guard: a redelivery collides on insert and stops there.
// If the credit step fails the row stays credited=false so the sweep can
// finish the job later.
type Reconciler struct {
	payments PaymentStore
	credits  CreditGranter
	tx       TxManager
	events   events.Publisher
	logger   *zap.Logger
	now      func() time.Time
}

func NewReconciler(payments PaymentStore, credits CreditGranter, tx TxManager, pub events.Publisher, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		payments: payments,
		credits:  credits,
		tx:       tx,
		events:   pub,
		logger:   logger.Named("reconciler"),
		now:      time.Now,
	}
}

// Reconcile applies one verified event to the ledger.
//
// Errors: ErrMissingCorrelation (ack the gateway, nothing to retry),
// ErrCreditPersistence (row recorded, credit pending), anything else is a
// storage failure the gateway should retry.
func (r *Reconciler) Reconcile(ctx context.Context, ev VerifiedEvent) (Result, error) {
	if ev.PaymentID == "" {
		return Result{}, &domainErr.ValidationError{Field: "payment_id", Reason: "required"}
	}
	ledgerID := ev.LedgerID()
	log := r.logger.With(zap.String("payment_id", ledgerID), zap.String("status", string(ev.Status)))

	// 1. Non-approved: audit trail only. Duplicates and insert failures are
	// tolerated, nothing depends on this row existing.
	if ev.Status != StatusApproved {
		corr, _ := ExtractCorrelation(ev)
		if err := r.payments.InsertPayment(ctx, r.recordFrom(ev, corr)); err != nil && !errors.Is(err, domainErr.ErrDuplicateEvent) {
			log.Warn("audit row insert failed", zap.Error(err))
		}
		log.Info("payment recorded without credit", zap.String("raw_status", ev.RawStatus))
		return Result{Outcome: OutcomeRecordedNotCredited, PaymentID: ledgerID, UserID: corr.UserID, PlanID: corr.PlanID}, nil
	}

	// 2. Approved: who is this for?
	corr, err := ExtractCorrelation(ev)
	if err != nil {
		log.Error("approved payment has no usable correlation", zap.String("external_reference", ev.ExternalReference), zap.Error(err))
		return Result{Outcome: OutcomeMissingCorrelation, PaymentID: ledgerID}, err
	}
	res := Result{PaymentID: ledgerID, UserID: corr.UserID, PlanID: corr.PlanID}

	// 3. Insert-before-credit.
	rec := r.recordFrom(ev, corr)
	if err := r.payments.InsertPayment(ctx, rec); err != nil {
		if !errors.Is(err, domainErr.ErrDuplicateEvent) {
			return res, fmt.Errorf("record payment %s: %w", ledgerID, err)
		}
		claimed, err := r.claimExisting(ctx, rec)
		if err != nil {
			return res, err
		}
		if !claimed {
			log.Info("duplicate delivery ignored")
			res.Outcome = OutcomeAlreadyProcessed
			return res, nil
		}
	}

	// 4. Credit.
	return r.credit(ctx, ledgerID, res)
}

// RetryCredit re-runs only the credit step for an approved row that was
// recorded but never credited.
func (r *Reconciler) RetryCredit(ctx context.Context, ledgerID string) (Result, error) {
	rec, err := r.payments.GetPayment(ctx, ledgerID)
	if err != nil {
		return Result{PaymentID: ledgerID}, fmt.Errorf("load payment %s: %w", ledgerID, err)
	}
	res := Result{PaymentID: ledgerID, UserID: rec.UserID, PlanID: rec.PlanID}
	if rec.Credited {
		res.Outcome = OutcomeAlreadyProcessed
		return res, nil
	}
	if rec.Status != StatusApproved {
		res.Outcome = OutcomeRecordedNotCredited
		return res, nil
	}
	return r.credit(ctx, ledgerID, res)
}

// claimExisting decides what a duplicate insert means. An earlier audit row
// for a then-pending payment is promoted; only the delivery that wins the
// promotion goes on to credit.
func (r *Reconciler) claimExisting(ctx context.Context, rec *PaymentRecord) (bool, error) {
	existing, err := r.payments.GetPayment(ctx, rec.PaymentID)
	if err != nil {
		return false, fmt.Errorf("load existing payment %s: %w", rec.PaymentID, err)
	}
	if existing.Credited || existing.Status == StatusApproved {
		return false, nil
	}
	promoted, err := r.payments.PromoteToApproved(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("promote payment %s: %w", rec.PaymentID, err)
	}
	return promoted, nil
}

func (r *Reconciler) credit(ctx context.Context, ledgerID string, res Result) (Result, error) {
	log := r.logger.With(zap.String("payment_id", ledgerID), zap.String("user_id", res.UserID))

	granted, err := r.applyCredit(ctx, ledgerID)
	switch {
	case errors.Is(err, domainErr.ErrDuplicateEvent):
		log.Info("payment already credited")
		res.Outcome = OutcomeAlreadyProcessed
		return res, nil
	case err != nil:
		log.Error("credit persistence failed, row left uncredited", zap.Error(err))
		res.Outcome = OutcomeCreditFailed
		events.Emit(ctx, r.events, r.logger, res.UserID, events.PaymentCreditFailed, events.PaymentData{
			PaymentID: ledgerID, UserID: res.UserID, PlanID: res.PlanID, Error: err.Error(),
		})
		return res, fmt.Errorf("%w: payment %s: %v", domainErr.ErrCreditPersistence, ledgerID, err)
	}

	res.Outcome = OutcomeCredited
	res.Credits = granted.Credits
	log.Info("payment credited", zap.String("plan_id", res.PlanID), zap.Int("credits", granted.Credits))
	events.Emit(ctx, r.events, r.logger, res.UserID, events.PaymentCredited, events.PaymentData{
		PaymentID: ledgerID, Gateway: string(granted.Gateway), UserID: res.UserID, PlanID: res.PlanID, Credits: granted.Credits,
	})
	return res, nil
}

type grant struct {
	Gateway Kind
	Credits int
}

// applyCredit grants the plan's credits and flips credited=true in one
// transaction. The row lock plus the credited re-check make concurrent
// attempts (webhook vs sweep) credit at most once.
func (r *Reconciler) applyCredit(ctx context.Context, ledgerID string) (grant, error) {
	var g grant
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		rec, err := r.payments.GetPaymentForUpdate(ctx, ledgerID)
		if err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}
		if rec.Credited {
			return domainErr.ErrDuplicateEvent
		}
		plan, ok := plans.Lookup(rec.PlanID)
		if !ok {
			return fmt.Errorf("unknown plan %q", rec.PlanID)
		}
		if _, err := r.credits.AddCredits(ctx, rec.UserID, plan.Credits); err != nil {
			return err
		}
		if err := r.credits.SetPlan(ctx, rec.UserID, plan.ID); err != nil {
			return err
		}
		flipped, err := r.payments.MarkCredited(ctx, ledgerID, r.now().UTC())
		if err != nil {
			return fmt.Errorf("mark credited: %w", err)
		}
		if !flipped {
			return domainErr.ErrDuplicateEvent
		}
		g = grant{Gateway: rec.Gateway, Credits: plan.Credits}
		return nil
	})
	return g, err
}

func (r *Reconciler) recordFrom(ev VerifiedEvent, corr Correlation) *PaymentRecord {
	return &PaymentRecord{
		PaymentID:  ev.LedgerID(),
		Gateway:    ev.Gateway,
		ExternalID: ev.PaymentID,
		UserID:     corr.UserID,
		PlanID:     corr.PlanID,
		Status:     ev.Status,
		Amount:     ev.Amount,
		Currency:   ev.Currency,
		RawPayload: ev.Payload,
		CreatedAt:  r.now().UTC(),
	}
}
