// internal/payment/correlation.payment.go
package payment

import (
	"fmt"
	"strings"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/Leiito98/glowshot-ledger/internal/plans"
)

// Correlation ties a gateway payment back to the purchasing user and plan.
type Correlation struct {
	UserID string
	PlanID string
}

// ExternalReference encodes the correlation the way it is sent to gateways.
func ExternalReference(userID, planID string) string {
	return userID + ":" + planID
}

// CorrelationMetadata is the redundant metadata block sent next to the
// external reference.
func CorrelationMetadata(userID, planID string) map[string]string {
	return map[string]string{"user_id": userID, "plan_id": planID}
}

// ExtractCorrelation prefers the metadata block and falls back to parsing
// the external reference. The first candidate naming a catalog plan wins.
func ExtractCorrelation(ev VerifiedEvent) (Correlation, error) {
	var unknownPlan string
	for _, candidate := range []func() (Correlation, bool){
		func() (Correlation, bool) { return fromMetadata(ev.Metadata) },
		func() (Correlation, bool) { return parseExternalReference(ev.ExternalReference) },
	} {
		c, ok := candidate()
		if !ok {
			continue
		}
		if _, known := plans.Lookup(c.PlanID); known {
			return c, nil
		}
		if unknownPlan == "" {
			unknownPlan = c.PlanID
		}
	}
	if unknownPlan != "" {
		return Correlation{}, fmt.Errorf("%w: payment %s references unknown plan %q", domainErr.ErrMissingCorrelation, ev.PaymentID, unknownPlan)
	}
	return Correlation{}, fmt.Errorf("%w: payment %s", domainErr.ErrMissingCorrelation, ev.PaymentID)
}

func fromMetadata(md map[string]string) (Correlation, bool) {
	if len(md) == 0 {
		return Correlation{}, false
	}
	user := firstNonEmpty(md["user_id"], md["userId"])
	plan := firstNonEmpty(md["plan_id"], md["planId"])
	if user == "" || plan == "" {
		return Correlation{}, false
	}
	return Correlation{UserID: user, PlanID: plan}, true
}

// parseExternalReference splits on the last ':' since plan ids never carry one.
func parseExternalReference(ref string) (Correlation, bool) {
	ref = strings.TrimSpace(ref)
	i := strings.LastIndex(ref, ":")
	if i <= 0 || i == len(ref)-1 {
		return Correlation{}, false
	}
	return Correlation{UserID: ref[:i], PlanID: ref[i+1:]}, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
