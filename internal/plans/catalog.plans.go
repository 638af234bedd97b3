// internal/plans/catalog.plans.go
package plans

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Plan is one purchasable credit pack. Prices are quoted in the reference
// currency (USD); local-currency gateways convert at checkout time.
type Plan struct {
	ID       string
	Name     string
	PriceUSD decimal.Decimal
	Credits  int
}

const (
	Basic     = "basic"
	Standard  = "standard"
	Executive = "executive"
)

// catalog is the single source of truth for plan -> price/credits. Both the
// checkout builder and the ledger reconciler read it, so a plan can never be
// charged at one price and credited at another.
var catalog = map[string]Plan{
	Basic: {
		ID:       Basic,
		Name:     "GlowShot Basic",
		PriceUSD: decimal.NewFromInt(9),
		Credits:  20,
	},
	Standard: {
		ID:       Standard,
		Name:     "GlowShot Standard",
		PriceUSD: decimal.NewFromInt(15),
		Credits:  50,
	},
	Executive: {
		ID:       Executive,
		Name:     "GlowShot Executive",
		PriceUSD: decimal.NewFromInt(29),
		Credits:  120,
	},
}

// Lookup returns the plan for id and whether it exists.
func Lookup(id string) (Plan, bool) {
	p, ok := catalog[id]
	return p, ok
}

// All returns every plan ordered by price.
func All() []Plan {
	out := make([]Plan, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceUSD.LessThan(out[j].PriceUSD) })
	return out
}
