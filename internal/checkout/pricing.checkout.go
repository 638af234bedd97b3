// internal/checkout/pricing.checkout.go
package checkout

import "github.com/shopspring/decimal"

// LocalPrice converts a reference-currency price and rounds it to the
// nearest multiple of step, half away from zero. A non-positive step means
// whole units.
func LocalPrice(price, rate, step decimal.Decimal) decimal.Decimal {
	return RoundToStep(price.Mul(rate), step)
}

func RoundToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		step = decimal.NewFromInt(1)
	}
	return v.Div(step).Round(0).Mul(step)
}
