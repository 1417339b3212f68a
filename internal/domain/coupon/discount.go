package coupon

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ComputeDiscount returns the monetary discount c grants against subtotal.
//
// The result is always within [0, subtotal] and rounded half-up to two
// decimal places once, at the end. The function never errors: callers doing
// preview computations invoke it without a prior eligibility branch, and an
// unknown type simply yields zero.
func ComputeDiscount(c *Coupon, subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.Sign() <= 0 {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch c.Type {
	case TypeFixed:
		// A fixed discount can never push the total negative.
		amount = decimal.Min(c.Value, subtotal)
	case TypePercent:
		amount = subtotal.Mul(c.Value).Div(hundred)
		if c.MaxDiscount != nil {
			amount = decimal.Min(amount, *c.MaxDiscount)
		}
		amount = decimal.Min(amount, subtotal)
	default:
		return decimal.Zero
	}

	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount.Round(2)
}
