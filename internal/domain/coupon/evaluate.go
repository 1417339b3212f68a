package coupon

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reason explains why a coupon was judged ineligible. Reasons are ordinary
// values, not errors: rejection is an expected outcome of evaluation.
type Reason string

const (
	ReasonInactive             Reason = "INACTIVE"
	ReasonExpired              Reason = "EXPIRED"
	ReasonUsageLimitReached    Reason = "USAGE_LIMIT_REACHED"
	ReasonBelowMinPurchase     Reason = "BELOW_MIN_PURCHASE"
	ReasonServiceNotApplicable Reason = "SERVICE_NOT_APPLICABLE"
)

// OrderContext is the candidate order a coupon is evaluated against. It is
// ephemeral: nothing in this package persists it.
type OrderContext struct {
	Subtotal   decimal.Decimal
	ServiceIDs []string
}

// Result is the outcome of Evaluate. When Eligible is false, Reason holds
// the first failed check.
type Result struct {
	Eligible bool
	Reason   Reason
}

var eligible = Result{Eligible: true}

// Evaluate decides whether c may be applied to the given order at the given
// instant. Checks run in a fixed order and short-circuit on the first
// failure, so the reported reason is deterministic: a coupon that is both
// inactive and expired reports INACTIVE. Evaluation never mutates state and
// may be re-run freely for previews.
//
// The expiry boundary is exclusive on the valid side: now == ExpiresAt is
// already expired.
func Evaluate(c *Coupon, order OrderContext, now time.Time) Result {
	if !c.Active {
		return Result{Reason: ReasonInactive}
	}
	if !now.Before(c.ExpiresAt) {
		return Result{Reason: ReasonExpired}
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return Result{Reason: ReasonUsageLimitReached}
	}
	if c.MinPurchase != nil && order.Subtotal.LessThan(*c.MinPurchase) {
		return Result{Reason: ReasonBelowMinPurchase}
	}
	if len(c.Services) > 0 && !intersects(c.Services, order.ServiceIDs) {
		return Result{Reason: ReasonServiceNotApplicable}
	}
	return eligible
}

// intersects reports whether any id in want appears in have. A coupon
// applies to the whole order as soon as one covered service matches; the
// discount is then computed against the full subtotal, not per line.
func intersects(want, have []string) bool {
	set := make(map[string]struct{}, len(want))
	for _, id := range want {
		set[id] = struct{}{}
	}
	for _, id := range have {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
