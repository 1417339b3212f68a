// Package checkout orchestrates the coupon application flow: evaluate a
// coupon against a candidate order, compute the discount, and, at order
// finalization, reserve one redemption atomically.
package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tenantly/coupon-engine/internal/domain/coupon"
)

// ReasonInvalidCode is reported when the coupon code does not resolve to any
// coupon for the tenant. End users see it the same way as other ineligibility
// reasons; the admin surface maps the underlying NotFound to a 404 instead.
const ReasonInvalidCode coupon.Reason = "INVALID_CODE"

var (
	// ErrMissingOrderID is returned by Redeem when no order id is supplied.
	// Reservations are keyed by order so the redemption trail stays auditable.
	ErrMissingOrderID = errors.New("order id required")

	// ErrReservationLost is returned by Redeem when a concurrent redemption
	// exhausted the usage limit between evaluation and reservation. The order
	// workflow must recompute the total without the coupon and tell the user;
	// silently dropping the discount is not acceptable.
	ErrReservationLost = errors.New("coupon reservation lost to concurrent redemption")
)

// Request carries a coupon code and the order context it is applied to.
type Request struct {
	TenantID   string
	CouponCode string
	// OrderID identifies the finalized order; required for Redeem,
	// ignored by Quote.
	OrderID    string
	Subtotal   decimal.Decimal
	ServiceIDs []string
	// OccursAt is the evaluation instant. Zero means now.
	OccursAt time.Time
}

// Quote is the outcome of applying a coupon to an order context.
type Quote struct {
	Eligible bool
	Reason   coupon.Reason
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Service wires the registry, evaluator, calculator, and ledger into the two
// flows the storefront needs: side-effect-free previews and atomic
// redemptions.
type Service struct {
	coupons coupon.Registry
	ledger  coupon.Ledger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService creates a checkout Service. The tracer provider may come from
// the application telemetry or a noop provider in tests.
func NewService(coupons coupon.Registry, ledger coupon.Ledger, tp trace.TracerProvider) *Service {
	return &Service{
		coupons: coupons,
		ledger:  ledger,
		tracer:  tp.Tracer("checkout"),
		now:     time.Now,
	}
}

// Quote evaluates the coupon and computes the discount without consuming
// usage. It is safe to call repeatedly; the admin console re-quotes on every
// keystroke of the coupon field.
func (s *Service) Quote(ctx context.Context, req Request) (Quote, error) {
	ctx, span := s.tracer.Start(ctx, "Quote",
		trace.WithAttributes(attribute.String("coupon.code", coupon.NormalizeCode(req.CouponCode))),
	)
	defer span.End()

	_, q, err := s.quote(ctx, req)
	if err != nil {
		return Quote{}, err
	}
	span.SetAttributes(attribute.Bool("coupon.eligible", q.Eligible))
	return q, nil
}

// Redeem re-evaluates the coupon against current usage, then reserves one
// redemption atomically. On success the returned quote reflects the applied
// discount. When the reservation loses a race for the last remaining use it
// returns ErrReservationLost; the caller must re-run the order total without
// the coupon and surface the failure.
func (s *Service) Redeem(ctx context.Context, req Request) (Quote, error) {
	if req.OrderID == "" {
		return Quote{}, ErrMissingOrderID
	}

	ctx, span := s.tracer.Start(ctx, "Redeem",
		trace.WithAttributes(
			attribute.String("coupon.code", coupon.NormalizeCode(req.CouponCode)),
			attribute.String("order.id", req.OrderID),
		),
	)
	defer span.End()

	c, q, err := s.quote(ctx, req)
	if err != nil {
		return Quote{}, err
	}
	if !q.Eligible {
		return q, nil
	}

	err = s.ledger.Reserve(ctx, req.TenantID, c.ID, req.OrderID, q.Discount)
	if err != nil {
		if errors.Is(err, coupon.ErrUsageExhausted) {
			return Quote{}, ErrReservationLost
		}
		return Quote{}, errors.Wrap(err, "reserve redemption")
	}

	return q, nil
}

// quote is the shared evaluate-and-compute step. A missing coupon is an
// ineligible quote, not an error: invalid codes are an expected outcome at
// the checkout surface.
func (s *Service) quote(ctx context.Context, req Request) (*coupon.Coupon, Quote, error) {
	c, err := s.coupons.FindByCode(ctx, req.TenantID, req.CouponCode)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			return nil, Quote{Reason: ReasonInvalidCode, Total: req.Subtotal.Round(2)}, nil
		}
		return nil, Quote{}, errors.Wrap(err, "lookup coupon")
	}

	at := req.OccursAt
	if at.IsZero() {
		at = s.now()
	}

	order := coupon.OrderContext{Subtotal: req.Subtotal, ServiceIDs: req.ServiceIDs}
	res := coupon.Evaluate(c, order, at)
	if !res.Eligible {
		return c, Quote{Reason: res.Reason, Total: req.Subtotal.Round(2)}, nil
	}

	discount := coupon.ComputeDiscount(c, req.Subtotal)
	total := req.Subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return c, Quote{
		Eligible: true,
		Discount: discount,
		Total:    total.Round(2),
	}, nil
}
