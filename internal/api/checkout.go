package api

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/tenantly/coupon-engine/internal/domain/checkout"
)

// checkoutRequest is supplied by the order workflow: the coupon code under
// consideration and the candidate order context.
type checkoutRequest struct {
	CouponCode string   `json:"couponCode"`
	OrderID    string   `json:"orderId,omitempty"`
	Subtotal   float64  `json:"subtotal"`
	ServiceIDs []string `json:"serviceIds,omitempty"`
	OccursAt   string   `json:"occursAt,omitempty"`
}

// checkoutResponse reports eligibility and, when eligible, the discount and
// resulting total.
type checkoutResponse struct {
	Eligible bool     `json:"eligible"`
	Reason   string   `json:"reason,omitempty"`
	Discount *float64 `json:"discount,omitempty"`
	Total    *float64 `json:"total,omitempty"`
}

func toCheckoutResponse(q checkout.Quote) checkoutResponse {
	resp := checkoutResponse{
		Eligible: q.Eligible,
		Reason:   string(q.Reason),
	}
	total := q.Total.InexactFloat64()
	resp.Total = &total
	if q.Eligible {
		discount := q.Discount.InexactFloat64()
		resp.Discount = &discount
	}
	return resp
}

func (h *Handler) parseCheckoutRequest(w http.ResponseWriter, r *http.Request) (checkout.Request, bool) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return checkout.Request{}, false
	}

	var req checkoutRequest
	if !decodeBody(w, r, &req) {
		return checkout.Request{}, false
	}
	if req.CouponCode == "" {
		writeError(w, r, http.StatusBadRequest, "couponCode required")
		return checkout.Request{}, false
	}
	if req.Subtotal < 0 {
		writeError(w, r, http.StatusBadRequest, "subtotal must not be negative")
		return checkout.Request{}, false
	}

	out := checkout.Request{
		TenantID:   tenant,
		CouponCode: req.CouponCode,
		OrderID:    req.OrderID,
		Subtotal:   decimal.NewFromFloat(req.Subtotal),
		ServiceIDs: req.ServiceIDs,
	}
	if req.OccursAt != "" {
		t, err := time.Parse(time.RFC3339, req.OccursAt)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "occursAt must be RFC 3339")
			return checkout.Request{}, false
		}
		out.OccursAt = t
	}
	return out, true
}

// QuoteCoupon handles POST /checkout/quote: a side-effect-free preview that
// never consumes usage, safe to call on every cart edit.
func (h *Handler) QuoteCoupon(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseCheckoutRequest(w, r)
	if !ok {
		return
	}

	q, err := h.checkout.Quote(r.Context(), req)
	if err != nil {
		zctx.From(r.Context()).Error("quote failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	h.quotesTotal.Add(r.Context(), 1, metric.WithAttributes(
		attribute.Bool("eligible", q.Eligible),
	))
	writeJSON(w, r, http.StatusOK, toCheckoutResponse(q))
}

// RedeemCoupon handles POST /checkout/redeem, called exactly once per
// finalized order. A reservation lost to a concurrent redemption returns
// 409; the order workflow must recompute without the coupon and inform the
// user rather than proceed as if the discount applied.
func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseCheckoutRequest(w, r)
	if !ok {
		return
	}

	q, err := h.checkout.Redeem(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrMissingOrderID):
			writeError(w, r, http.StatusBadRequest, "orderId required")
		case errors.Is(err, checkout.ErrReservationLost):
			h.redemptionsTotal.Add(r.Context(), 1, metric.WithAttributes(
				attribute.String("outcome", "race_rejected"),
			))
			writeError(w, r, http.StatusConflict,
				"coupon usage limit reached by a concurrent order; re-evaluate without the coupon")
		default:
			zctx.From(r.Context()).Error("redeem failed", zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	outcome := "redeemed"
	if !q.Eligible {
		outcome = "ineligible"
	}
	h.redemptionsTotal.Add(r.Context(), 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
	writeJSON(w, r, http.StatusOK, toCheckoutResponse(q))
}
