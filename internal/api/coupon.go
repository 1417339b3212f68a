package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tenantly/coupon-engine/internal/domain/coupon"
)

// couponRequest is the admin-facing coupon create/update body. Monetary
// fields arrive as JSON numbers; `type` uses the literal strings FIXED and
// PERCENT.
type couponRequest struct {
	Code               string   `json:"code"`
	Type               string   `json:"type"`
	Value              float64  `json:"value"`
	Description        string   `json:"description,omitempty"`
	MinPurchaseAmount  *float64 `json:"minPurchaseAmount,omitempty"`
	MaxDiscountAmount  *float64 `json:"maxDiscountAmount,omitempty"`
	UsageLimit         *int     `json:"usageLimit,omitempty"`
	Active             bool     `json:"active"`
	ExpiresAt          string   `json:"expiresAt,omitempty"`
	ApplicableServices []string `json:"applicableServices,omitempty"`
}

type couponResponse struct {
	ID                 string   `json:"id"`
	Code               string   `json:"code"`
	Type               string   `json:"type"`
	Value              float64  `json:"value"`
	Description        string   `json:"description,omitempty"`
	MinPurchaseAmount  *float64 `json:"minPurchaseAmount,omitempty"`
	MaxDiscountAmount  *float64 `json:"maxDiscountAmount,omitempty"`
	UsageLimit         *int     `json:"usageLimit,omitempty"`
	UsageCount         int      `json:"usageCount"`
	Active             bool     `json:"active"`
	ExpiresAt          string   `json:"expiresAt"`
	ApplicableServices []string `json:"applicableServices"`
	CreatedAt          string   `json:"createdAt"`
	UpdatedAt          string   `json:"updatedAt"`
}

func toCouponResponse(c *coupon.Coupon) couponResponse {
	resp := couponResponse{
		ID:                 c.ID,
		Code:               c.Code,
		Type:               string(c.Type),
		Value:              c.Value.InexactFloat64(),
		Description:        c.Description,
		UsageLimit:         c.UsageLimit,
		UsageCount:         c.UsageCount,
		Active:             c.Active,
		ExpiresAt:          c.ExpiresAt.UTC().Format(time.RFC3339),
		ApplicableServices: c.Services,
		CreatedAt:          c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          c.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if resp.ApplicableServices == nil {
		resp.ApplicableServices = []string{}
	}
	if c.MinPurchase != nil {
		v := c.MinPurchase.InexactFloat64()
		resp.MinPurchaseAmount = &v
	}
	if c.MaxDiscount != nil {
		v := c.MaxDiscount.InexactFloat64()
		resp.MaxDiscountAmount = &v
	}
	return resp
}

// CreateCoupon handles POST /coupons.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var req couponRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var expiresAt time.Time
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "expiresAt must be RFC 3339")
			return
		}
		expiresAt = t
	}

	spec := coupon.Spec{
		TenantID:    tenant,
		Code:        req.Code,
		Type:        coupon.Type(req.Type),
		Value:       decimal.NewFromFloat(req.Value),
		Description: req.Description,
		MinPurchase: floatToDecimal(req.MinPurchaseAmount),
		MaxDiscount: floatToDecimal(req.MaxDiscountAmount),
		UsageLimit:  req.UsageLimit,
		Active:      req.Active,
		ExpiresAt:   expiresAt,
		Services:    req.ApplicableServices,
	}

	created, err := h.coupons.Create(r.Context(), spec)
	if err != nil {
		h.writeCouponError(w, r, err)
		return
	}

	zctx.From(r.Context()).Info("coupon created",
		zap.String("tenant", tenant),
		zap.String("code", created.Code),
	)
	writeJSON(w, r, http.StatusCreated, toCouponResponse(created))
}

// ListCoupons handles GET /coupons with limit/offset pagination.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	coupons, err := h.coupons.List(r.Context(), tenant, limit, offset)
	if err != nil {
		h.writeCouponError(w, r, err)
		return
	}

	out := make([]couponResponse, 0, len(coupons))
	for i := range coupons {
		out = append(out, toCouponResponse(&coupons[i]))
	}
	writeJSON(w, r, http.StatusOK, out)
}

// GetCoupon handles GET /coupons/{id}.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}

	c, err := h.coupons.FindByID(r.Context(), tenant, chi.URLParam(r, "id"))
	if err != nil {
		h.writeCouponError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toCouponResponse(c))
}

// UpdateCoupon handles PUT /coupons/{id}. The body uses patch semantics:
// absent fields keep their stored values. Usage count is not patchable.
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var req struct {
		Code               *string  `json:"code,omitempty"`
		Type               *string  `json:"type,omitempty"`
		Value              *float64 `json:"value,omitempty"`
		Description        *string  `json:"description,omitempty"`
		MinPurchaseAmount  *float64 `json:"minPurchaseAmount,omitempty"`
		MaxDiscountAmount  *float64 `json:"maxDiscountAmount,omitempty"`
		UsageLimit         *int     `json:"usageLimit,omitempty"`
		Active             *bool    `json:"active,omitempty"`
		ExpiresAt          *string  `json:"expiresAt,omitempty"`
		ApplicableServices []string `json:"applicableServices,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	patch := coupon.Patch{
		Code:        req.Code,
		Value:       floatToDecimal(req.Value),
		Description: req.Description,
		MinPurchase: floatToDecimal(req.MinPurchaseAmount),
		MaxDiscount: floatToDecimal(req.MaxDiscountAmount),
		UsageLimit:  req.UsageLimit,
		Active:      req.Active,
		Services:    req.ApplicableServices,
	}
	if req.Type != nil {
		t := coupon.Type(*req.Type)
		patch.Type = &t
	}
	if req.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "expiresAt must be RFC 3339")
			return
		}
		patch.ExpiresAt = &t
	}

	updated, err := h.coupons.Update(r.Context(), tenant, chi.URLParam(r, "id"), patch)
	if err != nil {
		h.writeCouponError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toCouponResponse(updated))
}

// DeleteCoupon handles DELETE /coupons/{id}. Deleting a missing id is a 404,
// not a silent success.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	tenant, ok := requireTenant(w, r)
	if !ok {
		return
	}

	if err := h.coupons.Delete(r.Context(), tenant, chi.URLParam(r, "id")); err != nil {
		h.writeCouponError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeCouponError maps domain errors to HTTP statuses: validation failures
// are 422, missing coupons 404, everything else a logged 500.
func (h *Handler) writeCouponError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *coupon.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusUnprocessableEntity, verr.Error())
	case errors.Is(err, coupon.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "coupon not found")
	default:
		zctx.From(r.Context()).Error("coupon request failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func floatToDecimal(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
