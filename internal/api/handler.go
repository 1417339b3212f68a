// Package api exposes the coupon engine over HTTP: admin CRUD for the
// storefront console and quote/redeem endpoints for the checkout workflow.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/tenantly/coupon-engine/internal/domain/checkout"
	"github.com/tenantly/coupon-engine/internal/domain/coupon"
)

// tenantHeader carries the caller-resolved tenant id. The engine does not
// resolve tenancy itself; it only enforces that every registry lookup and
// reservation is scoped to the supplied tenant.
const tenantHeader = "X-Tenant-ID"

// Handler serves the coupon HTTP API, delegating to the injected registry
// and checkout service.
type Handler struct {
	coupons  coupon.Registry
	checkout *checkout.Service

	quotesTotal      metric.Int64Counter
	redemptionsTotal metric.Int64Counter
}

// NewHandler constructs a Handler with the required domain dependencies.
// The meter provider may come from the application telemetry or a noop
// provider in tests.
func NewHandler(coupons coupon.Registry, checkoutSvc *checkout.Service, mp metric.MeterProvider) (*Handler, error) {
	meter := mp.Meter("api")

	quotesTotal, err := meter.Int64Counter("coupon.quotes",
		metric.WithDescription("Coupon quote evaluations served"))
	if err != nil {
		return nil, err
	}
	redemptionsTotal, err := meter.Int64Counter("coupon.redemptions",
		metric.WithDescription("Coupon redemption attempts served"))
	if err != nil {
		return nil, err
	}

	return &Handler{
		coupons:          coupons,
		checkout:         checkoutSvc,
		quotesTotal:      quotesTotal,
		redemptionsTotal: redemptionsTotal,
	}, nil
}

// Routes assembles the API router. Admin coupon management sits behind the
// given auth middleware; checkout endpoints are open to the order workflow.
func (h *Handler) Routes(adminAuth func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Route("/coupons", func(r chi.Router) {
		r.Use(adminAuth)
		r.Get("/", h.ListCoupons)
		r.Post("/", h.CreateCoupon)
		r.Get("/{id}", h.GetCoupon)
		r.Put("/{id}", h.UpdateCoupon)
		r.Delete("/{id}", h.DeleteCoupon)
	})

	r.Route("/checkout", func(r chi.Router) {
		r.Post("/quote", h.QuoteCoupon)
		r.Post("/redeem", h.RedeemCoupon)
	})

	return r
}

// errorResponse is the JSON body for all error replies.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(r.Context()).Warn("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Code: status, Message: msg})
}

// tenantID extracts the tenant from the request header. Requests without a
// tenant are rejected before touching the registry.
func tenantID(r *http.Request) string {
	return r.Header.Get(tenantHeader)
}

func requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant := tenantID(r)
	if tenant == "" {
		writeError(w, r, http.StatusBadRequest, "missing "+tenantHeader+" header")
		return "", false
	}
	return tenant, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}
