package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/tenantly/coupon-engine/internal/domain/auth"
	"github.com/tenantly/coupon-engine/internal/domain/checkout"
	"github.com/tenantly/coupon-engine/internal/inmem"
)

const (
	testTenant = "tenant-1"
	testKey    = "test-api-key"
	testPepper = "pepper"
)

type staticAPIKeys struct {
	hash string
}

func (s *staticAPIKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if hash != s.hash {
		return nil, auth.ErrKeyNotFound
	}
	return &auth.APIKeyInfo{ID: "k1", KeyHash: hash, Name: "test"}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *inmem.Store) {
	t.Helper()

	store := inmem.NewStore()
	svc := checkout.NewService(store, store, tracenoop.NewTracerProvider())
	h, err := NewHandler(store, svc, metricnoop.NewMeterProvider())
	require.NoError(t, err)

	adminAuth := APIKeyAuth(&staticAPIKeys{hash: auth.HashKey([]byte(testPepper), testKey)}, []byte(testPepper))
	srv := httptest.NewServer(h.Routes(adminAuth))
	t.Cleanup(srv.Close)
	return srv, store
}

func doRequest(t *testing.T, method, url string, body any, headers map[string]string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func adminHeaders() map[string]string {
	return map[string]string{
		"X-Tenant-ID": testTenant,
		"X-API-Key":   testKey,
	}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createCoupon(t *testing.T, srv *httptest.Server, body map[string]any) couponResponse {
	t.Helper()
	resp := doRequest(t, http.MethodPost, srv.URL+"/coupons", body, adminHeaders())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[couponResponse](t, resp)
}

func TestCreateCoupon(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("valid coupon is created with normalized code", func(t *testing.T) {
		created := createCoupon(t, srv, map[string]any{
			"code":   "welcome10",
			"type":   "PERCENT",
			"value":  10,
			"active": true,
		})
		assert.Equal(t, "WELCOME10", created.Code)
		assert.Equal(t, "PERCENT", created.Type)
		assert.NotEmpty(t, created.ID)
		assert.NotEmpty(t, created.ExpiresAt, "expiry defaults when unset")
	})

	t.Run("duplicate code is a validation failure", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, srv.URL+"/coupons", map[string]any{
			"code": "Welcome10", "type": "PERCENT", "value": 10, "active": true,
		}, adminHeaders())
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("empty code is rejected", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, srv.URL+"/coupons", map[string]any{
			"code": "", "type": "FIXED", "value": 5, "active": true,
		}, adminHeaders())
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("negative value is rejected", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, srv.URL+"/coupons", map[string]any{
			"code": "NEG", "type": "FIXED", "value": -5, "active": true,
		}, adminHeaders())
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("missing tenant header", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, srv.URL+"/coupons", map[string]any{
			"code": "NOTENANT", "type": "FIXED", "value": 5, "active": true,
		}, map[string]string{"X-API-Key": testKey})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAdminAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("missing key", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, srv.URL+"/coupons", nil,
			map[string]string{"X-Tenant-ID": testTenant})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong key", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, srv.URL+"/coupons", nil,
			map[string]string{"X-Tenant-ID": testTenant, "X-API-Key": "nope"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("checkout endpoints do not require the admin key", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, srv.URL+"/checkout/quote", map[string]any{
			"couponCode": "ANY", "subtotal": 10,
		}, map[string]string{"X-Tenant-ID": testTenant})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestCouponLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	created := createCoupon(t, srv, map[string]any{
		"code": "SPRING", "type": "FIXED", "value": 7.5, "active": true,
	})

	t.Run("get", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, srv.URL+"/coupons/"+created.ID, nil, adminHeaders())
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decode[couponResponse](t, resp)
		assert.Equal(t, "SPRING", got.Code)
		assert.InDelta(t, 7.5, got.Value, 1e-9)
	})

	t.Run("update patches only supplied fields", func(t *testing.T) {
		resp := doRequest(t, http.MethodPut, srv.URL+"/coupons/"+created.ID,
			map[string]any{"active": false}, adminHeaders())
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decode[couponResponse](t, resp)
		assert.False(t, got.Active)
		assert.Equal(t, "SPRING", got.Code)
	})

	t.Run("update to percent above 100 is rejected", func(t *testing.T) {
		resp := doRequest(t, http.MethodPut, srv.URL+"/coupons/"+created.ID,
			map[string]any{"type": "PERCENT", "value": 150}, adminHeaders())
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("rejected update leaves the coupon unchanged", func(t *testing.T) {
		resp := doRequest(t, http.MethodPut, srv.URL+"/coupons/"+created.ID,
			map[string]any{"code": "SUMMER", "value": -3}, adminHeaders())
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		resp = doRequest(t, http.MethodGet, srv.URL+"/coupons/"+created.ID, nil, adminHeaders())
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decode[couponResponse](t, resp)
		assert.Equal(t, "SPRING", got.Code)
		assert.InDelta(t, 7.5, got.Value, 1e-9)
	})

	t.Run("list", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, srv.URL+"/coupons", nil, adminHeaders())
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decode[[]couponResponse](t, resp)
		assert.Len(t, got, 1)
	})

	t.Run("delete", func(t *testing.T) {
		resp := doRequest(t, http.MethodDelete, srv.URL+"/coupons/"+created.ID, nil, adminHeaders())
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doRequest(t, http.MethodDelete, srv.URL+"/coupons/"+created.ID, nil, adminHeaders())
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("get unknown id", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, srv.URL+"/coupons/nope", nil, adminHeaders())
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestQuoteCoupon(t *testing.T) {
	srv, _ := newTestServer(t)

	createCoupon(t, srv, map[string]any{
		"code": "TENOFF", "type": "PERCENT", "value": 10,
		"maxDiscountAmount": 5, "active": true,
	})
	createCoupon(t, srv, map[string]any{
		"code": "BIGSPENDER", "type": "FIXED", "value": 25,
		"minPurchaseAmount": 50, "active": true,
	})
	createCoupon(t, srv, map[string]any{
		"code": "HAIRCUTS", "type": "PERCENT", "value": 20,
		"applicableServices": []string{"svc-1"}, "active": true,
	})

	tenantOnly := map[string]string{"X-Tenant-ID": testTenant}

	tests := []struct {
		name         string
		body         map[string]any
		wantEligible bool
		wantReason   string
		wantDiscount float64
		wantTotal    float64
	}{
		{
			name:         "percent capped by max discount",
			body:         map[string]any{"couponCode": "TENOFF", "subtotal": 100},
			wantEligible: true,
			wantDiscount: 5,
			wantTotal:    95,
		},
		{
			name:       "below minimum purchase",
			body:       map[string]any{"couponCode": "BIGSPENDER", "subtotal": 40},
			wantReason: "BELOW_MIN_PURCHASE",
			wantTotal:  40,
		},
		{
			name:         "fixed discount capped at subtotal",
			body:         map[string]any{"couponCode": "BIGSPENDER", "subtotal": 50},
			wantEligible: true,
			wantDiscount: 25,
			wantTotal:    25,
		},
		{
			name:       "service restriction without match",
			body:       map[string]any{"couponCode": "HAIRCUTS", "subtotal": 30, "serviceIds": []string{"svc-2"}},
			wantReason: "SERVICE_NOT_APPLICABLE",
			wantTotal:  30,
		},
		{
			name:         "service restriction with match",
			body:         map[string]any{"couponCode": "HAIRCUTS", "subtotal": 30, "serviceIds": []string{"svc-1", "svc-2"}},
			wantEligible: true,
			wantDiscount: 6,
			wantTotal:    24,
		},
		{
			name:       "unknown code",
			body:       map[string]any{"couponCode": "NOSUCH", "subtotal": 30},
			wantReason: "INVALID_CODE",
			wantTotal:  30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, srv.URL+"/checkout/quote", tt.body, tenantOnly)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			got := decode[checkoutResponse](t, resp)

			assert.Equal(t, tt.wantEligible, got.Eligible)
			assert.Equal(t, tt.wantReason, got.Reason)
			require.NotNil(t, got.Total)
			assert.InDelta(t, tt.wantTotal, *got.Total, 1e-9)
			if tt.wantEligible {
				require.NotNil(t, got.Discount)
				assert.InDelta(t, tt.wantDiscount, *got.Discount, 1e-9)
			}
		})
	}
}

func TestRedeemCoupon(t *testing.T) {
	srv, store := newTestServer(t)
	tenantOnly := map[string]string{"X-Tenant-ID": testTenant}

	created := createCoupon(t, srv, map[string]any{
		"code": "ONESHOT", "type": "FIXED", "value": 5,
		"usageLimit": 1, "active": true,
	})

	t.Run("first redemption succeeds and consumes usage", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, srv.URL+"/checkout/redeem", map[string]any{
			"couponCode": "ONESHOT", "orderId": "ord-1", "subtotal": 20,
		}, tenantOnly)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decode[checkoutResponse](t, resp)
		assert.True(t, got.Eligible)

		require.Len(t, store.Redemptions(testTenant, created.ID), 1)
	})

	t.Run("second redemption reports the exhausted limit", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, srv.URL+"/checkout/redeem", map[string]any{
			"couponCode": "ONESHOT", "orderId": "ord-2", "subtotal": 20,
		}, tenantOnly)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decode[checkoutResponse](t, resp)
		assert.False(t, got.Eligible)
		assert.Equal(t, "USAGE_LIMIT_REACHED", got.Reason)
	})

	t.Run("missing order id", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, srv.URL+"/checkout/redeem", map[string]any{
			"couponCode": "ONESHOT", "subtotal": 20,
		}, tenantOnly)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("quote after exhaustion stays side-effect free", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, srv.URL+"/checkout/quote", map[string]any{
			"couponCode": "ONESHOT", "subtotal": 20,
		}, tenantOnly)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decode[checkoutResponse](t, resp)
		assert.False(t, got.Eligible)
		assert.Equal(t, "USAGE_LIMIT_REACHED", got.Reason)
		assert.Len(t, store.Redemptions(testTenant, created.ID), 1)
	})

	t.Run("expired coupon reports EXPIRED", func(t *testing.T) {
		createCoupon(t, srv, map[string]any{
			"code": "OLDNEWS", "type": "FIXED", "value": 5, "active": true,
			"expiresAt": time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
		})
		resp := doRequest(t, http.MethodPost, srv.URL+"/checkout/redeem", map[string]any{
			"couponCode": "OLDNEWS", "orderId": "ord-3", "subtotal": 20,
		}, tenantOnly)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decode[checkoutResponse](t, resp)
		assert.Equal(t, "EXPIRED", got.Reason)
	})
}
