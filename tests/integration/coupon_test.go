//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestListCoupons(t *testing.T) {
	resp := doAdmin(t, http.MethodGet, "/api/coupons", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	coupons := decodeJSON[[]couponResponse](t, resp)
	if len(coupons) != 5 {
		t.Fatalf("expected 5 seeded coupons, got %d", len(coupons))
	}
}

func TestCouponCRUD(t *testing.T) {
	// Create.
	resp := doAdmin(t, http.MethodPost, "/api/coupons", map[string]any{
		"code":              "crud-test",
		"type":              "FIXED",
		"value":             3.5,
		"minPurchaseAmount": 10,
		"active":            true,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	created := decodeJSON[couponResponse](t, resp)
	resp.Body.Close()

	if created.Code != "CRUD-TEST" {
		t.Errorf("code not normalized: got %q", created.Code)
	}

	// Read.
	resp = doAdmin(t, http.MethodGet, "/api/coupons/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Update.
	resp = doAdmin(t, http.MethodPut, "/api/coupons/"+created.ID, map[string]any{
		"active": false,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", resp.StatusCode)
	}
	updated := decodeJSON[couponResponse](t, resp)
	resp.Body.Close()

	if updated.Active {
		t.Error("coupon should be inactive after update")
	}
	if updated.MinPurchaseAmount == nil || *updated.MinPurchaseAmount != 10 {
		t.Error("untouched fields must survive a patch")
	}

	// Delete.
	resp = doAdmin(t, http.MethodDelete, "/api/coupons/"+created.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doAdmin(t, http.MethodGet, "/api/coupons/"+created.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCreateCouponValidation(t *testing.T) {
	resp := doAdmin(t, http.MethodPost, "/api/coupons", map[string]any{
		"code":   "BADPCT",
		"type":   "PERCENT",
		"value":  150,
		"active": true,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	body := decodeJSON[errorResponse](t, resp)
	if body.Message == "" {
		t.Error("validation error should carry a message")
	}
}

func TestUpdateCouponValidation(t *testing.T) {
	resp := doAdmin(t, http.MethodPost, "/api/coupons", map[string]any{
		"code":   "UPDCHECK",
		"type":   "PERCENT",
		"value":  10,
		"active": true,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	created := decodeJSON[couponResponse](t, resp)
	resp.Body.Close()

	// A percent value above 100 must be rejected at update time too.
	resp = doAdmin(t, http.MethodPut, "/api/coupons/"+created.ID, map[string]any{
		"value": 150,
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("update: expected 422, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The rejected patch must leave the stored coupon untouched.
	resp = doAdmin(t, http.MethodGet, "/api/coupons/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	got := decodeJSON[couponResponse](t, resp)
	resp.Body.Close()
	if got.Value != 10 {
		t.Errorf("value changed by a rejected patch: got %v", got.Value)
	}
}

func TestCouponDuplicateCode(t *testing.T) {
	resp := doAdmin(t, http.MethodPost, "/api/coupons", map[string]any{
		"code":   "welcome10",
		"type":   "PERCENT",
		"value":  10,
		"active": true,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for duplicate code, got %d", resp.StatusCode)
	}
}

func TestAdminRequiresAPIKey(t *testing.T) {
	resp := do(t, http.MethodGet, "/api/coupons", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without api key, got %d", resp.StatusCode)
	}
}

func TestTenantIsolation(t *testing.T) {
	req := newRequest(t, http.MethodGet, "/api/coupons", nil)
	req.Header.Set("X-Tenant-ID", "tenant-other")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer resp.Body.Close()

	coupons := decodeJSON[[]couponResponse](t, resp)
	if len(coupons) != 0 {
		t.Fatalf("another tenant must not see seeded coupons, got %d", len(coupons))
	}
}
