// Package inmem provides a mutex-guarded, in-process implementation of the
// coupon Registry and Ledger. It backs the memory storage mode used for
// local development and exercises the same contracts as the PostgreSQL
// implementation, including the atomic reserve semantics.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tenantly/coupon-engine/internal/domain/coupon"
)

var (
	_ coupon.Registry = (*Store)(nil)
	_ coupon.Ledger   = (*Store)(nil)
)

// Redemption is one recorded use of a coupon.
type Redemption struct {
	TenantID   string
	CouponID   string
	OrderID    string
	Amount     decimal.Decimal
	RedeemedAt time.Time
}

type key struct {
	tenantID string
	code     string
}

// Store keeps coupons and redemptions in process memory. All methods are
// safe for concurrent use; Reserve performs its check-and-increment under
// the store lock, so the usage limit holds under concurrent redemptions.
type Store struct {
	mu          sync.Mutex
	byID        map[string]*coupon.Coupon
	byCode      map[key]string
	redemptions []Redemption
	now         func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		byID:   make(map[string]*coupon.Coupon),
		byCode: make(map[key]string),
		now:    time.Now,
	}
}

// FindByCode looks up a coupon by normalized code within the tenant.
func (s *Store) FindByCode(_ context.Context, tenantID, code string) (*coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCode[key{tenantID, coupon.NormalizeCode(code)}]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return copyCoupon(s.byID[id]), nil
}

// FindByID looks up a coupon by id within the tenant.
func (s *Store) FindByID(_ context.Context, tenantID, id string) (*coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok || c.TenantID != tenantID {
		return nil, coupon.ErrNotFound
	}
	return copyCoupon(c), nil
}

// List returns the tenant's coupons, newest first.
func (s *Store) List(_ context.Context, tenantID string, limit, offset int) ([]coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	var all []coupon.Coupon
	for _, c := range s.byID {
		if c.TenantID == tenantID {
			all = append(all, *copyCoupon(c))
		}
	}
	sortByCreatedDesc(all)

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// Create validates and stores a new coupon.
func (s *Store) Create(_ context.Context, spec coupon.Spec) (*coupon.Coupon, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	code := coupon.NormalizeCode(spec.Code)
	k := key{spec.TenantID, code}
	if _, exists := s.byCode[k]; exists {
		return nil, &coupon.ValidationError{Field: "code", Detail: "already exists"}
	}

	now := s.now()
	expiresAt := spec.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(coupon.DefaultValidity)
	}

	c := &coupon.Coupon{
		ID:          uuid.New().String(),
		TenantID:    spec.TenantID,
		Code:        code,
		Type:        spec.Type,
		Value:       spec.Value,
		Description: spec.Description,
		MinPurchase: spec.MinPurchase,
		MaxDiscount: spec.MaxDiscount,
		UsageLimit:  spec.UsageLimit,
		Active:      spec.Active,
		ExpiresAt:   expiresAt,
		Services:    append([]string(nil), spec.Services...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.byID[c.ID] = c
	s.byCode[k] = c.ID
	return copyCoupon(c), nil
}

// Update applies a partial patch; nil fields keep their stored values.
// The patched coupon is validated as a whole before any field is written,
// so a rejected patch leaves the stored coupon untouched.
func (s *Store) Update(_ context.Context, tenantID, id string, patch coupon.Patch) (*coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok || c.TenantID != tenantID {
		return nil, coupon.ErrNotFound
	}

	spec := patch.Apply(c)
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	code := coupon.NormalizeCode(spec.Code)
	if other, exists := s.byCode[key{tenantID, code}]; exists && other != id {
		return nil, &coupon.ValidationError{Field: "code", Detail: "already exists"}
	}

	delete(s.byCode, key{tenantID, c.Code})
	s.byCode[key{tenantID, code}] = id
	c.Code = code
	c.Type = spec.Type
	c.Value = spec.Value
	c.Description = spec.Description
	c.MinPurchase = spec.MinPurchase
	c.MaxDiscount = spec.MaxDiscount
	c.UsageLimit = spec.UsageLimit
	c.Active = spec.Active
	c.ExpiresAt = spec.ExpiresAt
	c.Services = append([]string(nil), spec.Services...)
	c.UpdatedAt = s.now()

	return copyCoupon(c), nil
}

// Delete removes a coupon outright; missing ids fail loud with ErrNotFound.
func (s *Store) Delete(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok || c.TenantID != tenantID {
		return coupon.ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byCode, key{tenantID, c.Code})
	return nil
}

// Reserve consumes one use of the coupon. The check against the usage limit
// and the increment happen under one lock acquisition, so two redemptions
// racing for the last use serialize and exactly one succeeds.
func (s *Store) Reserve(_ context.Context, tenantID, couponID, orderID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[couponID]
	if !ok || c.TenantID != tenantID {
		return coupon.ErrNotFound
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return coupon.ErrUsageExhausted
	}

	c.UsageCount++
	c.UpdatedAt = s.now()
	s.redemptions = append(s.redemptions, Redemption{
		TenantID:   tenantID,
		CouponID:   couponID,
		OrderID:    orderID,
		Amount:     amount,
		RedeemedAt: s.now(),
	})
	return nil
}

// Redemptions returns a snapshot of the recorded redemptions for a coupon.
func (s *Store) Redemptions(tenantID, couponID string) []Redemption {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Redemption
	for _, r := range s.redemptions {
		if r.TenantID == tenantID && r.CouponID == couponID {
			out = append(out, r)
		}
	}
	return out
}

func copyCoupon(c *coupon.Coupon) *coupon.Coupon {
	out := *c
	out.Services = append([]string(nil), c.Services...)
	return &out
}

func sortByCreatedDesc(coupons []coupon.Coupon) {
	sort.Slice(coupons, func(i, j int) bool {
		return coupons[i].CreatedAt.After(coupons[j].CreatedAt)
	})
}
