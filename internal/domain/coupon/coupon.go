// Package coupon holds the coupon domain model: the discount rule itself,
// eligibility evaluation, and discount calculation. Evaluation and
// calculation are pure; persistence and usage accounting live behind the
// Registry and Ledger interfaces.
package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported discount variants. The set is closed:
// ComputeDiscount switches on it exhaustively and treats anything else as a
// zero discount.
type Type string

const (
	// TypeFixed subtracts a fixed monetary amount, capped at the subtotal.
	TypeFixed Type = "FIXED"
	// TypePercent subtracts a percentage of the subtotal, optionally capped
	// by MaxDiscount.
	TypePercent Type = "PERCENT"
)

var (
	// ErrNotFound is returned when no coupon matches a code or id lookup.
	ErrNotFound = errors.New("coupon not found")
	// ErrUsageExhausted is returned by Ledger.Reserve when a concurrent
	// redemption consumed the last remaining use. Callers must recompute the
	// order without the discount and surface the failure, never absorb it.
	ErrUsageExhausted = errors.New("coupon usage limit exhausted")
)

// ValidationError reports a malformed coupon specification at create or
// update time. It is never retried.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return "invalid coupon: " + e.Field + ": " + e.Detail
}

// Coupon is a tenant-scoped discount rule.
type Coupon struct {
	ID          string
	TenantID    string
	Code        string
	Type        Type
	Value       decimal.Decimal
	Description string

	// MinPurchase gates application on the order subtotal. Nil means no floor.
	MinPurchase *decimal.Decimal
	// MaxDiscount caps the computed discount. Only meaningful for PERCENT;
	// a FIXED discount can never exceed its own value.
	MaxDiscount *decimal.Decimal

	// UsageLimit bounds total redemptions. Nil means unlimited. UsageCount
	// is mutated exclusively through Ledger.Reserve.
	UsageLimit *int
	UsageCount int

	Active    bool
	ExpiresAt time.Time

	// Services restricts the coupon to specific service/product IDs.
	// Empty means the coupon applies to every service.
	Services []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeCode upper-cases and trims a human-entered coupon code. Codes are
// stored and compared in this form, making lookup case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// DefaultValidity is applied when a Spec carries no expiry, matching the
// admin console's one-year default.
const DefaultValidity = 365 * 24 * time.Hour

// Spec describes a coupon to create.
type Spec struct {
	TenantID    string
	Code        string
	Type        Type
	Value       decimal.Decimal
	Description string
	MinPurchase *decimal.Decimal
	MaxDiscount *decimal.Decimal
	UsageLimit  *int
	Active      bool
	// ExpiresAt defaults to DefaultValidity from now when zero.
	ExpiresAt time.Time
	Services  []string
}

// Validate checks the field invariants, returning a *ValidationError for the
// first violation found.
func (s *Spec) Validate() error {
	if NormalizeCode(s.Code) == "" {
		return &ValidationError{Field: "code", Detail: "must not be empty"}
	}
	switch s.Type {
	case TypeFixed, TypePercent:
	default:
		return &ValidationError{Field: "type", Detail: `must be "FIXED" or "PERCENT"`}
	}
	if s.Value.IsNegative() {
		return &ValidationError{Field: "value", Detail: "must not be negative"}
	}
	if s.Type == TypePercent && s.Value.GreaterThan(decimal.NewFromInt(100)) {
		return &ValidationError{Field: "value", Detail: "percent value must be at most 100"}
	}
	if s.MinPurchase != nil && s.MinPurchase.IsNegative() {
		return &ValidationError{Field: "minPurchaseAmount", Detail: "must not be negative"}
	}
	if s.MaxDiscount != nil && s.MaxDiscount.IsNegative() {
		return &ValidationError{Field: "maxDiscountAmount", Detail: "must not be negative"}
	}
	if s.UsageLimit != nil && *s.UsageLimit <= 0 {
		return &ValidationError{Field: "usageLimit", Detail: "must be positive"}
	}
	return nil
}

// Patch describes a partial coupon update. Nil fields are left untouched.
// Optional coupon fields are set-only through a patch: once MinPurchase,
// MaxDiscount, or UsageLimit hold a value, a patch can change it but not
// clear it back to unset. UsageCount is intentionally absent: it moves only
// through the Ledger.
type Patch struct {
	Code        *string
	Type        *Type
	Value       *decimal.Decimal
	Description *string
	MinPurchase *decimal.Decimal
	MaxDiscount *decimal.Decimal
	UsageLimit  *int
	Active      *bool
	ExpiresAt   *time.Time
	Services    []string
}

// Apply returns the spec that would result from applying the patch to c,
// so the patched coupon can be validated as a whole before anything is
// written. Nil patch fields carry over c's stored values.
func (p Patch) Apply(c *Coupon) Spec {
	s := Spec{
		TenantID:    c.TenantID,
		Code:        c.Code,
		Type:        c.Type,
		Value:       c.Value,
		Description: c.Description,
		MinPurchase: c.MinPurchase,
		MaxDiscount: c.MaxDiscount,
		UsageLimit:  c.UsageLimit,
		Active:      c.Active,
		ExpiresAt:   c.ExpiresAt,
		Services:    c.Services,
	}
	if p.Code != nil {
		s.Code = *p.Code
	}
	if p.Type != nil {
		s.Type = *p.Type
	}
	if p.Value != nil {
		s.Value = *p.Value
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.MinPurchase != nil {
		s.MinPurchase = p.MinPurchase
	}
	if p.MaxDiscount != nil {
		s.MaxDiscount = p.MaxDiscount
	}
	if p.UsageLimit != nil {
		s.UsageLimit = p.UsageLimit
	}
	if p.Active != nil {
		s.Active = *p.Active
	}
	if p.ExpiresAt != nil {
		s.ExpiresAt = *p.ExpiresAt
	}
	if p.Services != nil {
		s.Services = p.Services
	}
	return s
}

// Registry owns coupon records and their lifecycle. All lookups are scoped
// to a tenant; code lookup is case-insensitive.
type Registry interface {
	FindByCode(ctx context.Context, tenantID, code string) (*Coupon, error)
	FindByID(ctx context.Context, tenantID, id string) (*Coupon, error)
	List(ctx context.Context, tenantID string, limit, offset int) ([]Coupon, error)
	Create(ctx context.Context, spec Spec) (*Coupon, error)
	Update(ctx context.Context, tenantID, id string, patch Patch) (*Coupon, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// Ledger tracks redemptions. Reserve performs the atomic check-and-increment
// of UsageCount against UsageLimit as a single conditional step against the
// backing store; under concurrent redemptions racing for the last use, at
// most one call succeeds. There is no release operation: cancellations do
// not return a use.
type Ledger interface {
	Reserve(ctx context.Context, tenantID, couponID, orderID string, amount decimal.Decimal) error
}
