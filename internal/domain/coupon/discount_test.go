package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestComputeDiscount(t *testing.T) {
	tests := []struct {
		name     string
		coupon   *Coupon
		subtotal string
		want     string
	}{
		{
			name:     "fixed discount below subtotal",
			coupon:   &Coupon{Type: TypeFixed, Value: decimal.NewFromInt(25)},
			subtotal: "100",
			want:     "25",
		},
		{
			name:     "fixed discount capped at subtotal",
			coupon:   &Coupon{Type: TypeFixed, Value: decimal.NewFromInt(25)},
			subtotal: "10",
			want:     "10",
		},
		{
			name:     "percent discount",
			coupon:   &Coupon{Type: TypePercent, Value: decimal.NewFromInt(10)},
			subtotal: "100",
			want:     "10",
		},
		{
			name: "percent discount capped by max discount",
			coupon: &Coupon{
				Type:        TypePercent,
				Value:       decimal.NewFromInt(10),
				MaxDiscount: decPtr("5"),
			},
			subtotal: "100",
			want:     "5",
		},
		{
			name: "max discount above raw percent is a no-op",
			coupon: &Coupon{
				Type:        TypePercent,
				Value:       decimal.NewFromInt(10),
				MaxDiscount: decPtr("50"),
			},
			subtotal: "100",
			want:     "10",
		},
		{
			name:     "hundred percent equals subtotal",
			coupon:   &Coupon{Type: TypePercent, Value: decimal.NewFromInt(100)},
			subtotal: "49.99",
			want:     "49.99",
		},
		{
			name:     "rounding is half-up at two decimals",
			coupon:   &Coupon{Type: TypePercent, Value: decimal.NewFromInt(15)},
			subtotal: "10.03", // 1.5045 -> 1.50
			want:     "1.5",
		},
		{
			name:     "half cent rounds up",
			coupon:   &Coupon{Type: TypePercent, Value: decimal.NewFromInt(5)},
			subtotal: "10.10", // 0.505 -> 0.51
			want:     "0.51",
		},
		{
			name:     "zero subtotal yields zero",
			coupon:   &Coupon{Type: TypeFixed, Value: decimal.NewFromInt(5)},
			subtotal: "0",
			want:     "0",
		},
		{
			name:     "unknown type yields zero",
			coupon:   &Coupon{Type: Type("LOYALTY"), Value: decimal.NewFromInt(5)},
			subtotal: "100",
			want:     "0",
		},
		{
			name:     "zero value percent yields zero",
			coupon:   &Coupon{Type: TypePercent, Value: decimal.Zero},
			subtotal: "100",
			want:     "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subtotal := decimal.RequireFromString(tt.subtotal)
			got := ComputeDiscount(tt.coupon, subtotal)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got),
				"want %s, got %s", tt.want, got)
		})
	}
}

// The calculator must never produce a discount outside [0, subtotal],
// whatever the rule says.
func TestComputeDiscountBounds(t *testing.T) {
	subtotals := []string{"0", "0.01", "1", "9.99", "100", "12345.67"}
	coupons := []*Coupon{
		{Type: TypeFixed, Value: decimal.NewFromInt(1000)},
		{Type: TypePercent, Value: decimal.NewFromInt(100)},
		{Type: TypePercent, Value: decimal.NewFromInt(33), MaxDiscount: decPtr("7.50")},
		{Type: TypeFixed, Value: decimal.Zero},
	}

	for _, s := range subtotals {
		subtotal := decimal.RequireFromString(s)
		for _, c := range coupons {
			got := ComputeDiscount(c, subtotal)
			assert.False(t, got.IsNegative(), "subtotal %s: negative discount %s", s, got)
			assert.True(t, got.LessThanOrEqual(subtotal),
				"subtotal %s: discount %s exceeds subtotal", s, got)
			if c.Type == TypeFixed {
				assert.True(t, got.LessThanOrEqual(c.Value),
					"fixed discount %s exceeds value %s", got, c.Value)
			}
		}
	}
}

func TestSpecValidate(t *testing.T) {
	valid := func() Spec {
		return Spec{
			TenantID: "t1",
			Code:     "WELCOME",
			Type:     TypePercent,
			Value:    decimal.NewFromInt(10),
		}
	}

	tests := []struct {
		name      string
		mutate    func(*Spec)
		wantField string
	}{
		{name: "valid spec passes"},
		{
			name:      "empty code",
			mutate:    func(s *Spec) { s.Code = "   " },
			wantField: "code",
		},
		{
			name:      "unknown type",
			mutate:    func(s *Spec) { s.Type = "BOGOF" },
			wantField: "type",
		},
		{
			name:      "negative value",
			mutate:    func(s *Spec) { s.Value = decimal.NewFromInt(-1) },
			wantField: "value",
		},
		{
			name:      "percent above hundred",
			mutate:    func(s *Spec) { s.Value = decimal.NewFromInt(101) },
			wantField: "value",
		},
		{
			name:      "negative min purchase",
			mutate:    func(s *Spec) { s.MinPurchase = decPtr("-5") },
			wantField: "minPurchaseAmount",
		},
		{
			name:      "zero usage limit",
			mutate:    func(s *Spec) { s.UsageLimit = intPtr(0) },
			wantField: "usageLimit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := valid()
			if tt.mutate != nil {
				tt.mutate(&spec)
			}
			err := spec.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}
