package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tenantly/coupon-engine/internal/domain/coupon"
)

const (
	// The increment is guarded by the limit comparison inside a single
	// UPDATE, so the read-check-write is one atomic step at the row level.
	// Two orders racing for the last remaining use serialize here; the loser
	// matches zero rows.
	reserveUseSQL = `UPDATE coupons
		SET usage_count = usage_count + 1, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
			AND (usage_limit IS NULL OR usage_count < usage_limit)`

	couponExistsSQL = `SELECT EXISTS (
		SELECT 1 FROM coupons WHERE tenant_id = $1 AND id = $2)`

	insertRedemptionSQL = `INSERT INTO coupon_redemptions
		(id, tenant_id, coupon_id, order_id, amount)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)`
)

var _ coupon.Ledger = (*UsageLedger)(nil)

// UsageLedger implements coupon.Ledger backed by PostgreSQL. The increment
// and the redemption audit row commit in one transaction.
type UsageLedger struct {
	pool *pgxpool.Pool
}

// NewUsageLedger returns a UsageLedger that uses the given pool.
func NewUsageLedger(pool *pgxpool.Pool) *UsageLedger {
	return &UsageLedger{pool: pool}
}

// Reserve consumes one use of the coupon for the given order. It returns
// coupon.ErrUsageExhausted when the usage limit is already reached; the
// distinction from a plain read is that the check and increment happen as a
// single conditional UPDATE, so over-redemption is impossible under
// concurrent checkouts. Returns coupon.ErrNotFound when the coupon does not
// exist in the tenant.
//
// There is no corresponding release: cancellations do not return a use.
func (l *UsageLedger) Reserve(ctx context.Context, tenantID, couponID, orderID string, amount decimal.Decimal) error {
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, reserveUseSQL, tenantID, couponID)
		if err != nil {
			return fmt.Errorf("incrementing usage: %w", err)
		}

		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, couponExistsSQL, tenantID, couponID).Scan(&exists); err != nil {
				return fmt.Errorf("checking coupon existence: %w", err)
			}
			if !exists {
				return coupon.ErrNotFound
			}
			return coupon.ErrUsageExhausted
		}

		if _, err := tx.Exec(ctx, insertRedemptionSQL, tenantID, couponID, orderID, amount); err != nil {
			return fmt.Errorf("recording redemption: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, coupon.ErrUsageExhausted) || errors.Is(err, coupon.ErrNotFound) {
			return err
		}
		return fmt.Errorf("reserving use of coupon %q for order %q: %w", couponID, orderID, err)
	}
	return nil
}
