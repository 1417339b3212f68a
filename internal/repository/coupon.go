// Package repository provides the PostgreSQL-backed implementations of the
// coupon Registry, the usage Ledger, and API key lookup.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tenantly/coupon-engine/internal/domain/coupon"
)

const (
	couponColumns = `id, tenant_id, code, discount_type, value, description,
		min_purchase, max_discount, usage_limit, usage_count, active,
		expires_at, applicable_services, created_at, updated_at`

	findCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE tenant_id = $1 AND code = $2`

	findCouponByIDSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE tenant_id = $1 AND id = $2`

	listCouponsSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	createCouponSQL = `INSERT INTO coupons (id, tenant_id, code, discount_type,
		value, description, min_purchase, max_discount, usage_limit, active,
		expires_at, applicable_services)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + couponColumns

	updateCouponSQL = `UPDATE coupons SET
		code = COALESCE($3, code),
		discount_type = COALESCE($4, discount_type),
		value = COALESCE($5, value),
		description = COALESCE($6, description),
		min_purchase = COALESCE($7, min_purchase),
		max_discount = COALESCE($8, max_discount),
		usage_limit = COALESCE($9, usage_limit),
		active = COALESCE($10, active),
		expires_at = COALESCE($11, expires_at),
		applicable_services = COALESCE($12, applicable_services),
		updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING ` + couponColumns

	deleteCouponSQL = `DELETE FROM coupons WHERE tenant_id = $1 AND id = $2`

	upsertCouponSQL = `INSERT INTO coupons (id, tenant_id, code, discount_type,
		value, description, min_purchase, max_discount, usage_limit, active,
		expires_at, applicable_services)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id, code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			description = EXCLUDED.description,
			min_purchase = EXCLUDED.min_purchase,
			max_discount = EXCLUDED.max_discount,
			usage_limit = EXCLUDED.usage_limit,
			active = EXCLUDED.active,
			expires_at = EXCLUDED.expires_at,
			applicable_services = EXCLUDED.applicable_services,
			updated_at = now()`
)

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

var _ coupon.Registry = (*CouponRepository)(nil)

// CouponRepository implements coupon.Registry backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code, case-insensitively. Codes are
// stored normalized, so the parameter is normalized before the query.
// Returns coupon.ErrNotFound when no coupon matches.
func (r *CouponRepository) FindByCode(ctx context.Context, tenantID, code string) (*coupon.Coupon, error) {
	return r.findOne(ctx, findCouponByCodeSQL, tenantID, coupon.NormalizeCode(code))
}

// FindByID looks up a coupon by its id within the tenant.
func (r *CouponRepository) FindByID(ctx context.Context, tenantID, id string) (*coupon.Coupon, error) {
	return r.findOne(ctx, findCouponByIDSQL, tenantID, id)
}

func (r *CouponRepository) findOne(ctx context.Context, sql string, args ...any) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("finding coupon: %w", err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon: %w", err)
	}
	return &c, nil
}

// List returns the tenant's coupons, newest first.
func (r *CouponRepository) List(ctx context.Context, tenantID string, limit, offset int) ([]coupon.Coupon, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, listCouponsSQL, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing coupons for tenant %q: %w", tenantID, err)
	}

	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing coupons for tenant %q: %w", tenantID, err)
	}
	return coupons, nil
}

// Create validates and persists a new coupon. A duplicate code within the
// tenant is reported as a ValidationError rather than a bare constraint
// failure.
func (r *CouponRepository) Create(ctx context.Context, spec coupon.Spec) (*coupon.Coupon, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, createCouponSQL, upsertArgs(spec)...)
	if err != nil {
		return nil, fmt.Errorf("creating coupon %q: %w", spec.Code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, &coupon.ValidationError{Field: "code", Detail: "already exists"}
		}
		return nil, fmt.Errorf("creating coupon %q: %w", spec.Code, err)
	}
	return &c, nil
}

// Update applies a partial patch. Nil patch fields keep their stored values.
// The current row is read first so the patched coupon can be validated as a
// whole, including cross-field invariants such as the percent value bound.
// usage_count is never touched here: it moves only through the ledger.
func (r *CouponRepository) Update(ctx context.Context, tenantID, id string, patch coupon.Patch) (*coupon.Coupon, error) {
	current, err := r.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	spec := patch.Apply(current)
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	if patch.Code != nil {
		normalized := coupon.NormalizeCode(*patch.Code)
		patch.Code = &normalized
	}
	var typeStr *string
	if patch.Type != nil {
		s := string(*patch.Type)
		typeStr = &s
	}

	rows, err := r.pool.Query(ctx, updateCouponSQL,
		tenantID, id,
		patch.Code, typeStr, patch.Value, patch.Description,
		patch.MinPurchase, patch.MaxDiscount, patch.UsageLimit,
		patch.Active, patch.ExpiresAt, patch.Services,
	)
	if err != nil {
		return nil, fmt.Errorf("updating coupon %q: %w", id, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, &coupon.ValidationError{Field: "code", Detail: "already exists"}
		}
		return nil, fmt.Errorf("updating coupon %q: %w", id, err)
	}
	return &c, nil
}

// Delete removes a coupon outright. Deleting an id that does not exist in
// the tenant returns coupon.ErrNotFound.
func (r *CouponRepository) Delete(ctx context.Context, tenantID, id string) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, tenantID, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Upsert inserts or replaces a coupon by (tenant, code). Used by the bulk
// ingest and seed tools; not part of the Registry contract.
func (r *CouponRepository) Upsert(ctx context.Context, spec coupon.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	_, err := r.pool.Exec(ctx, upsertCouponSQL, upsertArgs(spec)...)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", spec.Code, err)
	}
	return nil
}

func upsertArgs(spec coupon.Spec) []any {
	expiresAt := spec.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(coupon.DefaultValidity)
	}
	services := spec.Services
	if services == nil {
		services = []string{}
	}

	return []any{
		uuid.New().String(), spec.TenantID, coupon.NormalizeCode(spec.Code),
		string(spec.Type), spec.Value, spec.Description,
		spec.MinPurchase, spec.MaxDiscount, spec.UsageLimit, spec.Active,
		expiresAt, services,
	}
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		value        decimal.Decimal
		minPurchase  *decimal.Decimal
		maxDiscount  *decimal.Decimal
		usageLimit   *int32
		usageCount   int32
	)
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Code, &discountType, &value, &c.Description,
		&minPurchase, &maxDiscount, &usageLimit, &usageCount, &c.Active,
		&c.ExpiresAt, &c.Services, &c.CreatedAt, &c.UpdatedAt,
	)
	c.Type = coupon.Type(discountType)
	c.Value = value
	c.MinPurchase = minPurchase
	c.MaxDiscount = maxDiscount
	if usageLimit != nil {
		limit := int(*usageLimit)
		c.UsageLimit = &limit
	}
	c.UsageCount = int(usageCount)
	return c, err
}
