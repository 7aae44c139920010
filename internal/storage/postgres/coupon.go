package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/promokit/storefront/internal/domain/coupon"
)

const (
	couponColumns = `id, code, kind, value, product_scope, category_scope,
		start_at, end_at, min_order_total, usage_limit, usage_count, active,
		created_at, updated_at`

	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE code = UPPER(TRIM($1))`

	getCouponByIDSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE id = $1`

	listCouponsSQL = `SELECT ` + couponColumns + `
		FROM coupons ORDER BY created_at, code`

	createCouponSQL = `INSERT INTO coupons
		(id, code, kind, value, product_scope, category_scope,
		 start_at, end_at, min_order_total, usage_limit, usage_count, active,
		 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	updateCouponSQL = `UPDATE coupons SET
		kind = $2, value = $3, product_scope = $4, category_scope = $5,
		start_at = $6, end_at = $7, min_order_total = $8, usage_limit = $9,
		active = $10, updated_at = $11
		WHERE id = $1`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)`

	// The increment is conditional at the storage layer so that concurrent
	// finalizations racing for the last usage slot cannot both succeed.
	incrementUsageSQL = `UPDATE coupons
		SET usage_count = usage_count + 1, updated_at = now()
		WHERE code = $1 AND (usage_limit = 0 OR usage_count < usage_limit)`

	uniqueViolationCode = "23505"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// GetByCode looks up a coupon by its code. The query normalizes the
// parameter, so raw user input is accepted. Returns coupon.ErrNotFound when
// no coupon matches.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.getOne(ctx, getCouponByCodeSQL, code)
}

// GetByID looks up a coupon by its identifier.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.getOne(ctx, getCouponByIDSQL, id)
}

func (r *CouponRepository) getOne(ctx context.Context, sql, arg string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("querying coupon %q: %w", arg, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("querying coupon %q: %w", arg, err)
	}
	return &c, nil
}

// List returns all coupons ordered by creation time.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// Create inserts a new coupon. Returns coupon.ErrCodeExists when the code is
// already taken.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, createCouponSQL,
		c.ID, c.Code, string(c.Kind), c.Value,
		scopeSlice(c.Scope.ProductIDs), scopeSlice(c.Scope.CategoryIDs),
		c.StartAt, c.EndAt, c.MinOrderTotal, c.UsageLimit, c.UsageCount, c.Active,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return coupon.ErrCodeExists
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// Update saves the mutable fields of an existing coupon. The code and usage
// counter are not touched here; the counter only moves through IncrementUsage.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	ct, err := r.pool.Exec(ctx, updateCouponSQL,
		c.ID, string(c.Kind), c.Value,
		scopeSlice(c.Scope.ProductIDs), scopeSlice(c.Scope.CategoryIDs),
		c.StartAt, c.EndAt, c.MinOrderTotal, c.UsageLimit, c.Active, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating coupon %q: %w", c.ID, err)
	}
	if ct.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Delete removes a coupon by ID.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// IncrementUsage atomically increments the usage counter, refusing to exceed
// the usage limit. Returns coupon.ErrUsageExhausted when the counter is at
// its limit and coupon.ErrNotFound when the code does not exist.
func (r *CouponRepository) IncrementUsage(ctx context.Context, code string) error {
	ct, err := r.pool.Exec(ctx, incrementUsageSQL, code)
	if err != nil {
		return fmt.Errorf("incrementing usage for coupon %q: %w", code, err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, couponExistsSQL, code).Scan(&exists); err != nil {
		return fmt.Errorf("incrementing usage for coupon %q: %w", code, err)
	}
	if !exists {
		return coupon.ErrNotFound
	}
	return coupon.ErrUsageExhausted
}

// scopeSlice maps a nil scope slice to an empty array so the TEXT[] columns
// never store NULL.
func scopeSlice(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c             coupon.Coupon
		kind          string
		value         decimal.Decimal
		productScope  []string
		categoryScope []string
		startAt       *time.Time
		endAt         *time.Time
		minOrderTotal *decimal.Decimal
	)
	err := row.Scan(
		&c.ID, &c.Code, &kind, &value, &productScope, &categoryScope,
		&startAt, &endAt, &minOrderTotal, &c.UsageLimit, &c.UsageCount, &c.Active,
		&c.CreatedAt, &c.UpdatedAt,
	)
	c.Kind = coupon.Kind(kind)
	c.Value = value
	c.Scope = coupon.Scope{ProductIDs: productScope, CategoryIDs: categoryScope}
	c.StartAt = startAt
	c.EndAt = endAt
	c.MinOrderTotal = minOrderTotal
	return c, err
}
