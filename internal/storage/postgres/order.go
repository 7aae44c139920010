package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promokit/storefront/internal/domain/coupon"
	"github.com/promokit/storefront/internal/domain/order"
)

const (
	// ON CONFLICT DO NOTHING turns webhook redelivery into a conflict we can
	// detect before any usage increment happens, inside the same transaction.
	insertOrderSQL = `INSERT INTO orders
		(id, session_id, lines, subtotal, discount, total,
		 coupon_id, coupon_code, needs_review, review_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO NOTHING
		RETURNING created_at`

	getOrderBySessionSQL = `SELECT id, session_id, lines, subtotal, discount, total,
		coupon_id, coupon_code, needs_review, review_reason, created_at
		FROM orders WHERE session_id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order and, when incrementCoupon is non-empty, bumps
// that coupon's usage counter in the same transaction. The duplicate-session
// check happens before the increment, so a redelivered webhook can neither
// double-increment nor skip one side of the pair.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, incrementCoupon string) error {
	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshaling order lines: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning order transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, insertOrderSQL,
		o.ID, o.SessionID, linesJSON, o.Subtotal, o.Discount, o.Total,
		o.CouponID, o.CouponCode, o.NeedsReview, o.ReviewReason,
	).Scan(&o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrSessionFinalized
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	if incrementCoupon != "" {
		ct, err := tx.Exec(ctx, incrementUsageSQL, incrementCoupon)
		if err != nil {
			return fmt.Errorf("incrementing usage for coupon %q: %w", incrementCoupon, err)
		}
		if ct.RowsAffected() == 0 {
			// Rolls back the order insert via the deferred Rollback; the
			// finalizer retries without the increment.
			return coupon.ErrUsageExhausted
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing order %q: %w", o.ID, err)
	}
	return nil
}

// GetBySessionID returns the order recorded for a payment session.
func (r *OrderRepository) GetBySessionID(ctx context.Context, sessionID string) (*order.Order, error) {
	var (
		o         order.Order
		linesJSON []byte
	)
	err := r.pool.QueryRow(ctx, getOrderBySessionSQL, sessionID).Scan(
		&o.ID, &o.SessionID, &linesJSON, &o.Subtotal, &o.Discount, &o.Total,
		&o.CouponID, &o.CouponCode, &o.NeedsReview, &o.ReviewReason, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order for session %q: %w", sessionID, err)
	}

	if err := json.Unmarshal(linesJSON, &o.Lines); err != nil {
		return nil, fmt.Errorf("unmarshaling order lines for session %q: %w", sessionID, err)
	}
	return &o, nil
}
