package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/promokit/storefront/internal/domain/coupon"
)

var (
	// ErrSessionFinalized is returned when an order for the payment session
	// already exists. Webhook redelivery hits this path.
	ErrSessionFinalized = errors.New("payment session already finalized")
	// ErrNotFound is returned when no order matches.
	ErrNotFound = errors.New("order not found")
	// ErrEmptySession rejects payment events without a session identifier.
	ErrEmptySession = errors.New("payment session id required")
)

// Order is the durable record of a confirmed payment. It stores a
// denormalized snapshot of the cart lines and the discount the customer was
// actually charged against; later coupon edits never change it.
type Order struct {
	ID           string
	SessionID    string
	Lines        []coupon.CartLine
	Subtotal     decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
	CouponID     string
	CouponCode   string
	NeedsReview  bool
	ReviewReason string
	CreatedAt    time.Time
}

// PaymentEvent carries the session snapshot delivered by the payment
// processor's confirmed-payment webhook: the cart lines and discount exactly
// as authorized at checkout-session creation.
type PaymentEvent struct {
	SessionID          string
	Lines              []coupon.CartLine
	Subtotal           decimal.Decimal
	CouponID           string
	AuthorizedDiscount decimal.Decimal
}

// Repository defines persistence for orders.
type Repository interface {
	// Create persists the order. When incrementCoupon is non-empty, the
	// coupon's usage counter is incremented in the same transaction; a
	// counter at its limit aborts the whole transaction with
	// coupon.ErrUsageExhausted. A duplicate session id yields
	// ErrSessionFinalized without writing anything.
	Create(ctx context.Context, o *Order, incrementCoupon string) error

	GetBySessionID(ctx context.Context, sessionID string) (*Order, error)
}
