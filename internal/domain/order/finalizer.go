package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/promokit/storefront/internal/domain/coupon"
)

// Finalizer applies a previously authorized coupon to an order at
// payment-confirmation time. It re-validates the coupon against its current
// state, records the order exactly once per payment session, and increments
// the usage counter exactly once per successful application.
//
// Reconciliation policy: the payment has already been captured, so the order
// is always recorded with the discount the customer was charged against.
// When re-validation disagrees with that amount, the order is flagged for
// manual review and the usage counter is left alone.
type Finalizer struct {
	coupons coupon.Repository
	orders  Repository
	now     func() time.Time
	tracer  trace.Tracer
}

// NewFinalizer creates a Finalizer with the required repositories.
func NewFinalizer(coupons coupon.Repository, orders Repository) *Finalizer {
	return &Finalizer{
		coupons: coupons,
		orders:  orders,
		now:     time.Now,
		tracer:  otel.Tracer("storefront/order"),
	}
}

// Finalize processes one confirmed-payment event. It is safe to call with
// the same event multiple times: webhook redelivery returns the order
// recorded by the first delivery and increments nothing.
func (f *Finalizer) Finalize(ctx context.Context, evt PaymentEvent) (*Order, error) {
	ctx, span := f.tracer.Start(ctx, "Finalizer.Finalize",
		trace.WithAttributes(attribute.String("payment.session_id", evt.SessionID)),
	)
	defer span.End()

	if evt.SessionID == "" {
		return nil, ErrEmptySession
	}

	o := &Order{
		ID:        uuid.New().String(),
		SessionID: evt.SessionID,
		Lines:     evt.Lines,
		Subtotal:  evt.Subtotal.Round(2),
		Discount:  evt.AuthorizedDiscount.Round(2),
		CouponID:  evt.CouponID,
	}

	incrementCode := ""
	if evt.CouponID != "" {
		code, review, err := f.revalidate(ctx, evt, o.Discount)
		if err != nil {
			return nil, err
		}
		o.CouponCode = code
		if review != "" {
			o.NeedsReview = true
			o.ReviewReason = review
		} else {
			incrementCode = code
		}
	}

	o.Total = o.Subtotal.Sub(o.Discount)
	if o.Total.IsNegative() {
		o.Total = decimal.Zero
	}

	err := f.orders.Create(ctx, o, incrementCode)
	if errors.Is(err, coupon.ErrUsageExhausted) {
		// Lost the race for the last usage slot between re-validation and the
		// conditional increment. The payment stands, so record the order
		// without the increment and surface it for reconciliation.
		o.NeedsReview = true
		o.ReviewReason = "usage limit exhausted at finalization"
		err = f.orders.Create(ctx, o, "")
	}
	if errors.Is(err, ErrSessionFinalized) {
		existing, getErr := f.orders.GetBySessionID(ctx, evt.SessionID)
		if getErr != nil {
			return nil, errors.Wrap(getErr, "load finalized order")
		}
		return existing, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return o, nil
}

// revalidate re-runs the discount rules against the captured lines and the
// coupon's current state. It returns the coupon code, plus a non-empty review
// reason when the authorized discount can no longer be reproduced.
func (f *Finalizer) revalidate(ctx context.Context, evt PaymentEvent, authorized decimal.Decimal) (code, review string, err error) {
	c, err := f.coupons.GetByID(ctx, evt.CouponID)
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			return "", "coupon deleted since checkout", nil
		}
		return "", "", errors.Wrap(err, "load coupon")
	}

	res, err := coupon.Apply(c, evt.Lines, f.now())
	if err != nil {
		return c.Code, "", errors.Wrap(err, "revalidate coupon")
	}
	if !res.Applied {
		return c.Code, "revalidation rejected: " + string(res.Reason), nil
	}
	if !res.DiscountAmount.Equal(authorized) {
		return c.Code, fmt.Sprintf("discount changed: authorized %s, current %s",
			authorized, res.DiscountAmount), nil
	}
	return c.Code, "", nil
}
