package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Apply runs the discount rules for an already-loaded coupon against the
// cart lines at the given instant. Checks run in a fixed order and the first
// failing check wins. Apply never mutates the coupon and is safe to call
// concurrently.
//
// The returned error is reserved for malformed records (unknown kind); every
// business outcome is expressed through the Result.
func Apply(c *Coupon, lines []CartLine, now time.Time) (Result, error) {
	if !c.Active {
		return Rejected(ReasonInactive), nil
	}
	if c.StartAt != nil && now.Before(*c.StartAt) {
		return Rejected(ReasonNotStarted), nil
	}
	if c.EndAt != nil && now.After(*c.EndAt) {
		return Rejected(ReasonExpired), nil
	}
	if c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit {
		return Rejected(ReasonUsageLimitReached), nil
	}

	// Minimum order total is checked against the whole-cart subtotal, not the
	// eligible subset.
	subtotal := Subtotal(lines)
	if c.MinOrderTotal != nil && subtotal.LessThan(*c.MinOrderTotal) {
		return Rejected(ReasonBelowMinimumOrder), nil
	}

	eligible := decimal.Zero
	for _, line := range lines {
		if c.Scope.Eligible(line) {
			eligible = eligible.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
	}
	eligible = eligible.Round(2)

	var amount decimal.Decimal
	switch c.Kind {
	case KindPercent:
		amount = eligible.Mul(c.Value).Div(hundred).Round(2)
	case KindFixed:
		// A fixed discount never exceeds the eligible subtotal.
		amount = decimal.Min(c.Value, eligible).Round(2)
	default:
		return Result{}, errors.Errorf("unsupported coupon kind: %q", c.Kind)
	}

	if !amount.IsPositive() {
		return Rejected(ReasonNoEligibleItems), nil
	}

	return Result{
		Applied:          true,
		DiscountAmount:   amount,
		EligibleSubtotal: eligible,
		CouponID:         c.ID,
	}, nil
}

// Evaluator resolves a raw user-entered code through the Repository and
// applies the coupon's rules to a cart. Evaluation performs no mutation and
// may run with arbitrary concurrency; the usage counter is only touched by
// order finalization.
type Evaluator struct {
	repo Repository
	now  func() time.Time
}

// NewEvaluator creates an Evaluator backed by the given Repository.
func NewEvaluator(repo Repository) *Evaluator {
	return &Evaluator{repo: repo, now: time.Now}
}

// Evaluate resolves and applies a coupon at the current time.
func (e *Evaluator) Evaluate(ctx context.Context, code string, lines []CartLine) (Result, error) {
	return e.EvaluateAt(ctx, code, lines, e.now())
}

// EvaluateAt resolves and applies a coupon at an explicit instant. The time
// is injected rather than read from the system clock so evaluation stays
// deterministic and testable.
//
// An empty cart rejects without a repository lookup. A repository failure is
// returned as an error, distinct from the NotFound rejection.
func (e *Evaluator) EvaluateAt(ctx context.Context, code string, lines []CartLine, now time.Time) (Result, error) {
	if len(lines) == 0 {
		return Rejected(ReasonNoEligibleItems), nil
	}

	normalized := NormalizeCode(code)
	if normalized == "" {
		return Rejected(ReasonNotFound), nil
	}

	c, err := e.repo.GetByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Rejected(ReasonNotFound), nil
		}
		return Result{}, errors.Wrap(err, "lookup coupon")
	}

	return Apply(c, lines, now)
}
