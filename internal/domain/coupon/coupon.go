package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind discriminates how a coupon's value is interpreted.
type Kind string

const (
	// KindPercent treats Value as a percentage of the eligible subtotal.
	KindPercent Kind = "percent"
	// KindFixed treats Value as a fixed amount, capped at the eligible subtotal.
	KindFixed Kind = "fixed"
)

// Valid reports whether the kind is one of the supported discount kinds.
func (k Kind) Valid() bool {
	return k == KindPercent || k == KindFixed
}

// Reason enumerates why a coupon did not apply to a cart. These are expected
// business outcomes, returned as values rather than errors.
type Reason string

const (
	ReasonNotFound          Reason = "not_found"
	ReasonInactive          Reason = "inactive"
	ReasonNotStarted        Reason = "not_started"
	ReasonExpired           Reason = "expired"
	ReasonUsageLimitReached Reason = "usage_limit_reached"
	ReasonBelowMinimumOrder Reason = "below_minimum_order"
	ReasonNoEligibleItems   Reason = "no_eligible_items"
)

var (
	// ErrNotFound is returned by repositories when no coupon matches.
	ErrNotFound = errors.New("coupon not found")
	// ErrCodeExists is returned when creating a coupon whose code is taken.
	ErrCodeExists = errors.New("coupon code already exists")
	// ErrUsageExhausted is returned by the conditional usage increment when
	// the counter has already reached the usage limit.
	ErrUsageExhausted = errors.New("coupon usage limit exhausted")
)

// Scope restricts which cart lines a coupon may discount. An empty scope
// covers the whole cart. When both product and category restrictions are
// present, a line must satisfy both.
type Scope struct {
	ProductIDs  []string
	CategoryIDs []string
}

// IsEmpty reports whether the scope places no restriction on the cart.
func (s Scope) IsEmpty() bool {
	return len(s.ProductIDs) == 0 && len(s.CategoryIDs) == 0
}

// Eligible reports whether the given line falls inside the scope. A line
// without a category is never eligible under a category restriction.
func (s Scope) Eligible(line CartLine) bool {
	if len(s.ProductIDs) > 0 && !contains(s.ProductIDs, line.ProductID) {
		return false
	}
	if len(s.CategoryIDs) > 0 {
		if line.CategoryID == "" || !contains(s.CategoryIDs, line.CategoryID) {
			return false
		}
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Coupon is a promotional rule identified by a customer-facing code.
// Codes are stored trimmed and uppercased. UsageLimit of 0 means unlimited.
type Coupon struct {
	ID            string
	Code          string
	Kind          Kind
	Value         decimal.Decimal
	Scope         Scope
	StartAt       *time.Time
	EndAt         *time.Time
	MinOrderTotal *decimal.Decimal
	UsageLimit    int
	UsageCount    int
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CartLine is a single distinct product in the cart, as captured at
// evaluation time. The JSON tags match the snapshot stored on orders.
type CartLine struct {
	ProductID  string          `json:"product_id"`
	CategoryID string          `json:"category_id,omitempty"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
}

// Result is the outcome of evaluating a coupon against a cart: either a
// rejection carrying a Reason, or an application carrying the computed
// amounts.
type Result struct {
	Applied          bool
	Reason           Reason
	DiscountAmount   decimal.Decimal
	EligibleSubtotal decimal.Decimal
	CouponID         string
}

// Rejected builds a rejection Result for the given reason.
func Rejected(reason Reason) Result {
	return Result{Reason: reason}
}

// NormalizeCode canonicalizes a user-entered coupon code: surrounding
// whitespace is trimmed and the code is uppercased.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Subtotal returns the sum of unit price times quantity across all lines,
// rounded to 2 decimal places.
func Subtotal(lines []CartLine) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range lines {
		sum = sum.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return sum.Round(2)
}

// Repository provides persistence for coupon records. Lookups by code expect
// a normalized code (see NormalizeCode). Implementations uphold code
// uniqueness and perform the usage increment atomically at the storage layer.
type Repository interface {
	GetByCode(ctx context.Context, code string) (*Coupon, error)
	GetByID(ctx context.Context, id string) (*Coupon, error)
	List(ctx context.Context) ([]Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, id string) error

	// IncrementUsage bumps the usage counter by one, refusing to exceed the
	// usage limit. Returns ErrUsageExhausted when no slot remains.
	IncrementUsage(ctx context.Context, code string) error
}
