package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValidationError describes a rejected administrative request. It is a client
// error, distinct from storage failures.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CreateParams holds the input for creating a coupon.
type CreateParams struct {
	Code          string
	Kind          Kind
	Value         decimal.Decimal
	Scope         Scope
	StartAt       *time.Time
	EndAt         *time.Time
	MinOrderTotal *decimal.Decimal
	UsageLimit    int
	Active        bool
}

// UpdateParams holds the fields an administrator may change on an existing
// coupon. Nil fields are left untouched. The code is immutable: orders store
// a denormalized discount snapshot and a rename must never rewrite history.
type UpdateParams struct {
	Kind          *Kind
	Value         *decimal.Decimal
	Scope         *Scope
	StartAt       *time.Time
	EndAt         *time.Time
	MinOrderTotal *decimal.Decimal
	UsageLimit    *int
	Active        *bool
}

// Service implements the administrative coupon operations on top of a
// Repository, enforcing field validation at the boundary.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates an administrative Service backed by the given Repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Create validates the parameters, normalizes the code, and persists a new
// coupon with a generated ID and a zero usage count. Returns ErrCodeExists
// when the normalized code is already taken.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Coupon, error) {
	code := NormalizeCode(p.Code)
	if code == "" {
		return nil, &ValidationError{Field: "code", Message: "must not be empty"}
	}
	if err := validateRule(p.Kind, p.Value, p.StartAt, p.EndAt, p.UsageLimit); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c := &Coupon{
		ID:            uuid.New().String(),
		Code:          code,
		Kind:          p.Kind,
		Value:         p.Value,
		Scope:         p.Scope,
		StartAt:       p.StartAt,
		EndAt:         p.EndAt,
		MinOrderTotal: p.MinOrderTotal,
		UsageLimit:    p.UsageLimit,
		UsageCount:    0,
		Active:        p.Active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrCodeExists) {
			return nil, ErrCodeExists
		}
		return nil, errors.Wrap(err, "create coupon")
	}
	return c, nil
}

// Get returns a single coupon by ID.
func (s *Service) Get(ctx context.Context, id string) (*Coupon, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns all coupons.
func (s *Service) List(ctx context.Context) ([]Coupon, error) {
	return s.repo.List(ctx)
}

// Update applies the non-nil fields of p to the coupon and re-validates the
// resulting rule before saving.
func (s *Service) Update(ctx context.Context, id string, p UpdateParams) (*Coupon, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Kind != nil {
		c.Kind = *p.Kind
	}
	if p.Value != nil {
		c.Value = *p.Value
	}
	if p.Scope != nil {
		c.Scope = *p.Scope
	}
	if p.StartAt != nil {
		c.StartAt = p.StartAt
	}
	if p.EndAt != nil {
		c.EndAt = p.EndAt
	}
	if p.MinOrderTotal != nil {
		c.MinOrderTotal = p.MinOrderTotal
	}
	if p.UsageLimit != nil {
		c.UsageLimit = *p.UsageLimit
	}
	if p.Active != nil {
		c.Active = *p.Active
	}

	if err := validateRule(c.Kind, c.Value, c.StartAt, c.EndAt, c.UsageLimit); err != nil {
		return nil, err
	}

	c.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, errors.Wrap(err, "update coupon")
	}
	return c, nil
}

// Delete removes a coupon. Orders that already captured a discount snapshot
// are unaffected.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// validateRule checks the field constraints shared by create and update.
// Percent values are constrained to (0, 100] here at administrative time;
// evaluation does not re-check them.
func validateRule(kind Kind, value decimal.Decimal, startAt, endAt *time.Time, usageLimit int) error {
	if !kind.Valid() {
		return &ValidationError{Field: "kind", Message: `must be "percent" or "fixed"`}
	}
	if !value.IsPositive() {
		return &ValidationError{Field: "value", Message: "must be greater than 0"}
	}
	if kind == KindPercent && value.GreaterThan(hundred) {
		return &ValidationError{Field: "value", Message: "percent value must not exceed 100"}
	}
	if startAt != nil && endAt != nil && !startAt.Before(*endAt) {
		return &ValidationError{Field: "window", Message: "startAt must be before endAt"}
	}
	if usageLimit < 0 {
		return &ValidationError{Field: "usageLimit", Message: "must not be negative"}
	}
	return nil
}
