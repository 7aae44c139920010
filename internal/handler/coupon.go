package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/promokit/storefront/internal/domain/coupon"
)

// --- Request / response DTOs ---

type cartItem struct {
	ID       string          `json:"id"`
	Price    decimal.Decimal `json:"price"`
	Qty      int             `json:"qty"`
	Category string          `json:"category,omitempty"`
}

type validateRequest struct {
	Code  string     `json:"code"`
	Items []cartItem `json:"items"`
}

type discountBreakdown struct {
	Code             string          `json:"code"`
	Type             string          `json:"type"`
	Value            decimal.Decimal `json:"value"`
	EligibleSubtotal decimal.Decimal `json:"eligibleSubtotal"`
}

type validateResponse struct {
	Valid     bool               `json:"valid"`
	Reason    string             `json:"reason,omitempty"`
	Discount  *decimal.Decimal   `json:"discount,omitempty"`
	Breakdown *discountBreakdown `json:"breakdown,omitempty"`
	CouponID  string             `json:"couponId,omitempty"`
}

type couponScopes struct {
	Products   []string `json:"products,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

type createCouponRequest struct {
	Code          string           `json:"code"`
	Type          string           `json:"type"`
	Value         decimal.Decimal  `json:"value"`
	Scopes        *couponScopes    `json:"scopes"`
	StartAt       *time.Time       `json:"startAt"`
	EndAt         *time.Time       `json:"endAt"`
	MinOrderTotal *decimal.Decimal `json:"minOrderTotal"`
	UsageLimit    int              `json:"usageLimit"`
	Active        *bool            `json:"active"`
}

type updateCouponRequest struct {
	Type          *string          `json:"type"`
	Value         *decimal.Decimal `json:"value"`
	Scopes        *couponScopes    `json:"scopes"`
	StartAt       *time.Time       `json:"startAt"`
	EndAt         *time.Time       `json:"endAt"`
	MinOrderTotal *decimal.Decimal `json:"minOrderTotal"`
	UsageLimit    *int             `json:"usageLimit"`
	Active        *bool            `json:"active"`
}

type couponResponse struct {
	ID            string           `json:"id"`
	Code          string           `json:"code"`
	Type          string           `json:"type"`
	Value         decimal.Decimal  `json:"value"`
	Scopes        *couponScopes    `json:"scopes,omitempty"`
	StartAt       *time.Time       `json:"startAt,omitempty"`
	EndAt         *time.Time       `json:"endAt,omitempty"`
	MinOrderTotal *decimal.Decimal `json:"minOrderTotal,omitempty"`
	UsageLimit    int              `json:"usageLimit,omitempty"`
	UsageCount    int              `json:"usageCount"`
	Active        bool             `json:"active"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

func toCouponResponse(c *coupon.Coupon) couponResponse {
	resp := couponResponse{
		ID:            c.ID,
		Code:          c.Code,
		Type:          string(c.Kind),
		Value:         c.Value,
		StartAt:       c.StartAt,
		EndAt:         c.EndAt,
		MinOrderTotal: c.MinOrderTotal,
		UsageLimit:    c.UsageLimit,
		UsageCount:    c.UsageCount,
		Active:        c.Active,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
	if !c.Scope.IsEmpty() {
		resp.Scopes = &couponScopes{
			Products:   c.Scope.ProductIDs,
			Categories: c.Scope.CategoryIDs,
		}
	}
	return resp
}

func toCartLines(items []cartItem) []coupon.CartLine {
	lines := make([]coupon.CartLine, len(items))
	for i, item := range items {
		lines[i] = coupon.CartLine{
			ProductID:  item.ID,
			CategoryID: item.Category,
			UnitPrice:  item.Price,
			Quantity:   item.Qty,
		}
	}
	return lines
}

// --- Handlers ---

// ValidateCoupon previews a coupon against a cart. It never mutates state,
// so clients may call it as often as they like.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, item := range req.Items {
		if item.Qty <= 0 {
			writeError(w, http.StatusBadRequest, "item qty must be greater than 0")
			return
		}
		if item.Price.IsNegative() {
			writeError(w, http.StatusBadRequest, "item price must not be negative")
			return
		}
	}

	res, err := h.evaluator.Evaluate(r.Context(), req.Code, toCartLines(req.Items))
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	if !res.Applied {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false, Reason: string(res.Reason)})
		return
	}

	c, err := h.coupons.Get(r.Context(), res.CouponID)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{
		Valid:    true,
		Discount: &res.DiscountAmount,
		Breakdown: &discountBreakdown{
			Code:             c.Code,
			Type:             string(c.Kind),
			Value:            c.Value,
			EligibleSubtotal: res.EligibleSubtotal,
		},
		CouponID: res.CouponID,
	})
}

// CreateCoupon handles POST /admin/coupons.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	params := coupon.CreateParams{
		Code:          req.Code,
		Kind:          coupon.Kind(req.Type),
		Value:         req.Value,
		StartAt:       req.StartAt,
		EndAt:         req.EndAt,
		MinOrderTotal: req.MinOrderTotal,
		UsageLimit:    req.UsageLimit,
		Active:        active,
	}
	if req.Scopes != nil {
		params.Scope = coupon.Scope{
			ProductIDs:  req.Scopes.Products,
			CategoryIDs: req.Scopes.Categories,
		}
	}

	c, err := h.coupons.Create(r.Context(), params)
	if err != nil {
		h.writeCouponError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCouponResponse(c))
}

// ListCoupons handles GET /admin/coupons.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.List(r.Context())
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	out := make([]couponResponse, len(coupons))
	for i := range coupons {
		out[i] = toCouponResponse(&coupons[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCoupon handles GET /admin/coupons/{couponID}.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Get(r.Context(), chi.URLParam(r, "couponID"))
	if err != nil {
		h.writeCouponError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponResponse(c))
}

// UpdateCoupon handles PUT /admin/coupons/{couponID}. The coupon code is
// immutable and absent from the request shape.
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var req updateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params := coupon.UpdateParams{
		Value:         req.Value,
		StartAt:       req.StartAt,
		EndAt:         req.EndAt,
		MinOrderTotal: req.MinOrderTotal,
		UsageLimit:    req.UsageLimit,
		Active:        req.Active,
	}
	if req.Type != nil {
		kind := coupon.Kind(*req.Type)
		params.Kind = &kind
	}
	if req.Scopes != nil {
		params.Scope = &coupon.Scope{
			ProductIDs:  req.Scopes.Products,
			CategoryIDs: req.Scopes.Categories,
		}
	}

	c, err := h.coupons.Update(r.Context(), chi.URLParam(r, "couponID"), params)
	if err != nil {
		h.writeCouponError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponResponse(c))
}

// DeleteCoupon handles DELETE /admin/coupons/{couponID}.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.coupons.Delete(r.Context(), chi.URLParam(r, "couponID")); err != nil {
		h.writeCouponError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeCouponError maps administrative domain errors to HTTP responses.
// Validation failures and duplicate codes are client errors; everything else
// is a storage fault.
func (h *Handler) writeCouponError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *coupon.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, coupon.ErrCodeExists):
		writeError(w, http.StatusConflict, "coupon code already exists")
	case errors.Is(err, coupon.ErrNotFound):
		writeError(w, http.StatusNotFound, "coupon not found")
	default:
		writeInternalError(w, r, err)
	}
}
