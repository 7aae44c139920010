// Package handler exposes the storefront coupon API over HTTP.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/promokit/storefront/internal/domain/coupon"
	"github.com/promokit/storefront/internal/domain/order"
)

// Handler holds the domain services behind the HTTP API.
type Handler struct {
	evaluator *coupon.Evaluator
	coupons   *coupon.Service
	finalizer *order.Finalizer
}

// New constructs a Handler with the required domain dependencies.
func New(evaluator *coupon.Evaluator, coupons *coupon.Service, finalizer *order.Finalizer) *Handler {
	return &Handler{
		evaluator: evaluator,
		coupons:   coupons,
		finalizer: finalizer,
	}
}

// Router builds the API route tree. The preview endpoint is public; the
// administrative endpoints and the payment webhook sit behind requireKey.
func (h *Handler) Router(requireKey func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/coupons/validate", h.ValidateCoupon)

	r.Group(func(r chi.Router) {
		r.Use(requireKey)

		r.Route("/admin/coupons", func(r chi.Router) {
			r.Post("/", h.CreateCoupon)
			r.Get("/", h.ListCoupons)
			r.Get("/{couponID}", h.GetCoupon)
			r.Put("/{couponID}", h.UpdateCoupon)
			r.Delete("/{couponID}", h.DeleteCoupon)
		})

		r.Post("/webhooks/payment", h.PaymentWebhook)
	})

	return r
}
