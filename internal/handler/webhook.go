package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/promokit/storefront/internal/domain/coupon"
	"github.com/promokit/storefront/internal/domain/order"
)

const (
	maxWebhookBody       = 1 << 20
	eventPaymentComplete = "payment.confirmed"
)

type orderResponse struct {
	ID           string            `json:"id"`
	SessionID    string            `json:"sessionId"`
	Subtotal     decimal.Decimal   `json:"subtotal"`
	Discount     decimal.Decimal   `json:"discount"`
	Total        decimal.Decimal   `json:"total"`
	CouponID     string            `json:"couponId,omitempty"`
	CouponCode   string            `json:"couponCode,omitempty"`
	NeedsReview  bool              `json:"needsReview"`
	ReviewReason string            `json:"reviewReason,omitempty"`
	Lines        []coupon.CartLine `json:"lines"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// PaymentWebhook handles confirmed-payment events from the payment
// processor. The processor retries deliveries, so the same event may arrive
// more than once; finalization is idempotent per session id.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read request body")
		return
	}

	eventType, evt, err := decodePaymentEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed event payload")
		return
	}
	if eventType != eventPaymentComplete {
		// Processors deliver event kinds we do not subscribe to; acknowledge
		// them so they are not redelivered.
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	o, err := h.finalizer.Finalize(r.Context(), evt)
	if err != nil {
		if errors.Is(err, order.ErrEmptySession) {
			writeError(w, http.StatusBadRequest, "session id required")
			return
		}
		writeInternalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orderResponse{
		ID:           o.ID,
		SessionID:    o.SessionID,
		Subtotal:     o.Subtotal,
		Discount:     o.Discount,
		Total:        o.Total,
		CouponID:     o.CouponID,
		CouponCode:   o.CouponCode,
		NeedsReview:  o.NeedsReview,
		ReviewReason: o.ReviewReason,
		Lines:        o.Lines,
		CreatedAt:    o.CreatedAt,
	})
}

// decodePaymentEvent parses the processor's event envelope. Unknown fields
// are skipped so new processor fields do not break finalization.
func decodePaymentEvent(data []byte) (eventType string, evt order.PaymentEvent, err error) {
	d := jx.DecodeBytes(data)
	err = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "type":
			v, err := d.Str()
			eventType = v
			return err
		case "session_id":
			v, err := d.Str()
			evt.SessionID = v
			return err
		case "coupon_id":
			v, err := d.Str()
			evt.CouponID = v
			return err
		case "subtotal":
			v, err := decodeDecimal(d)
			evt.Subtotal = v
			return err
		case "discount":
			v, err := decodeDecimal(d)
			evt.AuthorizedDiscount = v
			return err
		case "lines":
			return d.Arr(func(d *jx.Decoder) error {
				line, err := decodeCartLine(d)
				if err != nil {
					return err
				}
				evt.Lines = append(evt.Lines, line)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	return eventType, evt, err
}

func decodeCartLine(d *jx.Decoder) (coupon.CartLine, error) {
	var line coupon.CartLine
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "product_id":
			v, err := d.Str()
			line.ProductID = v
			return err
		case "category_id":
			v, err := d.Str()
			line.CategoryID = v
			return err
		case "unit_price":
			v, err := decodeDecimal(d)
			line.UnitPrice = v
			return err
		case "quantity":
			v, err := d.Int()
			line.Quantity = v
			return err
		default:
			return d.Skip()
		}
	})
	return line, err
}

// decodeDecimal reads a JSON number without a float64 round-trip.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	n, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(n.String())
}
