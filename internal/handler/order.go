package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
)

// Checkout converts the user's cart into a pending order.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	req := checkout.Request{UserID: chi.URLParam(r, "userID")}
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "shippingAddress":
			req.ShippingAddress, err = decodeAddress(d)
		case "billingAddress":
			req.BillingAddress, err = decodeAddress(d)
		case "paymentMethod":
			req.PaymentMethod, err = optStr(d)
		case "discountCode":
			req.DiscountCode, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.checkout.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeOrder(w, http.StatusCreated, o)
}

// ListOrders returns the user's orders, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListForUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ArrStart()
	for i := range orders {
		h.encodeOrder(&e, &orders[i])
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, &e)
}

// GetOrder returns one of the user's orders.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetForUser(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeOrder(w, http.StatusOK, o)
}

// CancelOrder cancels a pending order on behalf of its owner.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Cancel(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeOrder(w, http.StatusOK, o)
}

// AdminGetOrder returns any order.
func (h *Handler) AdminGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeOrder(w, http.StatusOK, o)
}

// UpdateOrderStatus moves an order along its lifecycle.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var status, note string
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			status, err = optStr(d)
		case "note":
			note, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Advance(r.Context(), chi.URLParam(r, "orderID"), order.Status(status), note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeOrder(w, http.StatusOK, o)
}

func decodeAddress(d *jx.Decoder) (order.Address, error) {
	var a order.Address
	if d.Next() == jx.Null {
		return a, d.Null()
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			a.Name, err = optStr(d)
		case "street":
			a.Street, err = optStr(d)
		case "city":
			a.City, err = optStr(d)
		case "state":
			a.State, err = optStr(d)
		case "postalCode", "zipCode":
			a.PostalCode, err = optStr(d)
		case "country":
			a.Country, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return a, err
}

func (h *Handler) writeOrder(w http.ResponseWriter, code int, o *order.Order) {
	var e jx.Encoder
	h.encodeOrder(&e, o)
	writeJSON(w, code, &e)
}

func (h *Handler) encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("userId", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for _, it := range o.Items {
				e.Obj(func(e *jx.Encoder) {
					e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
					e.Field("name", func(e *jx.Encoder) { e.Str(it.ProductName) })
					e.Field("price", func(e *jx.Encoder) { encodeMoney(e, it.Price) })
					e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
					e.Field("image", func(e *jx.Encoder) { e.Str(h.imageURL(it.Image)) })
				})
			}
			e.ArrEnd()
		})
		e.Field("shippingAddress", func(e *jx.Encoder) { encodeAddress(e, o.ShippingAddress) })
		e.Field("billingAddress", func(e *jx.Encoder) { encodeAddress(e, o.BillingAddress) })
		e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(o.PaymentMethod) })
		if o.CouponCode != "" {
			e.Field("couponCode", func(e *jx.Encoder) { e.Str(o.CouponCode) })
		}
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, o.Subtotal) })
		e.Field("shippingFee", func(e *jx.Encoder) { encodeMoney(e, o.ShippingFee) })
		e.Field("discount", func(e *jx.Encoder) { encodeMoney(e, o.Discount) })
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, o.Total) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		if o.TrackingNumber != "" {
			e.Field("trackingNumber", func(e *jx.Encoder) { e.Str(o.TrackingNumber) })
			e.Field("carrier", func(e *jx.Encoder) { e.Str(o.Carrier) })
		}
		e.Field("orderDate", func(e *jx.Encoder) { e.Str(o.OrderDate.UTC().Format(time.RFC3339)) })
		e.Field("statusHistory", func(e *jx.Encoder) {
			e.ArrStart()
			for _, c := range o.StatusHistory {
				e.Obj(func(e *jx.Encoder) {
					e.Field("status", func(e *jx.Encoder) { e.Str(string(c.Status)) })
					e.Field("changedAt", func(e *jx.Encoder) { e.Str(c.ChangedAt.UTC().Format(time.RFC3339)) })
					if c.Note != "" {
						e.Field("note", func(e *jx.Encoder) { e.Str(c.Note) })
					}
				})
			}
			e.ArrEnd()
		})
	})
}

func encodeAddress(e *jx.Encoder, a order.Address) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("name", func(e *jx.Encoder) { e.Str(a.Name) })
		e.Field("street", func(e *jx.Encoder) { e.Str(a.Street) })
		e.Field("city", func(e *jx.Encoder) { e.Str(a.City) })
		e.Field("state", func(e *jx.Encoder) { e.Str(a.State) })
		e.Field("postalCode", func(e *jx.Encoder) { e.Str(a.PostalCode) })
		e.Field("country", func(e *jx.Encoder) { e.Str(a.Country) })
	})
}
