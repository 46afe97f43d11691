package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

const (
	actionAdd    = "add"
	actionUpdate = "update"
	actionRemove = "remove"
)

type cartRequest struct {
	Action    string
	ProductID string
	Quantity  int
	HasQty    bool
	ClearAll  bool
}

func decodeCartRequest(r *http.Request) (cartRequest, error) {
	var req cartRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "action":
			req.Action, err = optStr(d)
		case "productId":
			req.ProductID, err = optStr(d)
		case "quantity":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.HasQty = true
			req.Quantity, err = d.Int()
		case "clearAll":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.ClearAll, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

// GetCart returns the product-joined view of the user's cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	lines, err := h.carts.Get(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeCart(w, r, userID, lines)
}

// MutateCart applies one add, update or remove action, or clears the cart
// when clearAll is set, and returns the resulting cart.
func (h *Handler) MutateCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	req, err := decodeCartRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var lines []cart.Line
	switch {
	case req.ClearAll:
		lines, err = h.carts.Clear(ctx, userID)
	case req.ProductID == "":
		err = errBadRequest("productId is required")
	case req.Action == actionAdd:
		qty := req.Quantity
		if !req.HasQty {
			qty = 1
		}
		lines, err = h.carts.Add(ctx, userID, req.ProductID, qty)
	case req.Action == actionUpdate:
		if !req.HasQty {
			err = errBadRequest("quantity is required")
			break
		}
		lines, err = h.carts.Update(ctx, userID, req.ProductID, req.Quantity)
	case req.Action == actionRemove:
		lines, err = h.carts.Remove(ctx, userID, req.ProductID)
	default:
		err = errBadRequest("unknown action %q", req.Action)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeCart(w, r, userID, lines)
}

// RemoveCartLine deletes one line from the cart.
func (h *Handler) RemoveCartLine(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	lines, err := h.carts.Remove(r.Context(), userID, chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeCart(w, r, userID, lines)
}

// PreviewDiscount evaluates a coupon against the current cart without
// consuming it.
func (h *Handler) PreviewDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	var code string
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key == "code" {
			var err error
			code, err = optStr(d)
			return err
		}
		return d.Skip()
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if code == "" {
		writeError(w, r, errBadRequest("code is required"))
		return
	}

	lines, err := h.carts.Get(ctx, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := h.cartView(ctx, lines)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]coupon.Item, len(view.items))
	for i, it := range view.items {
		items[i] = coupon.Item{
			ProductID: it.product.ID,
			Category:  it.product.Category,
			Price:     it.unitPrice,
			Quantity:  it.quantity,
		}
	}

	d, err := h.coupons.Validate(ctx, code, items, view.subtotal)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(d.Code) })
		e.Field("description", func(e *jx.Encoder) { e.Str(d.Description) })
		e.Field("amount", func(e *jx.Encoder) { encodeMoney(e, d.Amount) })
		e.Field("freeShipping", func(e *jx.Encoder) { e.Bool(d.ZeroShipping) })
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, view.subtotal) })
	})
	writeJSON(w, http.StatusOK, &e)
}

type cartItemView struct {
	product   product.Product
	unitPrice decimal.Decimal
	quantity  int
}

type cartView struct {
	items    []cartItemView
	subtotal decimal.Decimal
}

// cartView joins cart lines with the catalog. Lines whose product has left
// the catalog are omitted.
func (h *Handler) cartView(ctx context.Context, lines []cart.Line) (cartView, error) {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	products, err := h.products.GetByIDs(ctx, ids)
	if err != nil {
		return cartView{}, errors.Wrap(err, "load cart products")
	}
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	view := cartView{items: make([]cartItemView, 0, len(lines))}
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			zctx.From(ctx).Warn("Cart line references missing product", zap.String("product_id", l.ProductID))
			continue
		}
		it := cartItemView{product: p, unitPrice: p.UnitPrice(), quantity: l.Quantity}
		view.items = append(view.items, it)
		view.subtotal = view.subtotal.Add(it.unitPrice.Mul(decimal.NewFromInt(int64(it.quantity))))
	}
	view.subtotal = view.subtotal.Round(2)
	return view, nil
}

func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request, userID string, lines []cart.Line) {
	view, err := h.cartView(r.Context(), lines)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("userId", func(e *jx.Encoder) { e.Str(userID) })
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for _, it := range view.items {
				h.encodeCartItem(e, it)
			}
			e.ArrEnd()
		})
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, view.subtotal) })
	})
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) encodeCartItem(e *jx.Encoder, it cartItemView) {
	p := it.product
	e.Obj(func(e *jx.Encoder) {
		e.Field("productId", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
		e.Field("image", func(e *jx.Encoder) { e.Str(h.imageURL(p.Image)) })
		e.Field("price", func(e *jx.Encoder) { encodeMoney(e, p.Price) })
		e.Field("unitPrice", func(e *jx.Encoder) { encodeMoney(e, it.unitPrice) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(it.quantity) })
		e.Field("inStock", func(e *jx.Encoder) { e.Bool(p.StockQuantity >= it.quantity) })
	})
}

func (h *Handler) imageURL(path string) string {
	if path == "" {
		return ""
	}
	return h.imageBaseURL + path
}
