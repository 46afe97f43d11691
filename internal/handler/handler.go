// Package handler exposes the storefront order core over HTTP.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront/internal/domain/analytics"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in responses.
	// When empty, image paths are returned as stored.
	ImageBaseURL string
}

// Handler serves the cart, checkout, order and analytics endpoints,
// delegating business logic to the domain services.
type Handler struct {
	products     product.Repository
	carts        *cart.Store
	checkout     *checkout.Service
	orders       *order.Service
	coupons      *coupon.Engine
	analytics    *analytics.Aggregator
	imageBaseURL string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	products product.Repository,
	carts *cart.Store,
	checkoutService *checkout.Service,
	orders *order.Service,
	coupons *coupon.Engine,
	aggregator *analytics.Aggregator,
) *Handler {
	return &Handler{
		products:     products,
		carts:        carts,
		checkout:     checkoutService,
		orders:       orders,
		coupons:      coupons,
		analytics:    aggregator,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Routes returns the router. Admin routes are guarded by admin.
func (h *Handler) Routes(admin func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Route("/user/{userID}", func(r chi.Router) {
		r.Get("/cart", h.GetCart)
		r.Post("/cart", h.MutateCart)
		r.Delete("/cart/{productID}", h.RemoveCartLine)
		r.Post("/cart/discount", h.PreviewDiscount)
		r.Post("/checkout", h.Checkout)
		r.Get("/orders", h.ListOrders)
		r.Get("/order/{orderID}", h.GetOrder)
		r.Post("/order/{orderID}/cancel", h.CancelOrder)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(admin)
		r.Get("/order/{orderID}", h.AdminGetOrder)
		r.Put("/order/{orderID}/status", h.UpdateOrderStatus)
		r.Get("/analytics", h.AnalyticsReport)
		r.Post("/analytics/run", h.RunAnalytics)
	})

	return r
}
