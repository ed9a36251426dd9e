// Package handler exposes the cart and order services over HTTP.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/pharmacy-api/internal/domain/cart"
	"github.com/xenking/pharmacy-api/internal/domain/order"
)

// Handler serves the /api/v1 routes.
type Handler struct {
	carts  *cart.Service
	orders *order.Service
}

// NewHandler constructs a Handler with the required domain services.
func NewHandler(carts *cart.Service, orders *order.Service) *Handler {
	return &Handler{
		carts:  carts,
		orders: orders,
	}
}

// Routes returns the API router. Every route requires an API key.
func (h *Handler) Routes(authn Authenticator) http.Handler {
	r := chi.NewRouter()
	r.Use(Security(authn))

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/stats", h.Statistics)
		r.Route("/{orderID}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Put("/cancel", h.CancelOrder)
			r.Put("/status", h.UpdateOrderStatus)
		})
	})

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)
		r.Get("/validate", h.ValidateCart)
		r.Patch("/fix", h.FixCart)
		r.Post("/items", h.AddCartItem)
		r.Put("/items/{productID}", h.UpdateCartItem)
		r.Delete("/items/{productID}", h.RemoveCartItem)
	})

	return r
}
