// Package routes wires handlers onto the router.
package routes

import (
	"github.com/vazaro/shop/internal/middleware"
	"github.com/vazaro/shop/internal/router"
)

// RegisterOrderRoutes registers the public order API and the staff group.
//
// Public routes are rate limited and capped at a small body size; the
// staff group requires a bearer token.
func RegisterOrderRoutes(r *router.Router, deps OrderDeps) {
	publicMW := []router.Middleware{
		middleware.MaxBodySize(middleware.SmallMaxBodySize),
	}
	if deps.RateLimiter != nil {
		publicMW = append(publicMW, deps.RateLimiter.Middleware)
	}

	public := r.Group(publicMW...)
	public.Post("/api/orders", deps.OrderHandler.CreateOrder)
	public.Get("/api/orders/track/{orderNumber}", deps.OrderHandler.TrackOrder)
	public.Get("/api/orders/{orderNumber}/verify-payment", deps.OrderHandler.VerifyPayment)

	staff := r.Group(middleware.RequireStaffToken(deps.StaffToken))
	staff.Get("/api/orders", deps.OrderHandler.ListOrders)
	staff.Put("/api/orders/{id}/status", deps.OrderHandler.UpdateStatus)
	staff.Post("/api/orders/{id}/refund", deps.OrderHandler.Refund)
}
