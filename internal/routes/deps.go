package routes

import (
	"github.com/vazaro/shop/internal/handler"
	"github.com/vazaro/shop/internal/handler/webhook"
	"github.com/vazaro/shop/internal/middleware"
)

// OrderDeps contains dependencies for the order API routes.
type OrderDeps struct {
	OrderHandler *handler.OrderHandler

	// StaffToken guards the staff group. An empty token disables the
	// staff routes entirely (they respond 403).
	StaffToken string

	// RateLimiter throttles the public checkout endpoint.
	RateLimiter *middleware.RateLimiter
}

// WebhookDeps contains dependencies for the gateway webhook route.
type WebhookDeps struct {
	GatewayHandler *webhook.GatewayHandler
}
