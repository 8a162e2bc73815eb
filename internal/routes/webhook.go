package routes

import (
	"github.com/vazaro/shop/internal/middleware"
	"github.com/vazaro/shop/internal/router"
)

// RegisterWebhookRoutes registers the gateway callback route.
//
// The route carries no authentication middleware: the handler never
// trusts the payload and re-queries the gateway before changing state,
// so a forged callback can at worst trigger an extra reconciliation.
func RegisterWebhookRoutes(r *router.Router, deps WebhookDeps) {
	r.Post("/api/orders/webhook/payment", deps.GatewayHandler.HandlePaymentNotification,
		middleware.MaxBodySize(middleware.SmallMaxBodySize))
}
