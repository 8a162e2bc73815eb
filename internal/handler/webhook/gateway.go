// Package webhook handles asynchronous payment gateway callbacks.
package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/vazaro/shop/internal/domain"
	"github.com/vazaro/shop/internal/middleware"
	"github.com/vazaro/shop/internal/telemetry"
)

// GatewayHandler receives payment notifications from the gateway.
//
// The payload is treated as a hint only: the handler extracts the
// provider's payment id and hands it to the service, which re-queries
// the gateway for the canonical state. The response is always 200 so
// the gateway stops retrying; failures are logged and counted instead.
type GatewayHandler struct {
	service domain.OrderService
}

// NewGatewayHandler creates a gateway webhook handler.
func NewGatewayHandler(service domain.OrderService) *GatewayHandler {
	return &GatewayHandler{service: service}
}

// notification is the loosely typed callback body. YooKassa nests the
// payment under "object"; Sberbank-style callbacks arrive flat or as
// query parameters.
type notification struct {
	Event  string `json:"event"`
	Object struct {
		ID string `json:"id"`
	} `json:"object"`
	ID      string `json:"id"`
	OrderID string `json:"orderId"`
}

// HandlePaymentNotification handles POST /api/orders/webhook/payment.
func (h *GatewayHandler) HandlePaymentNotification(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := middleware.GetLogger(r.Context())

	if telemetry.Business != nil {
		telemetry.Business.WebhookReceived.WithLabelValues().Inc()
	}

	paymentID, err := extractPaymentID(r)
	if err != nil {
		logger.Warn("webhook payload rejected", "error", err)
		if telemetry.Business != nil {
			telemetry.Business.WebhookFailed.WithLabelValues("bad_payload").Inc()
		}
		respondAccepted(w)
		return
	}

	if err := h.service.HandleGatewayCallback(r.Context(), paymentID); err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			logger.Warn("webhook for unknown payment", "payment_id", paymentID)
			if telemetry.Business != nil {
				telemetry.Business.WebhookFailed.WithLabelValues("unknown_payment").Inc()
			}
		default:
			logger.Error("webhook processing failed", "payment_id", paymentID, "error", err)
			if telemetry.Business != nil {
				telemetry.Business.WebhookFailed.WithLabelValues("processing").Inc()
			}
		}
		respondAccepted(w)
		return
	}

	if telemetry.Business != nil {
		telemetry.Business.WebhookProcessed.WithLabelValues().Inc()
		telemetry.Business.WebhookLatency.WithLabelValues().Observe(time.Since(start).Seconds())
	}

	logger.Info("webhook processed", "payment_id", paymentID)
	respondAccepted(w)
}

// extractPaymentID pulls the provider payment id out of the request,
// trying the JSON body first and query parameters second.
func extractPaymentID(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err == nil && len(body) > 0 {
		var n notification
		if err := json.Unmarshal(body, &n); err != nil {
			return "", errors.New("callback body is not valid JSON")
		}
		switch {
		case n.Object.ID != "":
			return n.Object.ID, nil
		case n.OrderID != "":
			return n.OrderID, nil
		case n.ID != "":
			return n.ID, nil
		}
	}

	if id := r.URL.Query().Get("mdOrder"); id != "" {
		return id, nil
	}
	if id := r.URL.Query().Get("orderId"); id != "" {
		return id, nil
	}

	return "", errors.New("callback carries no payment id")
}

func respondAccepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"success":true}`))
}
