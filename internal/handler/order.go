package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/vazaro/shop/internal/domain"
)

// OrderHandler exposes the order lifecycle over HTTP.
type OrderHandler struct {
	service domain.OrderService
}

// NewOrderHandler creates an order handler.
func NewOrderHandler(service domain.OrderService) *OrderHandler {
	return &OrderHandler{service: service}
}

// respondJSON writes the success envelope.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    data,
	})
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Invalid("", "Request body is required")
		}
		return domain.Invalid("", "Request body is not valid JSON")
	}
	return nil
}

// CreateOrder handles POST /api/orders.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var params domain.CreateOrderParams
	if err := decodeJSON(r, &params); err != nil {
		ErrorResponse(w, r, err)
		return
	}

	result, err := h.service.CreateOrder(r.Context(), params)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

// TrackOrder handles GET /api/orders/track/{orderNumber}.
func (h *OrderHandler) TrackOrder(w http.ResponseWriter, r *http.Request) {
	orderNumber := r.PathValue("orderNumber")

	order, err := h.service.TrackOrder(r.Context(), orderNumber)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

// VerifyPayment handles GET /api/orders/{orderNumber}/verify-payment.
func (h *OrderHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	orderNumber := r.PathValue("orderNumber")

	verification, err := h.service.VerifyPayment(r.Context(), orderNumber)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, verification)
}

// ListOrders handles GET /api/orders for staff.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orderStatus := r.URL.Query().Get("orderStatus")
	if orderStatus == "" {
		orderStatus = r.URL.Query().Get("status")
	}

	params := domain.ListOrdersParams{
		OrderStatus:   orderStatus,
		PaymentStatus: r.URL.Query().Get("paymentStatus"),
		Page:          queryInt32(r, "page"),
		Limit:         queryInt32(r, "limit"),
	}

	page, err := h.service.ListOrders(r.Context(), params)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

// UpdateStatus handles PUT /api/orders/{id}/status for staff.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	var params domain.UpdateStatusParams
	if err := decodeJSON(r, &params); err != nil {
		ErrorResponse(w, r, err)
		return
	}

	order, err := h.service.UpdateStatus(r.Context(), id, params)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

// Refund handles POST /api/orders/{id}/refund for staff.
func (h *OrderHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	params := domain.RefundParams{}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &params); err != nil {
			ErrorResponse(w, r, err)
			return
		}
	}

	order, err := h.service.Refund(r.Context(), id, params)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, domain.Invalid("", "Invalid order id")
	}
	return id, nil
}

func queryInt32(r *http.Request, name string) int32 {
	v, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 32)
	if err != nil {
		return 0
	}
	return int32(v)
}
