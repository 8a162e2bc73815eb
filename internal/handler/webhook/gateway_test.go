package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vazaro/shop/internal/domain"
)

// callbackService records what the webhook handler forwards.
type callbackService struct {
	domain.OrderService

	callbackErr error
	received    []string
}

func (s *callbackService) HandleGatewayCallback(ctx context.Context, providerPaymentID string) error {
	s.received = append(s.received, providerPaymentID)
	return s.callbackErr
}

func assertAccepted(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.True(t, response.Success)
}

func TestWebhookNestedObjectID(t *testing.T) {
	svc := &callbackService{}
	h := NewGatewayHandler(svc)

	paymentID := uuid.NewString()
	body := `{"type": "notification", "event": "payment.succeeded", "object": {"id": "` + paymentID + `", "status": "succeeded"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders/webhook/payment", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandlePaymentNotification(rec, req)

	assertAccepted(t, rec)
	require.Len(t, svc.received, 1)
	assert.Equal(t, paymentID, svc.received[0])
}

func TestWebhookFlatOrderID(t *testing.T) {
	svc := &callbackService{}
	h := NewGatewayHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/webhook/payment",
		strings.NewReader(`{"orderId": "sber-123", "status": 2}`))
	rec := httptest.NewRecorder()

	h.HandlePaymentNotification(rec, req)

	assertAccepted(t, rec)
	require.Len(t, svc.received, 1)
	assert.Equal(t, "sber-123", svc.received[0])
}

func TestWebhookQueryParamFallback(t *testing.T) {
	svc := &callbackService{}
	h := NewGatewayHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/webhook/payment?mdOrder=sber-456", nil)
	rec := httptest.NewRecorder()

	h.HandlePaymentNotification(rec, req)

	assertAccepted(t, rec)
	require.Len(t, svc.received, 1)
	assert.Equal(t, "sber-456", svc.received[0])
}

func TestWebhookUnknownPaymentStillAccepted(t *testing.T) {
	svc := &callbackService{callbackErr: domain.ErrOrderNotFound}
	h := NewGatewayHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/webhook/payment",
		strings.NewReader(`{"object": {"id": "never-seen"}}`))
	rec := httptest.NewRecorder()

	h.HandlePaymentNotification(rec, req)

	assertAccepted(t, rec)
}

func TestWebhookProcessingErrorStillAccepted(t *testing.T) {
	svc := &callbackService{
		callbackErr: domain.Internal(assert.AnError, "order.webhook", "gateway query failed"),
	}
	h := NewGatewayHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/webhook/payment",
		strings.NewReader(`{"object": {"id": "pay-1"}}`))
	rec := httptest.NewRecorder()

	h.HandlePaymentNotification(rec, req)

	assertAccepted(t, rec)
}

func TestWebhookGarbageBodyAccepted(t *testing.T) {
	svc := &callbackService{}
	h := NewGatewayHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/webhook/payment",
		strings.NewReader(`not json at all`))
	rec := httptest.NewRecorder()

	h.HandlePaymentNotification(rec, req)

	assertAccepted(t, rec)
	assert.Empty(t, svc.received)
}

func TestWebhookEmptyRequestAccepted(t *testing.T) {
	svc := &callbackService{}
	h := NewGatewayHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/webhook/payment", nil)
	rec := httptest.NewRecorder()

	h.HandlePaymentNotification(rec, req)

	assertAccepted(t, rec)
	assert.Empty(t, svc.received)
}
