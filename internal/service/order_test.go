package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vazaro/shop/internal/domain"
	"github.com/vazaro/shop/internal/notify"
	"github.com/vazaro/shop/internal/payment"
)

// mockOrderStore is an in-memory domain.OrderStore with the same
// compare-and-set semantics as the SQL implementation.
type mockOrderStore struct {
	CreateOrderFunc func(ctx context.Context, order *domain.Order) error

	mu     sync.Mutex
	orders map[uuid.UUID]*domain.Order
}

func newMockOrderStore() *mockOrderStore {
	return &mockOrderStore{orders: make(map[uuid.UUID]*domain.Order)}
}

func (m *mockOrderStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	if m.CreateOrderFunc != nil {
		if err := m.CreateOrderFunc(ctx, order); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.OrderNumber == order.OrderNumber {
			return domain.ErrOrderNumberTaken
		}
	}
	copied := *order
	m.orders[order.ID] = &copied
	return nil
}

func (m *mockOrderStore) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (m *mockOrderStore) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.OrderNumber == orderNumber {
			copied := *order
			return &copied, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (m *mockOrderStore) GetOrderByPaymentID(ctx context.Context, paymentID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.PaymentID != "" && order.PaymentID == paymentID {
			copied := *order
			return &copied, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (m *mockOrderStore) SetOrderPaymentID(ctx context.Context, id uuid.UUID, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.PaymentID = paymentID
	return nil
}

func (m *mockOrderStore) TransitionPayment(ctx context.Context, id uuid.UUID, paymentStatus domain.PaymentStatus, orderStatus domain.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return false, nil
	}
	order.PaymentStatus = paymentStatus
	order.OrderStatus = orderStatus
	return true, nil
}

func (m *mockOrderStore) UpdateOrderStatus(ctx context.Context, id uuid.UUID, update domain.StatusUpdate) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if update.OrderStatus != nil {
		order.OrderStatus = *update.OrderStatus
	}
	if update.PaymentStatus != nil {
		order.PaymentStatus = *update.PaymentStatus
	}
	copied := *order
	return &copied, nil
}

func (m *mockOrderStore) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []domain.Order
	for _, order := range m.orders {
		if filter.OrderStatus != nil && order.OrderStatus != *filter.OrderStatus {
			continue
		}
		if filter.PaymentStatus != nil && order.PaymentStatus != *filter.PaymentStatus {
			continue
		}
		matched = append(matched, *order)
	}
	return matched, int64(len(matched)), nil
}

func (m *mockOrderStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int32) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stale []domain.Order
	for _, order := range m.orders {
		if order.PaymentStatus != domain.PaymentStatusPending || order.PaymentID == "" {
			continue
		}
		if !order.UpdatedAt.Before(cutoff) {
			continue
		}
		stale = append(stale, *order)
		if int32(len(stale)) == limit {
			break
		}
	}
	return stale, nil
}

// testHarness bundles the service with its collaborators.
type testHarness struct {
	service  *OrderService
	store    *mockOrderStore
	provider *payment.MockProvider
	sink     *notify.RecordingSink
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	store := newMockOrderStore()
	provider := payment.NewMockProvider()
	sink := notify.NewRecordingSink()
	dispatcher := notify.NewDispatcher(slog.Default(), sink)

	svc := NewOrderService(store, provider, dispatcher, OrderServiceConfig{
		ProviderName: "mock",
		ReturnURL:    "https://shop.test/orders",
	}, slog.Default())

	return &testHarness{service: svc, store: store, provider: provider, sink: sink}
}

func (h *testHarness) wait() {
	h.service.dispatcher.Wait()
}

func validParams() domain.CreateOrderParams {
	return domain.CreateOrderParams{
		Items: []domain.CreateOrderItemParams{
			{ProductID: "vase-1", Name: "Blue vase", Price: 100, Quantity: 2},
			{ProductID: "vase-2", Name: "Green vase", Price: 50, Quantity: 1},
		},
		Customer: domain.CreateCustomerParams{
			FirstName: "Anna",
			LastName:  "Petrova",
			Email:     "anna@example.com",
			Phone:     "+70000000000",
		},
		Shipping: domain.CreateShippingParams{
			Method:  "courier",
			Address: "Arbat 1",
			City:    "Moscow",
			Cost:    30,
		},
	}
}

// createPendingOrder is a helper that runs checkout and returns the
// persisted order, which at that point sits in (new, pending).
func createPendingOrder(t *testing.T, h *testHarness) *domain.Order {
	t.Helper()
	result, err := h.service.CreateOrder(context.Background(), validParams())
	require.NoError(t, err)
	return result.Order
}

// =============================================================================
// Checkout
// =============================================================================

func TestCreateOrderComputesTotal(t *testing.T) {
	h := newTestHarness(t)

	result, err := h.service.CreateOrder(context.Background(), validParams())
	require.NoError(t, err)

	// 100*2 + 50*1 + 30 shipping
	assert.Equal(t, 250.0, result.Order.TotalAmount)
	assert.Equal(t, domain.OrderStatusNew, result.Order.OrderStatus)
	assert.Equal(t, domain.PaymentStatusPending, result.Order.PaymentStatus)
	assert.NotEmpty(t, result.RedirectURL)
	assert.NotEmpty(t, result.Order.PaymentID)
}

func TestCreateOrderNumberFormat(t *testing.T) {
	h := newTestHarness(t)

	result, err := h.service.CreateOrder(context.Background(), validParams())
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^ORD-\d{8}-\d{4}$`)
	assert.Regexp(t, pattern, result.Order.OrderNumber)
	assert.Contains(t, result.Order.OrderNumber, time.Now().UTC().Format("20060102"))
}

func TestCreateOrderRetriesNumberCollision(t *testing.T) {
	h := newTestHarness(t)

	attempts := 0
	h.store.CreateOrderFunc = func(ctx context.Context, order *domain.Order) error {
		attempts++
		if attempts == 1 {
			return domain.ErrOrderNumberTaken
		}
		return nil
	}

	_, err := h.service.CreateOrder(context.Background(), validParams())
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestCreateOrderValidationReportsAllFields(t *testing.T) {
	h := newTestHarness(t)

	params := validParams()
	params.Items = nil
	params.Customer.Email = "not-an-email"
	params.Shipping.City = ""

	_, err := h.service.CreateOrder(context.Background(), params)
	require.Error(t, err)
	require.True(t, domain.IsValidationError(err))

	fields := domain.GetValidationFields(err)
	assert.Contains(t, fields, "items")
	assert.Contains(t, fields, "customer.email")
	assert.Contains(t, fields, "shipping.city")
}

func TestCreateOrderRejectsUnknownShippingMethod(t *testing.T) {
	h := newTestHarness(t)

	params := validParams()
	params.Shipping.Method = "teleport"

	_, err := h.service.CreateOrder(context.Background(), params)
	require.Error(t, err)
	assert.Contains(t, domain.GetValidationFields(err), "shipping.method")
}

func TestCreateOrderSurvivesGatewayOutage(t *testing.T) {
	h := newTestHarness(t)
	h.provider.OpenPaymentFunc = func(ctx context.Context, params payment.OpenPaymentParams) (*payment.Payment, error) {
		return nil, payment.Unavailable("gateway timeout", errors.New("dial tcp: timeout"))
	}

	_, err := h.service.CreateOrder(context.Background(), validParams())
	require.Error(t, err)
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))

	// The order must survive in the retryable start state.
	orders, _, listErr := h.store.ListOrders(context.Background(), domain.OrderFilter{})
	require.NoError(t, listErr)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.PaymentStatusPending, orders[0].PaymentStatus)
	assert.Equal(t, domain.OrderStatusNew, orders[0].OrderStatus)
	assert.Empty(t, orders[0].PaymentID)
}

func TestCreateOrderDispatchesCreatedEvent(t *testing.T) {
	h := newTestHarness(t)

	createPendingOrder(t, h)
	h.wait()

	assert.Equal(t, 1, h.sink.CountByEvent(notify.EventOrderCreated))
}

// =============================================================================
// Poll-path reconciliation
// =============================================================================

func TestVerifyPaymentPaidTransitions(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)
	h.provider.SetStatus(order.PaymentID, payment.StatusPaid)

	v, err := h.service.VerifyPayment(context.Background(), order.OrderNumber)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPaid, v.PaymentStatus)
	assert.Equal(t, domain.OrderStatusProcessing, v.OrderStatus)
}

func TestVerifyPaymentIdempotent(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)
	h.provider.SetStatus(order.PaymentID, payment.StatusPaid)

	for i := 0; i < 5; i++ {
		v, err := h.service.VerifyPayment(context.Background(), order.OrderNumber)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusPaid, v.PaymentStatus)
	}
	h.wait()

	assert.Equal(t, 1, h.sink.CountByEvent(notify.EventPaymentConfirmed),
		"repeated verification must confirm the payment exactly once")
}

func TestVerifyPaymentTerminalSkipsGateway(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)
	h.provider.SetStatus(order.PaymentID, payment.StatusPaid)

	_, err := h.service.VerifyPayment(context.Background(), order.OrderNumber)
	require.NoError(t, err)
	queriesAfterSettle := len(h.provider.CallLog())

	_, err = h.service.VerifyPayment(context.Background(), order.OrderNumber)
	require.NoError(t, err)

	assert.Equal(t, queriesAfterSettle, len(h.provider.CallLog()),
		"terminal orders must not hit the gateway again")
}

func TestVerifyPaymentCanceledReturnsToStart(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)
	h.provider.SetStatus(order.PaymentID, payment.StatusCanceled)

	v, err := h.service.VerifyPayment(context.Background(), order.OrderNumber)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusFailed, v.PaymentStatus)
	assert.Equal(t, domain.OrderStatusNew, v.OrderStatus)
}

func TestVerifyPaymentInFlightStatusesNoChange(t *testing.T) {
	for _, status := range []payment.RemoteStatus{payment.StatusCreated, payment.StatusPreauth} {
		t.Run(status.String(), func(t *testing.T) {
			h := newTestHarness(t)
			order := createPendingOrder(t, h)
			h.provider.SetStatus(order.PaymentID, status)

			v, err := h.service.VerifyPayment(context.Background(), order.OrderNumber)
			require.NoError(t, err)

			assert.Equal(t, domain.PaymentStatusPending, v.PaymentStatus)
			assert.Equal(t, domain.OrderStatusNew, v.OrderStatus)
		})
	}
}

func TestVerifyPaymentWithoutPaymentIDStaysPending(t *testing.T) {
	h := newTestHarness(t)

	// Simulate checkout that persisted the order but failed to open a
	// payment.
	order := &domain.Order{
		ID:            uuid.New(),
		OrderNumber:   "ORD-20260101-0001",
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusNew,
	}
	require.NoError(t, h.store.CreateOrder(context.Background(), order))

	v, err := h.service.VerifyPayment(context.Background(), order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, v.PaymentStatus)
	assert.Empty(t, h.provider.CallLog())
}

func TestVerifyPaymentUnknownOrder(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.service.VerifyPayment(context.Background(), "ORD-20260101-9999")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestVerifyPaymentGatewayDownIsRetryable(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)
	h.provider.QueryPaymentFunc = func(ctx context.Context, providerOrderID string) (*payment.State, error) {
		return nil, payment.Unavailable("gateway 502", nil)
	}

	_, err := h.service.VerifyPayment(context.Background(), order.OrderNumber)
	require.Error(t, err)
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))

	// A transport failure is never treated as a payment determination.
	stored, getErr := h.store.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.PaymentStatusPending, stored.PaymentStatus)
}

// =============================================================================
// Webhook-path reconciliation
// =============================================================================

func TestGatewayCallbackReconciles(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)
	h.provider.SetStatus(order.PaymentID, payment.StatusPaid)

	require.NoError(t, h.service.HandleGatewayCallback(context.Background(), order.PaymentID))

	stored, err := h.store.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, domain.OrderStatusProcessing, stored.OrderStatus)
}

func TestGatewayCallbackNeverTrustsPayload(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)
	// The gateway still reports the payment as merely created, no matter
	// what a forged callback might claim.
	h.provider.SetStatus(order.PaymentID, payment.StatusCreated)

	require.NoError(t, h.service.HandleGatewayCallback(context.Background(), order.PaymentID))

	stored, err := h.store.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, stored.PaymentStatus)
}

func TestGatewayCallbackUnknownPaymentID(t *testing.T) {
	h := newTestHarness(t)

	err := h.service.HandleGatewayCallback(context.Background(), "no-such-payment")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestGatewayCallbackDuplicateAfterSettlement(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)
	h.provider.SetStatus(order.PaymentID, payment.StatusPaid)

	require.NoError(t, h.service.HandleGatewayCallback(context.Background(), order.PaymentID))
	queries := len(h.provider.CallLog())

	// Gateways redeliver; the duplicate must be a silent no-op.
	require.NoError(t, h.service.HandleGatewayCallback(context.Background(), order.PaymentID))
	assert.Equal(t, queries, len(h.provider.CallLog()))

	h.wait()
	assert.Equal(t, 1, h.sink.CountByEvent(notify.EventPaymentConfirmed))
}

func TestPollAndWebhookConverge(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)
	h.provider.SetStatus(order.PaymentID, payment.StatusPaid)

	// Webhook first, then poll.
	require.NoError(t, h.service.HandleGatewayCallback(context.Background(), order.PaymentID))
	v, err := h.service.VerifyPayment(context.Background(), order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, v.PaymentStatus)

	h.wait()
	assert.Equal(t, 1, h.sink.CountByEvent(notify.EventPaymentConfirmed))
}

func TestConcurrentReconciliationSingleWinner(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)
	h.provider.SetStatus(order.PaymentID, payment.StatusPaid)

	const racers = 16
	var wg sync.WaitGroup
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := h.service.VerifyPayment(context.Background(), order.OrderNumber)
				errs <- err
			} else {
				errs <- h.service.HandleGatewayCallback(context.Background(), order.PaymentID)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	h.wait()

	stored, err := h.store.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, 1, h.sink.CountByEvent(notify.EventPaymentConfirmed),
		"racing reconcilers must confirm the payment exactly once")
}

func TestStalePaidReportAfterFailureIsIgnored(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)

	// Settle as failed first.
	h.provider.SetStatus(order.PaymentID, payment.StatusCanceled)
	_, err := h.service.VerifyPayment(context.Background(), order.OrderNumber)
	require.NoError(t, err)

	// A late PAID report must not resurrect the order automatically.
	h.provider.SetStatus(order.PaymentID, payment.StatusPaid)
	v, err := h.service.VerifyPayment(context.Background(), order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, v.PaymentStatus)
}

// =============================================================================
// Staff operations
// =============================================================================

func TestListOrdersDefaultsAndClamps(t *testing.T) {
	h := newTestHarness(t)
	createPendingOrder(t, h)

	page, err := h.service.ListOrders(context.Background(), domain.ListOrdersParams{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Pagination.Total)
	assert.Equal(t, int32(1), page.Pagination.Page)
	assert.Equal(t, int64(1), page.Pagination.Pages)
}

func TestListOrdersRejectsUnknownStatus(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.service.ListOrders(context.Background(), domain.ListOrdersParams{OrderStatus: "bogus"})
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))
}

func TestListOrdersFiltersByPaymentStatus(t *testing.T) {
	h := newTestHarness(t)
	paid := createPendingOrder(t, h)
	createPendingOrder(t, h)
	h.provider.SetStatus(paid.PaymentID, payment.StatusPaid)
	_, err := h.service.VerifyPayment(context.Background(), paid.OrderNumber)
	require.NoError(t, err)

	page, err := h.service.ListOrders(context.Background(), domain.ListOrdersParams{PaymentStatus: "paid"})
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, paid.OrderNumber, page.Orders[0].OrderNumber)
}

func TestUpdateStatusOverridesTerminalState(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)
	h.provider.SetStatus(order.PaymentID, payment.StatusCanceled)
	_, err := h.service.VerifyPayment(context.Background(), order.OrderNumber)
	require.NoError(t, err)

	// The admin decides the payment actually went through.
	updated, err := h.service.UpdateStatus(context.Background(), order.ID, domain.UpdateStatusParams{
		PaymentStatus: "paid",
		OrderStatus:   "processing",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, updated.PaymentStatus)

	h.wait()
	assert.Equal(t, 1, h.sink.CountByEvent(notify.EventPaymentConfirmed))
}

func TestUpdateStatusPaidIsNotRepeatedlyConfirmed(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)

	_, err := h.service.UpdateStatus(context.Background(), order.ID, domain.UpdateStatusParams{PaymentStatus: "paid"})
	require.NoError(t, err)
	_, err = h.service.UpdateStatus(context.Background(), order.ID, domain.UpdateStatusParams{PaymentStatus: "paid"})
	require.NoError(t, err)
	h.wait()

	assert.Equal(t, 1, h.sink.CountByEvent(notify.EventPaymentConfirmed))
}

func TestUpdateStatusShippedNotifies(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)

	_, err := h.service.UpdateStatus(context.Background(), order.ID, domain.UpdateStatusParams{OrderStatus: "shipped"})
	require.NoError(t, err)
	h.wait()

	assert.Equal(t, 1, h.sink.CountByEvent(notify.EventOrderShipped))
}

func TestUpdateStatusRequiresAField(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)

	_, err := h.service.UpdateStatus(context.Background(), order.ID, domain.UpdateStatusParams{})
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestUpdateStatusRejectsUnknownValues(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)

	_, err := h.service.UpdateStatus(context.Background(), order.ID, domain.UpdateStatusParams{OrderStatus: "exploded"})
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))
}

func TestRefundFullAmount(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)
	h.provider.SetStatus(order.PaymentID, payment.StatusPaid)
	_, err := h.service.VerifyPayment(context.Background(), order.OrderNumber)
	require.NoError(t, err)

	refunded, err := h.service.Refund(context.Background(), order.ID, domain.RefundParams{})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, refunded.PaymentStatus)

	h.wait()
	assert.Equal(t, 1, h.sink.CountByEvent(notify.EventOrderRefunded))
}

func TestRefundRequiresPaidOrder(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)

	_, err := h.service.Refund(context.Background(), order.ID, domain.RefundParams{})
	assert.ErrorIs(t, err, domain.ErrOrderNotPaid)
}

func TestRefundRejectsExcessiveAmount(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)
	h.provider.SetStatus(order.PaymentID, payment.StatusPaid)
	_, err := h.service.VerifyPayment(context.Background(), order.OrderNumber)
	require.NoError(t, err)

	amount := order.TotalAmount + 1
	_, err = h.service.Refund(context.Background(), order.ID, domain.RefundParams{Amount: &amount})
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))
}

func TestRefundGatewayRefusalKeepsOrderPaid(t *testing.T) {
	h := newTestHarness(t)
	order := createPendingOrder(t, h)
	h.provider.SetStatus(order.PaymentID, payment.StatusPaid)
	_, err := h.service.VerifyPayment(context.Background(), order.OrderNumber)
	require.NoError(t, err)

	h.provider.RefundPaymentFunc = func(ctx context.Context, providerOrderID string, amountMinor int64) error {
		return payment.Rejected("refund window expired", "7")
	}

	_, err = h.service.Refund(context.Background(), order.ID, domain.RefundParams{})
	require.Error(t, err)
	assert.Equal(t, domain.EPAYMENT, domain.ErrorCode(err))

	stored, getErr := h.store.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.PaymentStatusPaid, stored.PaymentStatus)
}

// =============================================================================
// Helpers
// =============================================================================

func TestOrderTotalRounding(t *testing.T) {
	items := []domain.OrderItem{
		{Price: 19.99, Quantity: 3},
		{Price: 0.1, Quantity: 1},
	}
	assert.Equal(t, 60.07, orderTotal(items, 0))
}

func TestFieldPath(t *testing.T) {
	tests := []struct {
		namespace string
		expected  string
	}{
		{"CreateOrderParams.Customer.Email", "customer.email"},
		{"CreateOrderParams.Items", "items"},
		{"CreateOrderParams.Items[0].Name", "items[0].name"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, fieldPath(tt.namespace), fmt.Sprintf("namespace %s", tt.namespace))
	}
}
