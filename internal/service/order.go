package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/vazaro/shop/internal/domain"
	"github.com/vazaro/shop/internal/notify"
	"github.com/vazaro/shop/internal/payment"
	"github.com/vazaro/shop/internal/telemetry"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// orderNumberAttempts bounds regeneration when the random suffix
	// collides with an existing order on the same day.
	orderNumberAttempts = 3
)

// OrderServiceConfig carries deployment-level settings for the order
// service.
type OrderServiceConfig struct {
	// ProviderName labels gateway metrics (sberbank, yookassa, mock).
	ProviderName string

	// ReturnURL is the page customers land on after the hosted payment
	// form; the order number is appended as the last path segment.
	ReturnURL string
}

// OrderService implements domain.OrderService. It owns order creation,
// both reconciliation entry points and the staff operations.
//
// The reconciliation contract: the gateway is the single source of
// payment truth, every transition out of pending goes through the
// store's compare-and-set, and the payment-confirmed notification fires
// exactly once no matter how many poll and webhook deliveries race.
type OrderService struct {
	store      domain.OrderStore
	provider   payment.Provider
	dispatcher *notify.Dispatcher
	validate   *validator.Validate
	logger     *slog.Logger
	config     OrderServiceConfig

	now func() time.Time
}

// Compile-time check that OrderService implements domain.OrderService.
var _ domain.OrderService = (*OrderService)(nil)

// NewOrderService creates the order service.
func NewOrderService(store domain.OrderStore, provider payment.Provider, dispatcher *notify.Dispatcher, config OrderServiceConfig, logger *slog.Logger) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderService{
		store:      store,
		provider:   provider,
		dispatcher: dispatcher,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
		config:     config,
		now:        time.Now,
	}
}

// =============================================================================
// Checkout
// =============================================================================

// CreateOrder validates the cart, persists the order and opens a payment
// with the gateway.
//
// The order is persisted before the gateway call. A gateway failure
// therefore never loses the order: it stays in (new, pending) and the
// customer can retry payment, while the caller sees a retryable error.
func (s *OrderService) CreateOrder(ctx context.Context, params domain.CreateOrderParams) (*domain.CreateOrderResult, error) {
	const op = "order.create"

	if err := s.validateCreateParams(op, params); err != nil {
		return nil, err
	}

	method := domain.ShippingMethod(params.Shipping.Method)
	if params.Shipping.Method == "" {
		method = domain.ShippingMethodPickupPoint
	}

	order := &domain.Order{
		ID: uuid.New(),
		Customer: domain.Customer{
			FirstName: params.Customer.FirstName,
			LastName:  params.Customer.LastName,
			Email:     params.Customer.Email,
			Phone:     params.Customer.Phone,
		},
		Shipping: domain.Shipping{
			Method:     method,
			Address:    params.Shipping.Address,
			City:       params.Shipping.City,
			PostalCode: params.Shipping.PostalCode,
			Apartment:  params.Shipping.Apartment,
			Cost:       params.Shipping.Cost,
			Country:    params.Shipping.Country,
		},
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusNew,
		Notes:         params.Notes,
	}
	for _, item := range params.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Image:     item.Image,
		})
	}
	order.TotalAmount = orderTotal(order.Items, order.Shipping.Cost)

	if err := s.persistWithFreshNumber(ctx, order); err != nil {
		return nil, err
	}

	s.logger.Info("order created",
		"order_number", order.OrderNumber,
		"total", order.TotalAmount,
		"items", len(order.Items),
	)
	if telemetry.Business != nil {
		telemetry.Business.OrdersCreated.WithLabelValues(string(order.Shipping.Method)).Inc()
		telemetry.Business.OrderValue.WithLabelValues(string(order.Shipping.Method)).Observe(order.TotalAmount)
		telemetry.Business.OrderItemCount.WithLabelValues().Observe(float64(len(order.Items)))
	}
	s.dispatcher.Dispatch(notify.EventOrderCreated, order)

	opened, err := s.openPayment(ctx, order)
	if err != nil {
		if telemetry.Business != nil {
			telemetry.Business.PaymentOpenFailed.WithLabelValues(s.config.ProviderName).Inc()
		}
		s.logger.Error("failed to open payment, order stays pending",
			"order_number", order.OrderNumber,
			"error", err,
		)
		return nil, s.mapGatewayError(err, op, "failed to open payment")
	}

	if err := s.store.SetOrderPaymentID(ctx, order.ID, opened.ProviderOrderID); err != nil {
		return nil, err
	}
	order.PaymentID = opened.ProviderOrderID

	if telemetry.Business != nil {
		telemetry.Business.PaymentsOpened.WithLabelValues(s.config.ProviderName).Inc()
	}

	return &domain.CreateOrderResult{
		Order:       order,
		RedirectURL: opened.RedirectURL,
	}, nil
}

// persistWithFreshNumber assigns a business number and inserts the
// order, regenerating the number on a same-day suffix collision.
func (s *OrderService) persistWithFreshNumber(ctx context.Context, order *domain.Order) error {
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		order.OrderNumber = s.generateOrderNumber()
		now := s.now().UTC()
		order.CreatedAt = now
		order.UpdatedAt = now

		err := s.store.CreateOrder(ctx, order)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrOrderNumberTaken) {
			return err
		}
		s.logger.Warn("order number collision, regenerating", "order_number", order.OrderNumber)
	}
	return domain.ErrOrderNumberTaken
}

// generateOrderNumber produces ORD-YYYYMMDD-NNNN with a random 4-digit
// suffix. Uniqueness is enforced by the store, not here.
func (s *OrderService) generateOrderNumber() string {
	return fmt.Sprintf("ORD-%s-%04d", s.now().UTC().Format("20060102"), rand.IntN(10000))
}

func (s *OrderService) openPayment(ctx context.Context, order *domain.Order) (*payment.Payment, error) {
	start := time.Now()
	opened, err := s.provider.OpenPayment(ctx, payment.OpenPaymentParams{
		AmountMinor:   payment.MinorUnits(order.TotalAmount),
		OrderNumber:   order.OrderNumber,
		Description:   fmt.Sprintf("Order %s", order.OrderNumber),
		ReturnURL:     s.returnURLFor(order.OrderNumber),
		CustomerEmail: order.Customer.Email,
	})
	if telemetry.Business != nil {
		telemetry.Business.GatewayLatency.WithLabelValues("open").Observe(time.Since(start).Seconds())
	}
	return opened, err
}

func (s *OrderService) returnURLFor(orderNumber string) string {
	return strings.TrimSuffix(s.config.ReturnURL, "/") + "/" + orderNumber
}

// validateCreateParams runs struct validation and reports every invalid
// field at once so the storefront can annotate the whole form.
func (s *OrderService) validateCreateParams(op string, params domain.CreateOrderParams) error {
	var result error

	if err := s.validate.Struct(params); err != nil {
		var invalid validator.ValidationErrors
		if !errors.As(err, &invalid) {
			return domain.Internal(err, op, "validation failed")
		}
		for _, fe := range invalid {
			result = domain.AddFieldError(result, fieldPath(fe.Namespace()), validationMessage(fe))
		}
	}

	if params.Shipping.Method != "" && !domain.ShippingMethod(params.Shipping.Method).Valid() {
		result = domain.AddFieldError(result, "shipping.method", "must be one of pickup_point, courier, post")
	}

	return result
}

// fieldPath converts a validator namespace like
// "CreateOrderParams.Customer.Email" into "customer.email".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToLower(p[:1]) + p[1:]
	}
	return strings.Join(parts, ".")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be %s or more", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// orderTotal is the line item sum plus shipping, rounded to cents.
func orderTotal(items []domain.OrderItem, shippingCost float64) float64 {
	total := shippingCost
	for _, item := range items {
		total += item.Price * float64(item.Quantity)
	}
	return math.Round(total*100) / 100
}

// =============================================================================
// Tracking and reconciliation
// =============================================================================

// TrackOrder returns the stored snapshot without contacting the gateway.
func (s *OrderService) TrackOrder(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return s.store.GetOrderByNumber(ctx, orderNumber)
}

// VerifyPayment is the client poll path. Terminal orders short-circuit
// without a gateway call; pending orders are reconciled against the
// gateway's canonical state.
func (s *OrderService) VerifyPayment(ctx context.Context, orderNumber string) (*domain.PaymentVerification, error) {
	const op = "order.verify_payment"

	order, err := s.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}

	if order.PaymentStatus.Terminal() || order.PaymentID == "" {
		return &domain.PaymentVerification{
			OrderStatus:   order.OrderStatus,
			PaymentStatus: order.PaymentStatus,
		}, nil
	}

	state, err := s.queryPayment(ctx, order.PaymentID, "poll")
	if err != nil {
		return nil, s.mapGatewayError(err, op, "failed to verify payment")
	}

	order, err = s.reconcile(ctx, order, state.Status, "poll")
	if err != nil {
		return nil, err
	}

	return &domain.PaymentVerification{
		OrderStatus:   order.OrderStatus,
		PaymentStatus: order.PaymentStatus,
	}, nil
}

// HandleGatewayCallback is the webhook path. The delivery payload only
// identifies the payment; the gateway is re-queried so a forged or stale
// callback can never flip an order.
func (s *OrderService) HandleGatewayCallback(ctx context.Context, providerPaymentID string) error {
	const op = "order.gateway_callback"

	order, err := s.store.GetOrderByPaymentID(ctx, providerPaymentID)
	if err != nil {
		return err
	}

	// Duplicate delivery for a settled order is normal gateway behavior.
	if order.PaymentStatus.Terminal() {
		return nil
	}

	state, err := s.queryPayment(ctx, order.PaymentID, "webhook")
	if err != nil {
		return s.mapGatewayError(err, op, "failed to query payment for callback")
	}

	_, err = s.reconcile(ctx, order, state.Status, "webhook")
	return err
}

func (s *OrderService) queryPayment(ctx context.Context, paymentID, source string) (*payment.State, error) {
	if telemetry.Business != nil {
		telemetry.Business.ReconcileAttempts.WithLabelValues(source).Inc()
	}
	start := time.Now()
	state, err := s.provider.QueryPayment(ctx, paymentID)
	if telemetry.Business != nil {
		telemetry.Business.GatewayLatency.WithLabelValues("query").Observe(time.Since(start).Seconds())
	}
	return state, err
}

// reconcile maps the gateway status onto the order state machine and
// applies it with a compare-and-set. Losing the race to a concurrent
// reconciler is not an error; the stored state is reloaded and returned.
func (s *OrderService) reconcile(ctx context.Context, order *domain.Order, remote payment.RemoteStatus, source string) (*domain.Order, error) {
	var (
		paymentStatus domain.PaymentStatus
		orderStatus   domain.OrderStatus
	)

	switch remote {
	case payment.StatusPaid:
		paymentStatus = domain.PaymentStatusPaid
		orderStatus = domain.OrderStatusProcessing
	case payment.StatusCanceled, payment.StatusRejected:
		// The order returns to the retryable start state.
		paymentStatus = domain.PaymentStatusFailed
		orderStatus = domain.OrderStatusNew
	case payment.StatusCreated, payment.StatusPreauth:
		// Payment still in flight, nothing to record yet.
		return order, nil
	default:
		// Refunds are administrative and unknown statuses are ignored
		// rather than guessed at.
		s.logger.Warn("ignoring gateway status",
			"order_number", order.OrderNumber,
			"status", remote.String(),
			"source", source,
		)
		return order, nil
	}

	won, err := s.store.TransitionPayment(ctx, order.ID, paymentStatus, orderStatus)
	if err != nil {
		return nil, err
	}

	if !won {
		if telemetry.Business != nil {
			telemetry.Business.ReconcileRaceLost.WithLabelValues(source).Inc()
		}
		s.logger.Info("payment transition already applied by concurrent reconciler",
			"order_number", order.OrderNumber,
			"source", source,
		)
		return s.store.GetOrderByID(ctx, order.ID)
	}

	order.PaymentStatus = paymentStatus
	order.OrderStatus = orderStatus

	s.logger.Info("payment reconciled",
		"order_number", order.OrderNumber,
		"payment_status", string(paymentStatus),
		"source", source,
	)
	if telemetry.Business != nil {
		telemetry.Business.ReconcileApplied.WithLabelValues(source, string(paymentStatus)).Inc()
	}

	switch paymentStatus {
	case domain.PaymentStatusPaid:
		if telemetry.Business != nil {
			telemetry.Business.PaymentSucceeded.WithLabelValues(source).Inc()
			telemetry.Business.RevenueCollected.WithLabelValues().Add(order.TotalAmount)
		}
		// The CAS win guarantees this fires exactly once per order.
		s.dispatcher.Dispatch(notify.EventPaymentConfirmed, order)
	case domain.PaymentStatusFailed:
		if telemetry.Business != nil {
			telemetry.Business.PaymentFailed.WithLabelValues(source).Inc()
		}
	}

	return order, nil
}

// =============================================================================
// Staff operations
// =============================================================================

// ListOrders returns a filtered page of orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, params domain.ListOrdersParams) (*domain.OrderPage, error) {
	filter := domain.OrderFilter{}

	if params.OrderStatus != "" {
		status := domain.OrderStatus(params.OrderStatus)
		if !status.Valid() {
			return nil, domain.NewValidationError("order.list", "orderStatus", "unknown order status")
		}
		filter.OrderStatus = &status
	}
	if params.PaymentStatus != "" {
		status := domain.PaymentStatus(params.PaymentStatus)
		if !status.Valid() {
			return nil, domain.NewValidationError("order.list", "paymentStatus", "unknown payment status")
		}
		filter.PaymentStatus = &status
	}

	filter.Limit = params.Limit
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	filter.Page = params.Page
	if filter.Page <= 0 {
		filter.Page = 1
	}

	orders, total, err := s.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, err
	}

	pages := total / int64(filter.Limit)
	if total%int64(filter.Limit) != 0 {
		pages++
	}

	return &domain.OrderPage{
		Orders: orders,
		Pagination: domain.Pagination{
			Total: total,
			Page:  filter.Page,
			Pages: pages,
		},
	}, nil
}

// UpdateStatus applies an administrative override. It bypasses the
// compare-and-set on purpose: staff resolve disputes the automatic path
// cannot, including moving orders out of terminal payment states.
func (s *OrderService) UpdateStatus(ctx context.Context, id uuid.UUID, params domain.UpdateStatusParams) (*domain.Order, error) {
	const op = "order.update_status"

	if params.OrderStatus == "" && params.PaymentStatus == "" {
		return nil, domain.Invalid(op, "at least one of orderStatus or paymentStatus is required")
	}

	update := domain.StatusUpdate{}
	if params.OrderStatus != "" {
		status := domain.OrderStatus(params.OrderStatus)
		if !status.Valid() {
			return nil, domain.NewValidationError(op, "orderStatus", "unknown order status")
		}
		update.OrderStatus = &status
	}
	if params.PaymentStatus != "" {
		status := domain.PaymentStatus(params.PaymentStatus)
		if !status.Valid() {
			return nil, domain.NewValidationError(op, "paymentStatus", "unknown payment status")
		}
		update.PaymentStatus = &status
	}

	before, err := s.store.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}

	order, err := s.store.UpdateOrderStatus(ctx, id, update)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order status overridden",
		"order_number", order.OrderNumber,
		"order_status", string(order.OrderStatus),
		"payment_status", string(order.PaymentStatus),
	)

	// A manual paid override confirms the payment the same way the
	// automatic path does.
	if update.PaymentStatus != nil && *update.PaymentStatus == domain.PaymentStatusPaid &&
		before.PaymentStatus != domain.PaymentStatusPaid {
		if telemetry.Business != nil {
			telemetry.Business.PaymentSucceeded.WithLabelValues("admin").Inc()
		}
		s.dispatcher.Dispatch(notify.EventPaymentConfirmed, order)
	}

	if update.OrderStatus != nil && before.OrderStatus != *update.OrderStatus {
		switch *update.OrderStatus {
		case domain.OrderStatusShipped:
			s.dispatcher.Dispatch(notify.EventOrderShipped, order)
		case domain.OrderStatusDelivered:
			s.dispatcher.Dispatch(notify.EventOrderDelivered, order)
		}
	}

	return order, nil
}

// Refund asks the gateway to return the money and records the refund.
func (s *OrderService) Refund(ctx context.Context, id uuid.UUID, params domain.RefundParams) (*domain.Order, error) {
	const op = "order.refund"

	order, err := s.store.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		return nil, domain.ErrOrderNotPaid
	}
	if order.PaymentID == "" {
		return nil, domain.ErrPaymentNotOpened
	}

	var amountMinor int64
	if params.Amount != nil {
		if *params.Amount <= 0 || *params.Amount > order.TotalAmount {
			return nil, domain.NewValidationError(op, "amount", "must be positive and not exceed the order total")
		}
		amountMinor = payment.MinorUnits(*params.Amount)
	}

	start := time.Now()
	err = s.provider.RefundPayment(ctx, order.PaymentID, amountMinor)
	if telemetry.Business != nil {
		telemetry.Business.GatewayLatency.WithLabelValues("refund").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, s.mapGatewayError(err, op, "gateway refused the refund")
	}

	refunded := domain.PaymentStatusRefunded
	order, err = s.store.UpdateOrderStatus(ctx, id, domain.StatusUpdate{PaymentStatus: &refunded})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order refunded", "order_number", order.OrderNumber)
	if telemetry.Business != nil {
		telemetry.Business.RefundsIssued.WithLabelValues().Inc()
	}
	s.dispatcher.Dispatch(notify.EventOrderRefunded, order)

	return order, nil
}

// mapGatewayError translates payment package errors into the domain
// taxonomy: transient failures become EUNAVAILABLE (503, retryable),
// provider rejections become EPAYMENT, unknown payments ENOTFOUND.
func (s *OrderService) mapGatewayError(err error, op, message string) error {
	switch {
	case payment.IsUnavailable(err):
		return domain.Unavailable(err, op, message)
	case errors.Is(err, payment.ErrPaymentNotFound):
		return domain.WrapError(err, domain.ENOTFOUND, op, "payment not found at the gateway")
	case payment.IsRejected(err):
		return domain.WrapError(err, domain.EPAYMENT, op, message)
	default:
		return domain.Internal(err, op, message)
	}
}
