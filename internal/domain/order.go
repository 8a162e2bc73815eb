package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the fulfillment state of an order.
type OrderStatus string

const (
	OrderStatusNew        OrderStatus = "new"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusNew, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentStatus is the payment state of an order.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether s is a final payment state. Reconciliation
// never moves an order out of a terminal state; only the administrative
// override path may (e.g. paid -> refunded).
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusFailed || s == PaymentStatusRefunded
}

// ShippingMethod is the delivery channel chosen at checkout.
type ShippingMethod string

const (
	ShippingMethodPickupPoint ShippingMethod = "pickup_point"
	ShippingMethodCourier     ShippingMethod = "courier"
	ShippingMethodPost        ShippingMethod = "post"
)

// Valid reports whether m is a known shipping method.
func (m ShippingMethod) Valid() bool {
	switch m {
	case ShippingMethodPickupPoint, ShippingMethodCourier, ShippingMethodPost:
		return true
	}
	return false
}

// OrderItem is a line entry snapshot. Name, price and image are copied
// from the catalog at order time so later catalog edits cannot alter a
// placed order.
type OrderItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int32   `json:"quantity"`
	Image     string  `json:"image,omitempty"`
}

// Customer holds contact details captured at order time.
type Customer struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// Shipping holds the delivery destination and cost.
type Shipping struct {
	Method     ShippingMethod `json:"method"`
	Address    string         `json:"address"`
	City       string         `json:"city"`
	PostalCode string         `json:"postalCode,omitempty"`
	Apartment  string         `json:"apartment,omitempty"`
	Cost       float64        `json:"cost"`
	Country    string         `json:"country"`
}

// Order is the aggregate root of the reconciliation core.
//
// Identity is twofold: ID is the storage key, OrderNumber is the
// human-facing business number (ORD-YYYYMMDD-NNNN), assigned exactly once
// at creation. PaymentID is the gateway's reference to the payment attempt
// and the join key for webhook deliveries; once set it is never reassigned.
type Order struct {
	ID            uuid.UUID     `json:"id"`
	OrderNumber   string        `json:"orderNumber"`
	Items         []OrderItem   `json:"items"`
	Customer      Customer      `json:"customer"`
	Shipping      Shipping      `json:"shipping"`
	TotalAmount   float64       `json:"totalAmount"`
	PaymentID     string        `json:"paymentId,omitempty"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	OrderStatus   OrderStatus   `json:"orderStatus"`
	Notes         string        `json:"notes,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Order-related domain errors.
var (
	ErrOrderNotFound    = &Error{Code: ENOTFOUND, Message: "Order not found"}
	ErrOrderNumberTaken = &Error{Code: ECONFLICT, Message: "Order number already in use"}
	ErrOrderNotPaid     = &Error{Code: ECONFLICT, Message: "Order has not been paid"}
	ErrPaymentNotOpened = &Error{Code: EINVALID, Message: "Order has no payment attached"}
)

// OrderFilter narrows and pages the staff order listing.
type OrderFilter struct {
	OrderStatus   *OrderStatus
	PaymentStatus *PaymentStatus
	Page          int32
	Limit         int32
}

// StatusUpdate carries the administrative override. Nil fields are left
// untouched.
type StatusUpdate struct {
	OrderStatus   *OrderStatus
	PaymentStatus *PaymentStatus
}

// OrderStore owns Order persistence.
//
// The store is the only shared mutable resource in the system; every
// status mutation that races with another writer goes through
// TransitionPayment, a compare-and-set keyed on the current payment
// status.
type OrderStore interface {
	// CreateOrder persists a fully populated order. Returns
	// ErrOrderNumberTaken when the business number collides with an
	// existing order.
	CreateOrder(ctx context.Context, order *Order) error

	// GetOrderByID retrieves an order by storage id.
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)

	// GetOrderByNumber retrieves an order by business number.
	GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error)

	// GetOrderByPaymentID retrieves an order by the gateway's payment id.
	GetOrderByPaymentID(ctx context.Context, paymentID string) (*Order, error)

	// SetOrderPaymentID records the gateway payment id after a payment
	// is opened. Called once per order.
	SetOrderPaymentID(ctx context.Context, id uuid.UUID, paymentID string) error

	// TransitionPayment atomically moves the order from pending to the
	// given terminal payment status, updating the order status alongside.
	// Returns true when this call performed the transition and false when
	// the order was no longer pending (a concurrent writer won the race).
	TransitionPayment(ctx context.Context, id uuid.UUID, paymentStatus PaymentStatus, orderStatus OrderStatus) (bool, error)

	// UpdateOrderStatus applies an administrative override, setting the
	// provided fields unconditionally.
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, update StatusUpdate) (*Order, error)

	// ListOrders returns a page of orders, newest first, with the total
	// count of orders matching the filter.
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, int64, error)

	// ListStalePending returns up to limit orders that have an open
	// payment, are still pending, and were last touched before cutoff,
	// oldest first. Feeds the background reconciliation sweep; the
	// oldest-first order guarantees a stuck order cannot be starved by
	// newer traffic.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int32) ([]Order, error)
}

// =============================================================================
// Order service boundary
// =============================================================================

// CreateOrderItemParams is one line of an incoming cart.
type CreateOrderItemParams struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name" validate:"required"`
	Price     float64 `json:"price" validate:"gt=0"`
	Quantity  int32   `json:"quantity" validate:"min=1"`
	Image     string  `json:"image"`
}

// CreateCustomerParams is the customer block of an incoming order.
type CreateCustomerParams struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"required"`
}

// CreateShippingParams is the shipping block of an incoming order.
type CreateShippingParams struct {
	Method     string  `json:"method"`
	Address    string  `json:"address" validate:"required"`
	City       string  `json:"city" validate:"required"`
	PostalCode string  `json:"postalCode"`
	Apartment  string  `json:"apartment"`
	Cost       float64 `json:"cost" validate:"gte=0"`
	Country    string  `json:"country"`
}

// CreateOrderParams is the checkout payload.
type CreateOrderParams struct {
	Items    []CreateOrderItemParams `json:"items" validate:"required,min=1,dive"`
	Customer CreateCustomerParams    `json:"customer"`
	Shipping CreateShippingParams    `json:"shipping"`
	Notes    string                  `json:"notes"`
}

// CreateOrderResult is returned from a successful checkout.
type CreateOrderResult struct {
	Order       *Order `json:"order"`
	RedirectURL string `json:"paymentUrl"`
}

// PaymentVerification is the outcome of a poll-path reconciliation.
type PaymentVerification struct {
	OrderStatus   OrderStatus   `json:"orderStatus"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
}

// UpdateStatusParams carries the administrative status override request.
type UpdateStatusParams struct {
	OrderStatus   string `json:"orderStatus"`
	PaymentStatus string `json:"paymentStatus"`
}

// RefundParams carries a staff-initiated refund. A nil Amount requests a
// full refund.
type RefundParams struct {
	Amount *float64 `json:"amount"`
}

// ListOrdersParams carries the staff listing request.
type ListOrdersParams struct {
	OrderStatus   string
	PaymentStatus string
	Page          int32
	Limit         int32
}

// Pagination describes a page of the staff listing.
type Pagination struct {
	Total int64 `json:"total"`
	Page  int32 `json:"page"`
	Pages int64 `json:"pages"`
}

// OrderPage is a page of orders plus pagination metadata.
type OrderPage struct {
	Orders     []Order    `json:"orders"`
	Pagination Pagination `json:"pagination"`
}

// OrderService provides the order lifecycle operations: checkout, the
// two reconciliation entry points (client poll and gateway webhook), the
// staff listing and the administrative overrides.
type OrderService interface {
	// CreateOrder validates the cart, persists the order, opens a payment
	// with the gateway and returns the redirect URL. The order survives a
	// payment-open failure and stays retryable in (new, pending).
	CreateOrder(ctx context.Context, params CreateOrderParams) (*CreateOrderResult, error)

	// TrackOrder returns the order snapshot for the given business number
	// without contacting the gateway.
	TrackOrder(ctx context.Context, orderNumber string) (*Order, error)

	// VerifyPayment is the client poll path: it queries the gateway for
	// the canonical payment state and applies an idempotent transition.
	VerifyPayment(ctx context.Context, orderNumber string) (*PaymentVerification, error)

	// HandleGatewayCallback is the webhook path, keyed by the provider's
	// payment id. The callback payload is never trusted; the gateway is
	// re-queried before any state change.
	HandleGatewayCallback(ctx context.Context, providerPaymentID string) error

	// ListOrders returns a filtered, paginated page for staff.
	ListOrders(ctx context.Context, params ListOrdersParams) (*OrderPage, error)

	// UpdateStatus applies an administrative override, bypassing
	// reconciliation. Setting paymentStatus to paid fires the same
	// payment-confirmed notification as the automatic path.
	UpdateStatus(ctx context.Context, id uuid.UUID, params UpdateStatusParams) (*Order, error)

	// Refund asks the gateway to refund the payment (full refund when no
	// amount is given) and overrides the payment status to refunded.
	Refund(ctx context.Context, id uuid.UUID, params RefundParams) (*Order, error)
}
