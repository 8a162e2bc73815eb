package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vazaro/shop/internal/domain"
)

// BusSink publishes order events to NATS so downstream consumers
// (fulfillment, analytics) can react without being in the request path.
type BusSink struct {
	conn    *nats.Conn
	subject string
}

// busEvent is the wire envelope published per event.
type busEvent struct {
	Event         string    `json:"event"`
	OrderID       string    `json:"orderId"`
	OrderNumber   string    `json:"orderNumber"`
	OrderStatus   string    `json:"orderStatus"`
	PaymentStatus string    `json:"paymentStatus"`
	TotalAmount   float64   `json:"totalAmount"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// NewBusSink connects to NATS and returns a sink publishing under
// subjectPrefix (e.g. "shop.orders" yields "shop.orders.payment_confirmed").
func NewBusSink(url, subjectPrefix string) (*BusSink, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if subjectPrefix == "" {
		subjectPrefix = "shop.orders"
	}
	return &BusSink{conn: conn, subject: subjectPrefix}, nil
}

func (s *BusSink) Name() string { return "bus" }

func (s *BusSink) Notify(ctx context.Context, event Event, order *domain.Order) error {
	payload, err := json.Marshal(busEvent{
		Event:         string(event),
		OrderID:       order.ID.String(),
		OrderNumber:   order.OrderNumber,
		OrderStatus:   string(order.OrderStatus),
		PaymentStatus: string(order.PaymentStatus),
		TotalAmount:   order.TotalAmount,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := s.conn.Publish(s.subject+"."+string(event), payload); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close drains the connection, flushing pending publishes.
func (s *BusSink) Close() error {
	return s.conn.Drain()
}
