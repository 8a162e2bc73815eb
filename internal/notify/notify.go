// Package notify delivers order lifecycle notifications. Delivery is
// fire and forget: a failed notification is logged and counted but never
// propagates into the request path or blocks an order state change.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vazaro/shop/internal/domain"
	"github.com/vazaro/shop/internal/telemetry"
)

// Event identifies an order lifecycle notification.
type Event string

const (
	EventOrderCreated     Event = "order_created"
	EventPaymentConfirmed Event = "payment_confirmed"
	EventOrderShipped     Event = "order_shipped"
	EventOrderDelivered   Event = "order_delivered"
	EventOrderRefunded    Event = "order_refunded"
)

// Sink delivers one kind of notification (email, telegram, message bus).
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Notify delivers the event. Implementations honor ctx cancellation.
	Notify(ctx context.Context, event Event, order *domain.Order) error
}

// Dispatcher fans an event out to all sinks, each on its own goroutine
// with a detached context so a slow SMTP server cannot hold an HTTP
// request open.
type Dispatcher struct {
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given sinks. A dispatcher
// with no sinks is valid and dispatches nothing.
func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sinks:   sinks,
		logger:  logger,
		timeout: 30 * time.Second,
	}
}

// Dispatch sends the event to every sink without waiting for delivery.
// The order is copied so sinks never observe later mutations.
func (d *Dispatcher) Dispatch(event Event, order *domain.Order) {
	if order == nil {
		return
	}
	snapshot := *order

	for _, sink := range d.sinks {
		d.wg.Add(1)
		go func(sink Sink) {
			defer d.wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()

			if err := sink.Notify(ctx, event, &snapshot); err != nil {
				d.logger.Error("notification delivery failed",
					"sink", sink.Name(),
					"event", string(event),
					"order_number", snapshot.OrderNumber,
					"error", err,
				)
				if telemetry.Business != nil {
					telemetry.Business.NotificationFailed.WithLabelValues(sink.Name(), string(event)).Inc()
				}
				return
			}

			d.logger.Info("notification delivered",
				"sink", sink.Name(),
				"event", string(event),
				"order_number", snapshot.OrderNumber,
			)
			if telemetry.Business != nil {
				telemetry.Business.NotificationSent.WithLabelValues(sink.Name(), string(event)).Inc()
			}
		}(sink)
	}
}

// Wait blocks until all in-flight deliveries finish. Called on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
