package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for business-level
// observability of the order and payment pipeline.
type BusinessMetrics struct {
	// Orders
	OrdersCreated  *prometheus.CounterVec
	OrderValue     *prometheus.HistogramVec
	OrderItemCount *prometheus.HistogramVec

	// Payments
	PaymentsOpened    *prometheus.CounterVec
	PaymentOpenFailed *prometheus.CounterVec
	PaymentSucceeded  *prometheus.CounterVec
	PaymentFailed     *prometheus.CounterVec

	// Reconciliation
	ReconcileAttempts *prometheus.CounterVec
	ReconcileApplied  *prometheus.CounterVec
	ReconcileRaceLost *prometheus.CounterVec

	// Webhooks
	WebhookReceived  *prometheus.CounterVec
	WebhookProcessed *prometheus.CounterVec
	WebhookFailed    *prometheus.CounterVec
	WebhookLatency   *prometheus.HistogramVec

	// Notifications
	NotificationSent   *prometheus.CounterVec
	NotificationFailed *prometheus.CounterVec

	// Revenue
	RevenueCollected *prometheus.CounterVec
	RefundsIssued    *prometheus.CounterVec

	// External gateway performance
	GatewayLatency *prometheus.HistogramVec
}

// NewBusinessMetrics creates and registers all business metrics.
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "shop"
	}

	subsystem := "business"

	return &BusinessMetrics{
		OrdersCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "orders_created_total",
				Help:      "Total orders created",
			},
			[]string{"shipping_method"},
		),
		OrderValue: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "order_value",
				Help:      "Order value distribution in major currency units",
				Buckets:   []float64{500, 1000, 2500, 5000, 10000, 25000, 50000, 100000},
			},
			[]string{"shipping_method"},
		),
		OrderItemCount: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "order_item_count",
				Help:      "Number of items per order",
				Buckets:   []float64{1, 2, 3, 5, 10, 15, 20},
			},
			[]string{},
		),
		PaymentsOpened: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payments_opened_total",
				Help:      "Total payments registered with the gateway",
			},
			[]string{"provider"},
		),
		PaymentOpenFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_open_failed_total",
				Help:      "Total failures to register a payment with the gateway",
			},
			[]string{"provider"},
		),
		PaymentSucceeded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_succeeded_total",
				Help:      "Total payments confirmed as paid",
			},
			[]string{"source"}, // source: poll, webhook, admin
		),
		PaymentFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_failed_total",
				Help:      "Total payments settled as failed",
			},
			[]string{"source"},
		),
		ReconcileAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reconcile_attempts_total",
				Help:      "Total reconciliation attempts against the gateway",
			},
			[]string{"source"},
		),
		ReconcileApplied: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reconcile_applied_total",
				Help:      "Total reconciliations that transitioned an order",
			},
			[]string{"source", "payment_status"},
		),
		ReconcileRaceLost: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reconcile_race_lost_total",
				Help:      "Total reconciliations that lost the transition race to a concurrent writer",
			},
			[]string{"source"},
		),
		WebhookReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Total gateway webhook deliveries received",
			},
			[]string{},
		),
		WebhookProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processed_total",
				Help:      "Total webhook deliveries processed successfully",
			},
			[]string{},
		),
		WebhookFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_failed_total",
				Help:      "Total webhook deliveries that failed processing",
			},
			[]string{"reason"},
		),
		WebhookLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_latency_seconds",
				Help:      "Webhook processing duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{},
		),
		NotificationSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "notification_sent_total",
				Help:      "Total notifications delivered",
			},
			[]string{"sink", "event"},
		),
		NotificationFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "notification_failed_total",
				Help:      "Total notification deliveries that failed",
			},
			[]string{"sink", "event"},
		),
		RevenueCollected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "revenue_collected_total",
				Help:      "Total confirmed revenue in major currency units",
			},
			[]string{},
		),
		RefundsIssued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "refunds_issued_total",
				Help:      "Total refunds issued",
			},
			[]string{},
		),
		GatewayLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "gateway_latency_seconds",
				Help:      "Payment gateway call duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// Business is the global business metrics instance. Nil until
// InitBusinessMetrics runs; callers guard on nil so tests and tools can
// skip metric registration entirely.
var Business *BusinessMetrics

// InitBusinessMetrics initializes the global business metrics instance.
func InitBusinessMetrics(namespace string) *BusinessMetrics {
	Business = NewBusinessMetrics(namespace)
	return Business
}
