// Package worker runs the background reconciliation sweep.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vazaro/shop/internal/domain"
)

// Config holds reconciler configuration.
type Config struct {
	// WorkerID uniquely identifies this worker instance in logs.
	WorkerID string

	// PollInterval is how often to sweep for stale pending payments.
	PollInterval time.Duration

	// MaxConcurrency is the maximum number of orders verified at once.
	MaxConcurrency int

	// MinAge is how long an order must sit in pending before the sweep
	// picks it up. Fresh orders are left to the client poll and the
	// webhook; the sweep only catches the ones both paths missed.
	MinAge time.Duration

	// BatchSize caps how many orders one sweep verifies.
	BatchSize int32
}

// Reconciler periodically re-polls the gateway for orders stuck in
// pending. Webhooks get lost and customers close the status page, so
// without the sweep a completed payment could sit unrecognized until
// someone looked at it by hand. Verification goes through the same
// compare-and-set path as the other two triggers, so a sweep racing a
// webhook is harmless.
type Reconciler struct {
	config  Config
	store   domain.OrderStore
	service domain.OrderService
	logger  *slog.Logger
}

// NewReconciler creates a reconciliation sweeper.
func NewReconciler(store domain.OrderStore, service domain.OrderService, config Config, logger *slog.Logger) *Reconciler {
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("reconciler-%s", uuid.New().String()[:8])
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Minute
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 5
	}
	if config.MinAge == 0 {
		config.MinAge = 10 * time.Minute
	}
	if config.BatchSize == 0 {
		config.BatchSize = 50
	}

	return &Reconciler{
		config:  config,
		store:   store,
		service: service,
		logger:  logger,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (r *Reconciler) Start(ctx context.Context) error {
	r.logger.Info("reconciler starting",
		"worker_id", r.config.WorkerID,
		"poll_interval", r.config.PollInterval,
		"min_age", r.config.MinAge,
		"max_concurrency", r.config.MaxConcurrency,
	)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler shutting down", "worker_id", r.config.WorkerID)
			return ctx.Err()

		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep verifies one batch of stale pending orders. The store query is
// oldest first and already excludes fresh orders and orders with no open
// payment, so every returned order gets verified.
func (r *Reconciler) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.config.MinAge)
	orders, err := r.store.ListStalePending(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		r.logger.Error("reconciler sweep failed to list orders", "error", err)
		return
	}

	sem := make(chan struct{}, r.config.MaxConcurrency)

	var swept int
	for i := range orders {
		order := orders[i]
		swept++

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		go func() {
			defer func() { <-sem }()
			r.verify(ctx, order.OrderNumber)
		}()
	}

	// Drain so one sweep finishes before the next starts.
	for i := 0; i < cap(sem); i++ {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
	}

	if swept > 0 {
		r.logger.Info("reconciler sweep completed", "verified", swept)
	}
}

func (r *Reconciler) verify(ctx context.Context, orderNumber string) {
	verification, err := r.service.VerifyPayment(ctx, orderNumber)
	if err != nil {
		r.logger.Warn("reconciler verification failed",
			"order_number", orderNumber,
			"error", err,
		)
		return
	}

	if verification.PaymentStatus != domain.PaymentStatusPending {
		r.logger.Info("reconciler settled order",
			"order_number", orderNumber,
			"payment_status", verification.PaymentStatus,
			"order_status", verification.OrderStatus,
		)
	}
}
