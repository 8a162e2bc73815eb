package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/vazaro/shop/internal/domain"
)

// sweepStore mimics the SQL stale-pending query: pending only, open
// payment only, last touched before the cutoff, oldest first, bounded.
type sweepStore struct {
	domain.OrderStore

	orders     []domain.Order
	lastCutoff time.Time
}

func (s *sweepStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int32) ([]domain.Order, error) {
	s.lastCutoff = cutoff

	var stale []domain.Order
	for _, order := range s.orders {
		if order.PaymentStatus != domain.PaymentStatusPending || order.PaymentID == "" {
			continue
		}
		if !order.UpdatedAt.Before(cutoff) {
			continue
		}
		stale = append(stale, order)
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	if int32(len(stale)) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

type sweepService struct {
	domain.OrderService

	mu       sync.Mutex
	verified []string
}

func (s *sweepService) VerifyPayment(ctx context.Context, orderNumber string) (*domain.PaymentVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified = append(s.verified, orderNumber)
	return &domain.PaymentVerification{
		OrderStatus:   domain.OrderStatusProcessing,
		PaymentStatus: domain.PaymentStatusPaid,
	}, nil
}

func (s *sweepService) verifiedNumbers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.verified...)
	sort.Strings(out)
	return out
}

func pendingOrder(number string, age time.Duration, paymentID string) domain.Order {
	return domain.Order{
		ID:            uuid.New(),
		OrderNumber:   number,
		PaymentID:     paymentID,
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusNew,
		UpdatedAt:     time.Now().Add(-age),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconcilerDefaults(t *testing.T) {
	r := NewReconciler(&sweepStore{}, &sweepService{}, Config{}, testLogger())

	assert.NotEmpty(t, r.config.WorkerID)
	assert.Equal(t, time.Minute, r.config.PollInterval)
	assert.Equal(t, 5, r.config.MaxConcurrency)
	assert.Equal(t, 10*time.Minute, r.config.MinAge)
	assert.Equal(t, int32(50), r.config.BatchSize)
}

func TestSweepVerifiesStalePendingOrders(t *testing.T) {
	store := &sweepStore{orders: []domain.Order{
		pendingOrder("ORD-20260829-0001", time.Hour, "pay-1"),
		pendingOrder("ORD-20260829-0002", 2*time.Hour, "pay-2"),
	}}
	svc := &sweepService{}
	r := NewReconciler(store, svc, Config{MinAge: 10 * time.Minute}, testLogger())

	r.sweep(context.Background())

	assert.Equal(t, []string{"ORD-20260829-0001", "ORD-20260829-0002"}, svc.verifiedNumbers())
	assert.WithinDuration(t, time.Now().Add(-10*time.Minute), store.lastCutoff, time.Minute)
}

func TestSweepSkipsFreshOrders(t *testing.T) {
	store := &sweepStore{orders: []domain.Order{
		pendingOrder("ORD-20260829-0001", time.Minute, "pay-1"),
		pendingOrder("ORD-20260829-0002", time.Hour, "pay-2"),
	}}
	svc := &sweepService{}
	r := NewReconciler(store, svc, Config{MinAge: 10 * time.Minute}, testLogger())

	r.sweep(context.Background())

	assert.Equal(t, []string{"ORD-20260829-0002"}, svc.verifiedNumbers())
}

func TestSweepSkipsOrdersWithoutPayment(t *testing.T) {
	store := &sweepStore{orders: []domain.Order{
		pendingOrder("ORD-20260829-0001", time.Hour, ""),
	}}
	svc := &sweepService{}
	r := NewReconciler(store, svc, Config{MinAge: 10 * time.Minute}, testLogger())

	r.sweep(context.Background())

	assert.Empty(t, svc.verifiedNumbers())
}

func TestSweepReachesStuckOrderUnderFreshLoad(t *testing.T) {
	// A burst of fresh pending orders larger than the batch must not
	// starve an hour-old stuck order: staleness is filtered and ordered
	// at the store, not after a newest-first page.
	orders := []domain.Order{
		pendingOrder("ORD-20260829-9999", time.Hour, "pay-stuck"),
	}
	for i := 0; i < 60; i++ {
		orders = append(orders, pendingOrder(
			fmt.Sprintf("ORD-20260829-%04d", i), time.Second, fmt.Sprintf("pay-%d", i)))
	}
	store := &sweepStore{orders: orders}
	svc := &sweepService{}
	r := NewReconciler(store, svc, Config{MinAge: 10 * time.Minute, BatchSize: 50}, testLogger())

	r.sweep(context.Background())

	assert.Equal(t, []string{"ORD-20260829-9999"}, svc.verifiedNumbers())
}

func TestSweepOldestFirstWithinBatch(t *testing.T) {
	store := &sweepStore{orders: []domain.Order{
		pendingOrder("ORD-20260829-0001", time.Hour, "pay-1"),
		pendingOrder("ORD-20260829-0002", 3*time.Hour, "pay-2"),
		pendingOrder("ORD-20260829-0003", 2*time.Hour, "pay-3"),
	}}
	svc := &sweepService{}
	r := NewReconciler(store, svc, Config{MinAge: 10 * time.Minute, BatchSize: 1}, testLogger())

	r.sweep(context.Background())

	// Only the oldest fits the batch; the rest wait for later sweeps.
	assert.Equal(t, []string{"ORD-20260829-0002"}, svc.verifiedNumbers())
}

func TestStartStopsOnContextCancel(t *testing.T) {
	r := NewReconciler(&sweepStore{}, &sweepService{}, Config{PollInterval: time.Hour}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop on cancel")
	}
}
