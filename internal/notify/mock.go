package notify

import (
	"context"
	"sync"

	"github.com/vazaro/shop/internal/domain"
)

// Delivery is one recorded notification.
type Delivery struct {
	Event Event
	Order domain.Order
}

// RecordingSink captures deliveries for assertions in tests. NotifyFunc,
// when set, overrides the default recording behavior.
type RecordingSink struct {
	NotifyFunc func(ctx context.Context, event Event, order *domain.Order) error

	mu         sync.Mutex
	deliveries []Delivery
}

// NewRecordingSink creates an empty recording sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) Name() string { return "recording" }

func (s *RecordingSink) Notify(ctx context.Context, event Event, order *domain.Order) error {
	if s.NotifyFunc != nil {
		if err := s.NotifyFunc(ctx, event, order); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.deliveries = append(s.deliveries, Delivery{Event: event, Order: *order})
	s.mu.Unlock()
	return nil
}

// Deliveries returns a copy of everything recorded so far.
func (s *RecordingSink) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}

// CountByEvent returns how many deliveries were recorded for event.
func (s *RecordingSink) CountByEvent(event Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.deliveries {
		if d.Event == event {
			n++
		}
	}
	return n
}
