package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockProvider is an in-memory Provider for tests and local development.
// Each method can be overridden per test via the corresponding Func
// field; the default behavior keeps payments in an internal map so the
// full open/query/refund cycle works without a gateway.
type MockProvider struct {
	OpenPaymentFunc   func(ctx context.Context, params OpenPaymentParams) (*Payment, error)
	QueryPaymentFunc  func(ctx context.Context, providerOrderID string) (*State, error)
	RefundPaymentFunc func(ctx context.Context, providerOrderID string, amountMinor int64) error

	mu       sync.Mutex
	payments map[string]*State
	calls    []string
}

// NewMockProvider creates a mock gateway with an empty payment map.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		payments: make(map[string]*State),
	}
}

func (m *MockProvider) OpenPayment(ctx context.Context, params OpenPaymentParams) (*Payment, error) {
	m.record("OpenPayment")
	if m.OpenPaymentFunc != nil {
		return m.OpenPaymentFunc(ctx, params)
	}

	id := uuid.NewString()
	m.mu.Lock()
	m.payments[id] = &State{Status: StatusCreated, AmountMinor: params.AmountMinor}
	m.mu.Unlock()

	return &Payment{
		ProviderOrderID: id,
		RedirectURL:     fmt.Sprintf("https://pay.example.test/%s", id),
	}, nil
}

func (m *MockProvider) QueryPayment(ctx context.Context, providerOrderID string) (*State, error) {
	m.record("QueryPayment")
	if m.QueryPaymentFunc != nil {
		return m.QueryPaymentFunc(ctx, providerOrderID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.payments[providerOrderID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	copied := *state
	return &copied, nil
}

func (m *MockProvider) RefundPayment(ctx context.Context, providerOrderID string, amountMinor int64) error {
	m.record("RefundPayment")
	if m.RefundPaymentFunc != nil {
		return m.RefundPaymentFunc(ctx, providerOrderID, amountMinor)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.payments[providerOrderID]
	if !ok {
		return ErrPaymentNotFound
	}
	if state.Status != StatusPaid {
		return Rejected("payment is not in a refundable state", "")
	}
	state.Status = StatusRefunded
	return nil
}

// SetStatus forces the stored state of a payment, simulating the
// customer completing or abandoning the hosted form.
func (m *MockProvider) SetStatus(providerOrderID string, status RemoteStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.payments[providerOrderID]; ok {
		state.Status = status
	} else {
		m.payments[providerOrderID] = &State{Status: status}
	}
}

// CallLog returns the methods invoked, in order.
func (m *MockProvider) CallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockProvider) record(method string) {
	m.mu.Lock()
	m.calls = append(m.calls, method)
	m.mu.Unlock()
}
