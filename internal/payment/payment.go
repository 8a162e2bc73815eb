package payment

import (
	"context"
	"encoding/json"
	"math"
)

// RemoteStatus is the gateway's canonical payment state, normalized into
// a closed set so the reconciliation engine never sees raw provider codes.
type RemoteStatus int

const (
	StatusUnknown RemoteStatus = iota
	StatusCreated
	StatusPreauth
	StatusPaid
	StatusCanceled
	StatusRefunded
	StatusRejected
)

// String returns the status name for logging.
func (s RemoteStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusPreauth:
		return "preauth"
	case StatusPaid:
		return "paid"
	case StatusCanceled:
		return "canceled"
	case StatusRefunded:
		return "refunded"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// OpenPaymentParams contains parameters for opening a payment.
// Amounts cross the provider boundary in minor currency units.
type OpenPaymentParams struct {
	// AmountMinor is the charge amount in minor units (kopeks, cents).
	AmountMinor int64

	// OrderNumber is the business order number, shown on the payment page
	// and echoed back in gateway reports.
	OrderNumber string

	// Description appears on the payment form.
	Description string

	// ReturnURL is where the customer lands after completing payment.
	ReturnURL string

	// CustomerEmail is passed through for gateway receipts when supported.
	CustomerEmail string
}

// Payment is an opened payment attempt.
type Payment struct {
	// ProviderOrderID is the gateway's opaque reference to this payment.
	ProviderOrderID string

	// RedirectURL is the hosted payment form the customer is sent to.
	RedirectURL string
}

// State is the gateway-reported state of a payment.
type State struct {
	Status      RemoteStatus
	AmountMinor int64

	// Raw is the provider's response body, kept for diagnostics.
	Raw json.RawMessage
}

// Provider normalizes one payment gateway behind a provider-agnostic
// contract. Exactly one provider is active per deployment; the
// reconciliation engine receives it by injection and never touches a
// package-level client.
type Provider interface {
	// OpenPayment registers a payment with the gateway and returns the
	// provider's payment id plus the redirect URL for the customer.
	OpenPayment(ctx context.Context, params OpenPaymentParams) (*Payment, error)

	// QueryPayment fetches the canonical state of a payment. This is the
	// only trustworthy source of payment truth; webhook payloads are
	// advisory.
	QueryPayment(ctx context.Context, providerOrderID string) (*State, error)

	// RefundPayment refunds a completed payment. amountMinor == 0
	// requests a full refund.
	RefundPayment(ctx context.Context, providerOrderID string, amountMinor int64) error
}

// MinorUnits converts a decimal amount to minor currency units, rounding
// to the nearest unit. All provider calls take integers to avoid
// floating-point drift on the wire.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// MajorUnits converts minor units back to a decimal amount.
func MajorUnits(minor int64) float64 {
	return float64(minor) / 100
}
